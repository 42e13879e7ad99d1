package main

import (
	"context"
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/trezcool/academy/core/training"
)

// seedExercise is one entry of the seed file.
type seedExercise struct {
	training.NewExercise
	Questions []training.NewQuizQuestion `json:"questions"`
}

// seedExercises validates every entry of the JSON file before creating any exercise.
func (cli *commandLine) seedExercises(path string) (int, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "reading seed file")
	}
	var seeds []seedExercise
	if err = json.Unmarshal(data, &seeds); err != nil {
		return 0, errors.Wrap(err, "decoding seed file")
	}

	orders := make(map[int]int, len(seeds))
	for i := range seeds {
		if err = seeds[i].Validate(cli.validate); err != nil {
			return 0, errors.Wrapf(err, "exercise #%d", i)
		}
		if prev, ok := orders[seeds[i].OrderIndex]; ok {
			return 0, errors.Errorf("exercise #%d: order_index %d already used by exercise #%d", i, seeds[i].OrderIndex, prev)
		}
		orders[seeds[i].OrderIndex] = i
		for j := range seeds[i].Questions {
			if err = seeds[i].Questions[j].Validate(cli.validate); err != nil {
				return 0, errors.Wrapf(err, "exercise #%d: question #%d", i, j)
			}
		}
	}

	ctx := context.Background()
	for i, seed := range seeds {
		ex, err := cli.trainingSvc.CreateExercise(ctx, seed.NewExercise)
		if err != nil {
			return i, errors.Wrapf(err, "creating exercise #%d", i)
		}
		for j, q := range seed.Questions {
			if _, err = cli.trainingSvc.AddQuestion(ctx, ex.ID, q); err != nil {
				return i, errors.Wrapf(err, "exercise #%d: creating question #%d", i, j)
			}
		}
	}
	return len(seeds), nil
}
