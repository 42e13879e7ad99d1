package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// bindQuizKind reads the `kind` query param (quiz by default).
func bindQuizKind(ctx echo.Context) (training.QuizKind, error) {
	raw := ctx.QueryParam("kind")
	if raw == "" {
		return training.KindQuiz, nil
	}
	kind, ok := training.ParseQuizKind(raw)
	if !ok {
		return "", core.NewValidationError(nil, core.FieldError{Field: "kind", Error: "unknown quiz kind"})
	}
	return kind, nil
}
