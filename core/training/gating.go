package training

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FullAccessKeywords grant a role access to every exercise and part when found anywhere in it.
var FullAccessKeywords = []string{"admin", "leader", "trưởng phòng"}

type (
	// ProgressLookup returns the user's progress on an exercise, if any.
	ProgressLookup func(exerciseID string) (Progress, bool)

	// ReviewCountLookup returns the number of review videos the user submitted for an exercise.
	ReviewCountLookup func(exerciseID string) int
)

// ProgressIndex builds a ProgressLookup from a progress snapshot.
func ProgressIndex(records []Progress) ProgressLookup {
	idx := make(map[string]Progress, len(records))
	for _, p := range records {
		idx[p.ExerciseID] = p
	}
	return func(exerciseID string) (Progress, bool) {
		p, ok := idx[exerciseID]
		return p, ok
	}
}

// CountIndex builds a ReviewCountLookup from per-exercise counts.
func CountIndex(counts map[string]int) ReviewCountLookup {
	return func(exerciseID string) int { return counts[exerciseID] }
}

// HasFullAccess reports whether role contains one of FullAccessKeywords (case-insensitive).
func HasFullAccess(role string) bool {
	r := strings.ToLower(norm.NFC.String(strings.TrimSpace(role)))
	if r == "" {
		return false
	}
	for _, kw := range FullAccessKeywords {
		if strings.Contains(r, norm.NFC.String(kw)) {
			return true
		}
	}
	return false
}

// PartStatus is the unlock state of each part of an exercise.
type PartStatus struct {
	Video        bool `json:"video"`
	Quiz         bool `json:"quiz"`
	Practice     bool `json:"practice"`
	PracticeTest bool `json:"practice_test"`
}

func (ps PartStatus) Unlocked(part Part) bool {
	switch part {
	case PartVideo:
		return ps.Video
	case PartQuiz:
		return ps.Quiz
	case PartPractice:
		return ps.Practice
	case PartPracticeTest:
		return ps.PracticeTest
	}
	return false
}

// ExerciseStatus is the gate's view of one exercise.
type ExerciseStatus struct {
	ExerciseID            string     `json:"exercise_id"`
	Index                 int        `json:"index"`
	Unlocked              bool       `json:"unlocked"`
	Parts                 PartStatus `json:"parts"`
	PracticeCompleted     bool       `json:"practice_completed"`
	PracticeTestCompleted bool       `json:"practice_test_completed"`
	CanComplete           bool       `json:"can_complete"`
	VideoCompleted        bool       `json:"video_completed"`
	Completed             bool       `json:"completed"`
	ReviewCount           int        `json:"review_count"`
}

// Gate is the result of a gating evaluation. It is immutable.
type Gate struct {
	fullAccess bool
	exercises  []Exercise
	statuses   []ExerciseStatus
	byID       map[string]int
}

// Evaluate computes the unlock and completion state of every exercise for a user.
// It is a pure, total recomputation: unlocking depends on the whole ordered prefix.
func Evaluate(exercises []Exercise, progress ProgressLookup, reviews ReviewCountLookup, role string) Gate {
	if progress == nil {
		progress = func(string) (Progress, bool) { return Progress{}, false }
	}
	if reviews == nil {
		reviews = func(string) int { return 0 }
	}

	sorted := make([]Exercise, len(exercises))
	copy(sorted, exercises)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	g := Gate{
		fullAccess: HasFullAccess(role),
		exercises:  sorted,
		statuses:   make([]ExerciseStatus, len(sorted)),
		byID:       make(map[string]int, len(sorted)),
	}

	prevCleared := true // index 0 is always unlocked
	for i, ex := range sorted {
		g.byID[ex.ID] = i
		p, _ := progress(ex.ID)
		count := reviews(ex.ID)

		st := ExerciseStatus{
			ExerciseID:     ex.ID,
			Index:          i,
			VideoCompleted: p.VideoCompleted,
			Completed:      p.IsCompleted,
			ReviewCount:    count,
		}
		st.PracticeCompleted = count >= ex.MinReviewVideos
		st.PracticeTestCompleted = !ex.RequirePracticeTest || p.PracticeTestPassed

		videoOK := !ex.HasVideo() || p.VideoCompleted
		if g.fullAccess {
			st.Unlocked = true
			st.Parts = PartStatus{Video: true, Quiz: true, Practice: true, PracticeTest: true}
		} else {
			st.Unlocked = prevCleared
			if st.Unlocked {
				st.Parts = PartStatus{
					Video:        true,
					Quiz:         videoOK && p.RecapSubmitted,
					Practice:     p.QuizPassed,
					PracticeTest: p.QuizPassed,
				}
			}
		}
		st.CanComplete = st.Unlocked && videoOK && p.RecapSubmitted && p.QuizPassed &&
			st.PracticeCompleted && st.PracticeTestCompleted

		g.statuses[i] = st
		// a locked exercise keeps every later one locked, whatever their records say
		prevCleared = st.Unlocked && p.QuizPassed
	}
	return g
}

func (g Gate) status(exerciseID string) (ExerciseStatus, bool) {
	i, ok := g.byID[exerciseID]
	if !ok {
		return ExerciseStatus{}, false
	}
	return g.statuses[i], true
}

// FullAccess reports whether the evaluated role bypasses all gating.
func (g Gate) FullAccess() bool { return g.fullAccess }

// Exercises returns the exercises sorted by OrderIndex.
func (g Gate) Exercises() []Exercise {
	exercises := make([]Exercise, len(g.exercises))
	copy(exercises, g.exercises)
	return exercises
}

// Exercise returns the exercise with the given ID.
func (g Gate) Exercise(exerciseID string) (Exercise, bool) {
	i, ok := g.byID[exerciseID]
	if !ok {
		return Exercise{}, false
	}
	return g.exercises[i], true
}

// IsExerciseUnlocked is false for unknown exercises.
func (g Gate) IsExerciseUnlocked(exerciseID string) bool {
	st, ok := g.status(exerciseID)
	return ok && st.Unlocked
}

// IsPartUnlocked is false for unknown exercises and parts.
func (g Gate) IsPartUnlocked(exerciseID string, part Part) bool {
	st, ok := g.status(exerciseID)
	return ok && st.Unlocked && st.Parts.Unlocked(part)
}

func (g Gate) PracticeCompleted(exerciseID string) bool {
	st, ok := g.status(exerciseID)
	return ok && st.PracticeCompleted
}

func (g Gate) PracticeTestCompleted(exerciseID string) bool {
	st, ok := g.status(exerciseID)
	return ok && st.PracticeTestCompleted
}

// CanCompleteExercise reports completion eligibility. It never implies completion.
func (g Gate) CanCompleteExercise(exerciseID string) bool {
	st, ok := g.status(exerciseID)
	return ok && st.CanComplete
}

func (g Gate) Status(exerciseID string) (ExerciseStatus, bool) {
	return g.status(exerciseID)
}

func (g Gate) Statuses() []ExerciseStatus {
	statuses := make([]ExerciseStatus, len(g.statuses))
	copy(statuses, g.statuses)
	return statuses
}

// FirstSelectable returns the first unlocked exercise not yet completed, else the first exercise.
// ok is false when the catalog is empty.
func (g Gate) FirstSelectable() (string, bool) {
	if len(g.statuses) == 0 {
		return "", false
	}
	for _, st := range g.statuses {
		if st.Unlocked && !st.Completed {
			return st.ExerciseID, true
		}
	}
	return g.statuses[0].ExerciseID, true
}
