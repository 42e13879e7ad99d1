package training

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercises(n int) []Exercise {
	exs := make([]Exercise, 0, n)
	for i := 0; i < n; i++ {
		exs = append(exs, Exercise{
			ID:         fmt.Sprintf("ex%d", i),
			OrderIndex: i,
			VideoURL:   "https://videos.test/" + fmt.Sprint(i),
		})
	}
	return exs
}

func TestHasFullAccess(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{role: "admin", want: true},
		{role: "  Admin  ", want: true},
		{role: "ADMINISTRATOR", want: true},
		{role: "team leader", want: true},
		{role: "Leader", want: true},
		{role: "trưởng phòng", want: true},
		{role: "Trưởng Phòng kinh doanh", want: true},
		{role: "TRƯỞNG PHÒNG", want: true},
		{role: "tru\u031bo\u031b\u0309ng pho\u0300ng", want: true}, // decomposed
		{role: "chuyên viên", want: false},
		{role: "học việc", want: false},
		{role: "thử việc", want: false},
		{role: "", want: false},
		{role: "   ", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, HasFullAccess(tt.role))
		})
	}
}

func TestEvaluate_monotonicUnlock(t *testing.T) {
	exs := exercises(6)
	// every combination of quiz_passed over 6 exercises
	for mask := 0; mask < 1<<len(exs); mask++ {
		records := make([]Progress, 0)
		for i, ex := range exs {
			records = append(records, Progress{ExerciseID: ex.ID, QuizPassed: mask&(1<<i) != 0})
		}
		gate := Evaluate(exs, ProgressIndex(records), nil, "chuyên viên")
		for i := 0; i < len(exs)-1; i++ {
			if !gate.IsExerciseUnlocked(exs[i].ID) {
				assert.False(t, gate.IsExerciseUnlocked(exs[i+1].ID), "mask %b: ex%d locked but ex%d unlocked", mask, i, i+1)
			}
		}
		assert.True(t, gate.IsExerciseUnlocked(exs[0].ID))
	}
}

func TestEvaluate_lockedPredecessorKeepsLaterLocked(t *testing.T) {
	// E1 was passed under a bypass role, then the user lost it
	exs := exercises(3)
	records := []Progress{
		{ExerciseID: exs[1].ID, QuizPassed: true, RecapSubmitted: true, VideoCompleted: true},
	}
	gate := Evaluate(exs, ProgressIndex(records), nil, "thử việc")
	assert.True(t, gate.IsExerciseUnlocked(exs[0].ID))
	assert.False(t, gate.IsExerciseUnlocked(exs[1].ID))
	assert.False(t, gate.IsExerciseUnlocked(exs[2].ID))
	assert.False(t, gate.IsPartUnlocked(exs[2].ID, PartVideo))
}

func TestEvaluate_fullAccessBypass(t *testing.T) {
	exs := exercises(3)
	exs[1].MinReviewVideos = 5
	for _, role := range []string{"admin", "Super ADMIN", "leader", "phó trưởng phòng"} {
		t.Run(role, func(t *testing.T) {
			gate := Evaluate(exs, nil, nil, role)
			assert.True(t, gate.FullAccess())
			for _, ex := range exs {
				assert.True(t, gate.IsExerciseUnlocked(ex.ID))
				for _, part := range AllParts {
					assert.True(t, gate.IsPartUnlocked(ex.ID, part), "%s %s", ex.ID, part)
				}
			}
		})
	}
}

func TestEvaluate_quizGatedSequencing(t *testing.T) {
	exs := exercises(2)
	a, b := exs[0].ID, exs[1].ID
	records := []Progress{{ExerciseID: a, VideoCompleted: true, RecapSubmitted: true, IsCompleted: false}}

	gate := Evaluate(exs, ProgressIndex(records), nil, "học việc")
	assert.True(t, gate.IsExerciseUnlocked(a))
	assert.False(t, gate.IsExerciseUnlocked(b))
	for _, part := range AllParts {
		assert.False(t, gate.IsPartUnlocked(b, part))
	}

	records[0].QuizPassed = true
	gate = Evaluate(exs, ProgressIndex(records), nil, "học việc")
	assert.True(t, gate.IsExerciseUnlocked(b))
	assert.True(t, gate.IsPartUnlocked(b, PartVideo))
}

func TestEvaluate_completionIsNotTheSequencingGate(t *testing.T) {
	exs := exercises(2)
	records := []Progress{{ExerciseID: exs[0].ID, IsCompleted: true}}
	gate := Evaluate(exs, ProgressIndex(records), nil, "chuyên viên")
	assert.False(t, gate.IsExerciseUnlocked(exs[1].ID))
}

func TestEvaluate_recapGatedQuiz(t *testing.T) {
	withVideo := Exercise{ID: "v", OrderIndex: 0, VideoURL: "https://videos.test/v"}
	noVideo := Exercise{ID: "n", OrderIndex: 0}

	tests := []struct {
		name     string
		ex       Exercise
		progress Progress
		want     bool
	}{
		{name: "video: nothing", ex: withVideo, want: false},
		{name: "video: watched only", ex: withVideo, progress: Progress{VideoCompleted: true}, want: false},
		{name: "video: recap only", ex: withVideo, progress: Progress{RecapSubmitted: true}, want: false},
		{name: "video: watched and recap", ex: withVideo, progress: Progress{VideoCompleted: true, RecapSubmitted: true}, want: true},
		{name: "no video: nothing", ex: noVideo, want: false},
		{name: "no video: recap", ex: noVideo, progress: Progress{RecapSubmitted: true}, want: true},
		{name: "blank video url: recap", ex: Exercise{ID: "b", VideoURL: "  "}, progress: Progress{RecapSubmitted: true}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.progress.ExerciseID = tt.ex.ID
			gate := Evaluate([]Exercise{tt.ex}, ProgressIndex([]Progress{tt.progress}), nil, "chuyên viên")
			assert.Equal(t, tt.want, gate.IsPartUnlocked(tt.ex.ID, PartQuiz))
			assert.True(t, gate.IsPartUnlocked(tt.ex.ID, PartVideo))
		})
	}
}

func TestEvaluate_practiceCompleted(t *testing.T) {
	ex := Exercise{ID: "e", MinReviewVideos: 2}
	counts := map[string]int{}
	want := []bool{false, false, true, true, true}
	for n, w := range want {
		counts["e"] = n
		gate := Evaluate([]Exercise{ex}, nil, CountIndex(counts), "chuyên viên")
		assert.Equal(t, w, gate.PracticeCompleted("e"), "%d submissions", n)
	}

	zero := Exercise{ID: "z"}
	assert.True(t, Evaluate([]Exercise{zero}, nil, nil, "").PracticeCompleted("z"))
}

func TestEvaluate_completionRequiresQuiz(t *testing.T) {
	exs := []Exercise{
		{ID: "v", OrderIndex: 0, VideoURL: "https://videos.test/v", MinReviewVideos: 1},
		{ID: "n", OrderIndex: 1},
		{ID: "p", OrderIndex: 2, RequirePracticeTest: true},
	}
	bools := []bool{false, true}
	for _, role := range []string{"chuyên viên", "admin"} {
		for _, vc := range bools {
			for _, rs := range bools {
				for _, qp := range bools {
					for _, ptp := range bools {
						for _, reviews := range []int{0, 1} {
							records := make([]Progress, 0, len(exs))
							counts := make(map[string]int)
							for _, ex := range exs {
								records = append(records, Progress{ExerciseID: ex.ID, VideoCompleted: vc, RecapSubmitted: rs, QuizPassed: qp, PracticeTestPassed: ptp})
								counts[ex.ID] = reviews
							}
							gate := Evaluate(exs, ProgressIndex(records), CountIndex(counts), role)
							for _, ex := range exs {
								if gate.CanCompleteExercise(ex.ID) {
									assert.True(t, qp, "%s completable without quiz", ex.ID)
									assert.True(t, rs, "%s completable without recap", ex.ID)
								}
							}
						}
					}
				}
			}
		}
	}
}

func TestEvaluate_practiceTestStage(t *testing.T) {
	ex := Exercise{ID: "e", RequirePracticeTest: true}
	p := Progress{ExerciseID: "e", RecapSubmitted: true, QuizPassed: true}

	gate := Evaluate([]Exercise{ex}, ProgressIndex([]Progress{p}), nil, "chuyên viên")
	assert.True(t, gate.IsPartUnlocked("e", PartPracticeTest))
	assert.False(t, gate.PracticeTestCompleted("e"))
	assert.False(t, gate.CanCompleteExercise("e"))

	p.PracticeTestPassed = true
	gate = Evaluate([]Exercise{ex}, ProgressIndex([]Progress{p}), nil, "chuyên viên")
	assert.True(t, gate.CanCompleteExercise("e"))

	ex.RequirePracticeTest = false
	p.PracticeTestPassed = false
	gate = Evaluate([]Exercise{ex}, ProgressIndex([]Progress{p}), nil, "chuyên viên")
	assert.True(t, gate.PracticeTestCompleted("e"))
	assert.True(t, gate.CanCompleteExercise("e"))
}

func TestEvaluate_scenario(t *testing.T) {
	exs := []Exercise{
		{ID: "E1", OrderIndex: 1, VideoURL: "https://videos.test/1", MinReviewVideos: 0},
		{ID: "E0", OrderIndex: 0, VideoURL: "https://videos.test/0", MinReviewVideos: 2},
	}
	role := "chuyên viên"
	e0 := Progress{ExerciseID: "E0"}
	counts := map[string]int{}
	eval := func() Gate { return Evaluate(exs, ProgressIndex([]Progress{e0}), CountIndex(counts), role) }

	gate := eval()
	require.Len(t, gate.Exercises(), 2)
	assert.Equal(t, "E0", gate.Exercises()[0].ID)
	assert.True(t, gate.IsExerciseUnlocked("E0"))
	assert.True(t, gate.IsPartUnlocked("E0", PartVideo))
	assert.False(t, gate.IsPartUnlocked("E0", PartQuiz))
	assert.False(t, gate.IsExerciseUnlocked("E1"))
	for _, part := range AllParts {
		assert.False(t, gate.IsPartUnlocked("E1", part))
	}

	e0.VideoCompleted, e0.RecapSubmitted = true, true
	gate = eval()
	assert.True(t, gate.IsPartUnlocked("E0", PartQuiz))
	assert.False(t, gate.IsPartUnlocked("E0", PartPractice))
	assert.False(t, gate.IsExerciseUnlocked("E1"))

	e0.QuizPassed = true
	gate = eval()
	assert.True(t, gate.IsPartUnlocked("E0", PartPractice))
	assert.True(t, gate.IsPartUnlocked("E0", PartPracticeTest))
	assert.True(t, gate.IsExerciseUnlocked("E1"))
	assert.False(t, gate.CanCompleteExercise("E0"))

	counts["E0"] = 1
	assert.False(t, eval().CanCompleteExercise("E0"))
	counts["E0"] = 2
	assert.True(t, eval().CanCompleteExercise("E0"))
}

func TestEvaluate_edgeCases(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		gate := Evaluate(nil, nil, nil, "chuyên viên")
		assert.Empty(t, gate.Exercises())
		assert.Empty(t, gate.Statuses())
		_, ok := gate.FirstSelectable()
		assert.False(t, ok)
	})

	t.Run("unknown exercise", func(t *testing.T) {
		gate := Evaluate(exercises(1), nil, nil, "admin")
		assert.False(t, gate.IsExerciseUnlocked("nope"))
		assert.False(t, gate.IsPartUnlocked("nope", PartVideo))
		assert.False(t, gate.CanCompleteExercise("nope"))
		_, ok := gate.Status("nope")
		assert.False(t, ok)
	})

	t.Run("unknown part", func(t *testing.T) {
		gate := Evaluate(exercises(1), nil, nil, "admin")
		assert.False(t, gate.IsPartUnlocked("ex0", Part("essay")))
	})

	t.Run("input not mutated", func(t *testing.T) {
		exs := []Exercise{{ID: "b", OrderIndex: 2}, {ID: "a", OrderIndex: 1}}
		Evaluate(exs, nil, nil, "")
		assert.Equal(t, "b", exs[0].ID)
	})
}

func TestGate_FirstSelectable(t *testing.T) {
	exs := exercises(3)
	tests := []struct {
		name    string
		records []Progress
		want    string
	}{
		{name: "fresh", want: "ex0"},
		{name: "first completed", records: []Progress{{ExerciseID: "ex0", QuizPassed: true, IsCompleted: true}}, want: "ex1"},
		{name: "first passed but not completed", records: []Progress{{ExerciseID: "ex0", QuizPassed: true}}, want: "ex0"},
		{
			name: "all completed",
			records: []Progress{
				{ExerciseID: "ex0", QuizPassed: true, IsCompleted: true},
				{ExerciseID: "ex1", QuizPassed: true, IsCompleted: true},
				{ExerciseID: "ex2", QuizPassed: true, IsCompleted: true},
			},
			want: "ex0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := Evaluate(exs, ProgressIndex(tt.records), nil, "học việc").FirstSelectable()
			assert.True(t, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestProgressPatch_Apply(t *testing.T) {
	f := false
	pos := func(v float64) *float64 { return &v }

	p := ProgressPatch{VideoCompleted: boolPtr(true), AddTimeSpent: 5}.Apply(Progress{})
	p = ProgressPatch{VideoCompleted: boolPtr(true), AddTimeSpent: 5}.Apply(p)
	assert.True(t, p.VideoCompleted)
	assert.Equal(t, 10, p.TimeSpent)

	p = ProgressPatch{VideoCompleted: &f, AddTimeSpent: -3}.Apply(p)
	assert.True(t, p.VideoCompleted, "flags are sticky")
	assert.Equal(t, 10, p.TimeSpent, "time spent never decreases")

	p = ProgressPatch{VideoPosition: pos(30)}.Apply(p)
	p = ProgressPatch{VideoPosition: pos(12)}.Apply(p)
	assert.Equal(t, 30.0, p.VideoPosition)

	assert.True(t, ProgressPatch{AddTimeSpent: 0}.IsEmpty())
	assert.False(t, ProgressPatch{QuizPassed: &f}.IsEmpty())
}

func TestParsePart(t *testing.T) {
	for _, part := range AllParts {
		got, ok := ParsePart(" " + string(part) + " ")
		assert.True(t, ok)
		assert.Equal(t, part, got)
	}
	_, ok := ParsePart("essay")
	assert.False(t, ok)
}
