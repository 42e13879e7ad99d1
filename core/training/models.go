package training

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academy/core"
)

// Part is one of the gated activities of an Exercise.
type Part string

const (
	PartVideo        Part = "video"
	PartQuiz         Part = "quiz"
	PartPractice     Part = "practice"
	PartPracticeTest Part = "practice_test"
)

var AllParts = []Part{PartVideo, PartQuiz, PartPractice, PartPracticeTest}

// ParsePart returns the Part named s (case-insensitive).
func ParsePart(s string) (Part, bool) {
	p := Part(strings.ToLower(strings.TrimSpace(s)))
	for _, part := range AllParts {
		if p == part {
			return p, true
		}
	}
	return "", false
}

func (p Part) IsVideo() bool { return p == PartVideo }

// QuizKind tells which gate a question set guards.
type QuizKind string

const (
	KindQuiz         QuizKind = "quiz"
	KindPracticeTest QuizKind = "practice_test"
)

func (k QuizKind) Part() Part {
	if k == KindPracticeTest {
		return PartPracticeTest
	}
	return PartQuiz
}

// ParseQuizKind defaults to KindQuiz.
func ParseQuizKind(s string) (QuizKind, bool) {
	switch QuizKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindQuiz:
		return KindQuiz, true
	case KindPracticeTest:
		return KindPracticeTest, true
	}
	return "", false
}

// Exercise is one ordered stage of the curriculum.
type Exercise struct {
	ID                  string    `json:"id" db:"id"`
	Title               string    `json:"title" db:"title"`
	Description         string    `json:"description" db:"description"`
	OrderIndex          int       `json:"order_index" db:"order_index"`
	VideoURL            string    `json:"video_url" db:"video_url"`
	MinReviewVideos     int       `json:"min_review_videos" db:"min_review_videos"`
	RequirePracticeTest bool      `json:"require_practice_test" db:"require_practice_test"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

func (e Exercise) HasVideo() bool { return strings.TrimSpace(e.VideoURL) != "" }

// Progress is one user's state for one exercise.
// is_completed implies quiz_passed.
type Progress struct {
	UserID             string    `json:"user_id" db:"user_id"`
	ExerciseID         string    `json:"exercise_id" db:"exercise_id"`
	VideoCompleted     bool      `json:"video_completed" db:"video_completed"`
	RecapSubmitted     bool      `json:"recap_submitted" db:"recap_submitted"`
	QuizPassed         bool      `json:"quiz_passed" db:"quiz_passed"`
	PracticeTestPassed bool      `json:"practice_test_passed" db:"practice_test_passed"`
	IsCompleted        bool      `json:"is_completed" db:"is_completed"`
	TimeSpent          int       `json:"time_spent" db:"time_spent"` // seconds
	Recap              string    `json:"recap" db:"recap"`
	QuizScore          int       `json:"quiz_score" db:"quiz_score"`
	VideoPosition      float64   `json:"video_position" db:"video_position"` // seconds
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// ProgressPatch is a partial Progress update.
// Flags are sticky: a patch can set them but never clear them.
type ProgressPatch struct {
	VideoCompleted     *bool
	RecapSubmitted     *bool
	QuizPassed         *bool
	PracticeTestPassed *bool
	IsCompleted        *bool
	AddTimeSpent       int
	Recap              *string
	QuizScore          *int
	VideoPosition      *float64
}

func boolPtr(b bool) *bool { return &b }

// Apply merges the patch into p. Applying the same flag patch twice yields the same record.
func (patch ProgressPatch) Apply(p Progress) Progress {
	sticky := func(cur bool, v *bool) bool { return cur || (v != nil && *v) }

	p.VideoCompleted = sticky(p.VideoCompleted, patch.VideoCompleted)
	p.RecapSubmitted = sticky(p.RecapSubmitted, patch.RecapSubmitted)
	p.QuizPassed = sticky(p.QuizPassed, patch.QuizPassed)
	p.PracticeTestPassed = sticky(p.PracticeTestPassed, patch.PracticeTestPassed)
	p.IsCompleted = sticky(p.IsCompleted, patch.IsCompleted)
	if patch.AddTimeSpent > 0 {
		p.TimeSpent += patch.AddTimeSpent
	}
	if patch.Recap != nil {
		p.Recap = *patch.Recap
	}
	if patch.QuizScore != nil {
		p.QuizScore = *patch.QuizScore
	}
	if patch.VideoPosition != nil && *patch.VideoPosition > p.VideoPosition {
		p.VideoPosition = *patch.VideoPosition
	}
	return p
}

func (patch ProgressPatch) IsEmpty() bool {
	return patch.VideoCompleted == nil && patch.RecapSubmitted == nil && patch.QuizPassed == nil &&
		patch.PracticeTestPassed == nil && patch.IsCompleted == nil && patch.AddTimeSpent <= 0 &&
		patch.Recap == nil && patch.QuizScore == nil && patch.VideoPosition == nil
}

// ReviewSubmission is one practice video submitted by a user against an exercise.
type ReviewSubmission struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	ExerciseID string    `json:"exercise_id" db:"exercise_id"`
	VideoURL   string    `json:"video_url" db:"video_url"`
	Note       string    `json:"note" db:"note"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type QuizQuestion struct {
	ID            string   `json:"id"`
	ExerciseID    string   `json:"exercise_id"`
	Kind          QuizKind `json:"kind"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	OrderIndex    int      `json:"order_index"`
}

type QuizAttempt struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ExerciseID string    `json:"exercise_id"`
	Kind       QuizKind  `json:"kind"`
	Answers    []int     `json:"answers"`
	Score      int       `json:"score"` // percent
	Passed     bool      `json:"passed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Inputs

type NewExercise struct {
	Title               string `json:"title" validate:"required,notblank"`
	Description         string `json:"description"`
	OrderIndex          int    `json:"order_index" validate:"gte=0"`
	VideoURL            string `json:"video_url" validate:"omitempty,url"`
	MinReviewVideos     int    `json:"min_review_videos" validate:"gte=0"`
	RequirePracticeTest bool   `json:"require_practice_test"`
}

func (ne *NewExercise) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.VideoURL = core.CleanString(ne.VideoURL)
	return validate.Struct(ne)
}

type UpdateExercise struct {
	Title               *string `json:"title" validate:"omitempty,notblank"`
	Description         *string `json:"description"`
	OrderIndex          *int    `json:"order_index" validate:"omitempty,gte=0"`
	VideoURL            *string `json:"video_url" validate:"omitempty,url"`
	MinReviewVideos     *int    `json:"min_review_videos" validate:"omitempty,gte=0"`
	RequirePracticeTest *bool   `json:"require_practice_test"`
}

func (ue *UpdateExercise) Validate(validate *validator.Validate) error {
	for _, s := range []*string{ue.Title, ue.Description, ue.VideoURL} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	// an empty video_url clears the video
	if ue.VideoURL != nil && *ue.VideoURL == "" {
		vurl := ue.VideoURL
		ue.VideoURL = nil
		err := validate.Struct(ue)
		ue.VideoURL = vurl
		return err
	}
	return validate.Struct(ue)
}

func (ue UpdateExercise) Apply(e Exercise) Exercise {
	if ue.Title != nil {
		e.Title = *ue.Title
	}
	if ue.Description != nil {
		e.Description = *ue.Description
	}
	if ue.OrderIndex != nil {
		e.OrderIndex = *ue.OrderIndex
	}
	if ue.VideoURL != nil {
		e.VideoURL = *ue.VideoURL
	}
	if ue.MinReviewVideos != nil {
		e.MinReviewVideos = *ue.MinReviewVideos
	}
	if ue.RequirePracticeTest != nil {
		e.RequirePracticeTest = *ue.RequirePracticeTest
	}
	return e
}

type RecapInput struct {
	Recap string `json:"recap" validate:"required,notblank,recaplen"`
}

func (ri *RecapInput) Validate(validate *validator.Validate) error {
	ri.Recap = core.CleanString(ri.Recap)
	return validate.Struct(ri)
}

type ReviewInput struct {
	VideoURL string `json:"video_url" validate:"required,url"`
	Note     string `json:"note" validate:"max=2000"`
}

func (ri *ReviewInput) Validate(validate *validator.Validate) error {
	ri.VideoURL = core.CleanString(ri.VideoURL)
	ri.Note = core.CleanString(ri.Note)
	return validate.Struct(ri)
}

type QuizSubmission struct {
	Kind    QuizKind `json:"kind" validate:"omitempty,oneof=quiz practice_test"`
	Answers []int    `json:"answers" validate:"required,dive,gte=-1"` // -1: unanswered
}

func (qs *QuizSubmission) Validate(validate *validator.Validate) error {
	if qs.Kind == "" {
		qs.Kind = KindQuiz
	}
	return validate.Struct(qs)
}

type NewQuizQuestion struct {
	Kind          QuizKind `json:"kind" validate:"omitempty,oneof=quiz practice_test"`
	Prompt        string   `json:"prompt" validate:"required,notblank"`
	Options       []string `json:"options" validate:"required,min=2,dive,required"`
	CorrectOption int      `json:"correct_option" validate:"gte=0,ltfield=OptionsCount"`
	OrderIndex    int      `json:"order_index" validate:"gte=0"`
	OptionsCount  int      `json:"-"`
}

func (nq *NewQuizQuestion) Validate(validate *validator.Validate) error {
	if nq.Kind == "" {
		nq.Kind = KindQuiz
	}
	nq.Prompt = core.CleanString(nq.Prompt)
	for i, opt := range nq.Options {
		nq.Options[i] = core.CleanString(opt)
	}
	nq.OptionsCount = len(nq.Options)
	return validate.Struct(nq)
}
