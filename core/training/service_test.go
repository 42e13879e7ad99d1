package training_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
	"github.com/trezcool/academy/storage/database/inmem"
)

const learner = "chuyên viên"

func newService(t *testing.T) (*training.Service, *inmemdb.DB) {
	t.Helper()
	db := inmemdb.NewDB()
	svc := training.NewService(training.ServiceDeps{
		Repos: db.TrainingRepositories(),
		Conf:  &core.Config{Training: core.TrainingConfig{QuizPassingScore: 70}},
	})
	return svc, db
}

func createExercise(t *testing.T, svc *training.Service, ne training.NewExercise) training.Exercise {
	t.Helper()
	ex, err := svc.CreateExercise(context.Background(), ne)
	require.NoError(t, err)
	return ex
}

func addQuestions(t *testing.T, svc *training.Service, exerciseID string, kind training.QuizKind, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := svc.AddQuestion(context.Background(), exerciseID, training.NewQuizQuestion{
			Kind:          kind,
			Prompt:        "question",
			Options:       []string{"wrong", "right"},
			CorrectOption: 1,
			OrderIndex:    i,
		})
		require.NoError(t, err)
	}
}

func TestService_learnerJourney(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	e0 := createExercise(t, svc, training.NewExercise{Title: "Intro", OrderIndex: 0, VideoURL: "https://videos.test/0", MinReviewVideos: 2})
	e1 := createExercise(t, svc, training.NewExercise{Title: "Next", OrderIndex: 1})
	addQuestions(t, svc, e0.ID, training.KindQuiz, 4)
	uid := "user-1"

	// quiz is locked before video + recap
	_, err := svc.SubmitQuiz(ctx, uid, learner, e0.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1, 1, 1, 1}})
	assert.Equal(t, training.ErrPartLocked, errors.Cause(err))

	// recap on a locked exercise
	_, err = svc.SubmitRecap(ctx, uid, learner, e1.ID, training.RecapInput{Recap: "too early"})
	assert.Equal(t, training.ErrPartLocked, errors.Cause(err))

	_, err = svc.MarkVideoCompleted(ctx, uid, e0.ID)
	require.NoError(t, err)
	_, err = svc.MarkVideoCompleted(ctx, uid, e0.ID) // idempotent
	require.NoError(t, err)
	_, err = svc.SubmitRecap(ctx, uid, learner, e0.ID, training.RecapInput{Recap: "what I learned today"})
	require.NoError(t, err)

	// failing attempt: 2/4 = 50%
	attempt, err := svc.SubmitQuiz(ctx, uid, learner, e0.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1, 1, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, 50, attempt.Score)
	assert.False(t, attempt.Passed)

	gate, err := svc.Snapshot(ctx, uid, learner)
	require.NoError(t, err)
	assert.False(t, gate.IsExerciseUnlocked(e1.ID))

	// passing attempt: 3/4 = 75%
	attempt, err = svc.SubmitQuiz(ctx, uid, learner, e0.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1, 1, 1, 0}})
	require.NoError(t, err)
	assert.True(t, attempt.Passed)

	gate, err = svc.Snapshot(ctx, uid, learner)
	require.NoError(t, err)
	assert.True(t, gate.IsExerciseUnlocked(e1.ID))
	assert.False(t, gate.CanCompleteExercise(e0.ID))

	_, err = svc.CompleteExercise(ctx, uid, learner, e0.ID, 30)
	assert.Equal(t, training.ErrNotEligible, errors.Cause(err))
	p, err := svc.GetProgress(ctx, uid, e0.ID)
	require.NoError(t, err)
	assert.False(t, p.IsCompleted)
	assert.Equal(t, 0, p.TimeSpent, "failed completion persists nothing")

	for i := 0; i < 2; i++ {
		_, err = svc.SubmitReview(ctx, uid, learner, e0.ID, training.ReviewInput{VideoURL: "https://videos.test/review"})
		require.NoError(t, err)
	}
	counts, err := svc.FetchReviewSubmissionCounts(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[e0.ID])

	p, err = svc.CompleteExercise(ctx, uid, learner, e0.ID, 30)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)
	assert.True(t, p.QuizPassed)
	assert.Equal(t, 30, p.TimeSpent)
	assert.Equal(t, 75, p.QuizScore)

	attempts, err := svc.QueryAttempts(ctx, uid, e0.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestService_SubmitQuiz(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ex := createExercise(t, svc, training.NewExercise{Title: "No video", RequirePracticeTest: true})
	uid := "user-1"

	_, err := svc.SubmitRecap(ctx, uid, learner, ex.ID, training.RecapInput{Recap: "recap of the exercise"})
	require.NoError(t, err)

	_, err = svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1}})
	assert.Equal(t, training.ErrNoQuestions, errors.Cause(err))

	addQuestions(t, svc, ex.ID, training.KindQuiz, 2)
	addQuestions(t, svc, ex.ID, training.KindPracticeTest, 2)

	// practice test locked until the quiz is passed
	_, err = svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: training.KindPracticeTest, Answers: []int{1, 1}})
	assert.Equal(t, training.ErrPartLocked, errors.Cause(err))

	_, err = svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1, 1}})
	require.NoError(t, err)

	gate, err := svc.Snapshot(ctx, uid, learner)
	require.NoError(t, err)
	assert.False(t, gate.CanCompleteExercise(ex.ID))

	attempt, err := svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: training.KindPracticeTest, Answers: []int{1, 1}})
	require.NoError(t, err)
	assert.True(t, attempt.Passed)

	p, err := svc.GetProgress(ctx, uid, ex.ID)
	require.NoError(t, err)
	assert.True(t, p.PracticeTestPassed)
	assert.Equal(t, 100, p.QuizScore, "practice tests do not overwrite the quiz score")

	gate, err = svc.Snapshot(ctx, uid, learner)
	require.NoError(t, err)
	assert.True(t, gate.CanCompleteExercise(ex.ID))

	// a later failing quiz attempt does not clear quiz_passed
	_, err = svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{0, 0}})
	require.NoError(t, err)
	p, err = svc.GetProgress(ctx, uid, ex.ID)
	require.NoError(t, err)
	assert.True(t, p.QuizPassed)
	assert.Equal(t, 0, p.QuizScore)
}

func TestService_SubmitQuiz_kind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ex := createExercise(t, svc, training.NewExercise{Title: "No video", RequirePracticeTest: true})
	addQuestions(t, svc, ex.ID, training.KindQuiz, 1)
	uid := "user-1"
	_, err := svc.SubmitRecap(ctx, uid, learner, ex.ID, training.RecapInput{Recap: "recap of the exercise"})
	require.NoError(t, err)

	_, err = svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Kind: "exam", Answers: []int{1}})
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)

	// an unset kind is the quiz
	attempt, err := svc.SubmitQuiz(ctx, uid, learner, ex.ID, training.QuizSubmission{Answers: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, training.KindQuiz, attempt.Kind)
	p, err := svc.GetProgress(ctx, uid, ex.ID)
	require.NoError(t, err)
	assert.True(t, p.QuizPassed)
	assert.False(t, p.PracticeTestPassed)
}

type mailRecorder struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

type missingUsers struct{}

func (missingUsers) GetByID(context.Context, string) (user.User, error) {
	return user.User{}, user.ErrNotFound
}

type logRecorder struct {
	mu     sync.Mutex
	errors []string
}

func (l *logRecorder) Debug(string, ...interface{}) {}
func (l *logRecorder) Info(string, ...interface{})  {}
func (l *logRecorder) Warn(string, ...interface{})  {}
func (l *logRecorder) Fatal(string, ...interface{}) {}

func (l *logRecorder) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestService_CompleteExercise_unknownRecipient(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.NewDB()
	mails := new(mailRecorder)
	logger := new(logRecorder)
	svc := training.NewService(training.ServiceDeps{
		Repos:   db.TrainingRepositories(),
		MailSvc: mails,
		Users:   missingUsers{},
		Logger:  logger,
		Conf:    &core.Config{Training: core.TrainingConfig{QuizPassingScore: 70, NotifyOnCompletion: true}},
	})
	ex := createExercise(t, svc, training.NewExercise{Title: "No video"})
	addQuestions(t, svc, ex.ID, training.KindQuiz, 1)
	_, err := svc.SubmitRecap(ctx, "ghost", learner, ex.ID, training.RecapInput{Recap: "recap of the exercise"})
	require.NoError(t, err)
	_, err = svc.SubmitQuiz(ctx, "ghost", learner, ex.ID, training.QuizSubmission{Answers: []int{1}})
	require.NoError(t, err)

	p, err := svc.CompleteExercise(ctx, "ghost", learner, ex.ID, 0)
	require.NoError(t, err, "the mail does not fail the completion")
	assert.True(t, p.IsCompleted)
	assert.Empty(t, mails.sent)
	assert.Equal(t, []string{"completion mail: getting user"}, logger.errors)
}

func TestService_fullAccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	createExercise(t, svc, training.NewExercise{Title: "First", OrderIndex: 0})
	last := createExercise(t, svc, training.NewExercise{Title: "Last", OrderIndex: 1})

	_, err := svc.SubmitReview(ctx, "boss", "trưởng phòng", last.ID, training.ReviewInput{VideoURL: "https://videos.test/r"})
	assert.NoError(t, err)

	// eligibility still requires the quiz
	_, err = svc.CompleteExercise(ctx, "boss", "admin", last.ID, 0)
	assert.Equal(t, training.ErrNotEligible, errors.Cause(err))
}

func TestService_AddTimeSpent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ex := createExercise(t, svc, training.NewExercise{Title: "Timed"})

	require.NoError(t, svc.AddTimeSpent(ctx, "u", ex.ID, 10))
	require.NoError(t, svc.AddTimeSpent(ctx, "u", ex.ID, 0))
	require.NoError(t, svc.AddTimeSpent(ctx, "u", ex.ID, -4))
	require.NoError(t, svc.AddTimeSpent(ctx, "u", ex.ID, 7))

	p, err := svc.GetProgress(ctx, "u", ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, p.TimeSpent)

	err = svc.AddTimeSpent(ctx, "u", "missing", 3)
	assert.Equal(t, training.ErrExerciseNotFound, errors.Cause(err))
}

func TestService_catalog(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	b := createExercise(t, svc, training.NewExercise{Title: "B", OrderIndex: 2})
	a := createExercise(t, svc, training.NewExercise{Title: "A", OrderIndex: 1})

	exs, err := svc.FetchExercises(ctx)
	require.NoError(t, err)
	require.Len(t, exs, 2)
	assert.Equal(t, a.ID, exs[0].ID)

	title := "B2"
	idx := 0
	updated, err := svc.UpdateExercise(ctx, b.ID, training.UpdateExercise{Title: &title, OrderIndex: &idx})
	require.NoError(t, err)
	assert.Equal(t, "B2", updated.Title)

	exs, err = svc.FetchExercises(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, exs[0].ID)

	// order indexes are unique
	_, err = svc.CreateExercise(ctx, training.NewExercise{Title: "C", OrderIndex: 1})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, map[string]string{"order_index": training.ErrOrderIndexExists.Error()}, verr.FieldMap())
	taken := 1
	_, err = svc.UpdateExercise(ctx, b.ID, training.UpdateExercise{OrderIndex: &taken})
	require.True(t, errors.As(err, &verr), "got %v", err)
	same := 0
	_, err = svc.UpdateExercise(ctx, b.ID, training.UpdateExercise{OrderIndex: &same})
	require.NoError(t, err, "an exercise keeps its own index")

	require.NoError(t, svc.AddTimeSpent(ctx, "u", b.ID, 5))
	require.NoError(t, svc.DeleteExercise(ctx, b.ID))
	progress, err := svc.FetchProgress(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, progress, "progress is deleted with its exercise")

	_, err = svc.UpdateExercise(ctx, b.ID, training.UpdateExercise{Title: &title})
	assert.Equal(t, training.ErrExerciseNotFound, errors.Cause(err))
	_, err = svc.AddQuestion(ctx, b.ID, training.NewQuizQuestion{Prompt: "?", Options: []string{"a", "b"}})
	assert.Equal(t, training.ErrExerciseNotFound, errors.Cause(err))
}

func TestGrade(t *testing.T) {
	questions := []training.QuizQuestion{{CorrectOption: 0}, {CorrectOption: 1}, {CorrectOption: 2}}
	tests := []struct {
		name    string
		answers []int
		want    int
	}{
		{name: "all right", answers: []int{0, 1, 2}, want: 100},
		{name: "two right", answers: []int{0, 1, 0}, want: 66},
		{name: "missing answers", answers: []int{0}, want: 33},
		{name: "unanswered", answers: []int{-1, -1, -1}, want: 0},
		{name: "extra answers ignored", answers: []int{0, 1, 2, 3}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, training.Grade(questions, tt.answers))
		})
	}
	assert.Equal(t, 0, training.Grade(nil, []int{1}))
}
