package training

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/user"
)

var (
	// errors
	ErrExerciseNotFound = errors.New("exercise not found")
	ErrProgressNotFound = errors.New("progress not found")
	ErrPartLocked       = errors.New("this part of the exercise is locked")
	ErrNotEligible      = errors.New("exercise cannot be completed yet")
	ErrNoQuestions      = errors.New("no questions available")
	ErrOrderIndexExists = errors.New("an exercise with this order index already exists")
)

type (
	ExerciseRepository interface {
		// QueryExercises returns the whole catalog ordered by order_index.
		QueryExercises(ctx context.Context, exec ...core.DBExecutor) ([]Exercise, error)
		GetExercise(ctx context.Context, id string, exec ...core.DBExecutor) (Exercise, error)
		CreateExercise(ctx context.Context, ex Exercise, exec ...core.DBExecutor) (Exercise, error)
		UpdateExercise(ctx context.Context, ex Exercise, exec ...core.DBExecutor) (Exercise, error)
		// DeleteExercise also deletes the progress, reviews & quiz data of the exercise.
		DeleteExercise(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	ProgressRepository interface {
		QueryProgress(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Progress, error)
		GetProgress(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) (Progress, error)
		// UpsertProgress merges patch into the (userID, exerciseID) record, creating it if needed.
		UpsertProgress(ctx context.Context, userID, exerciseID string, patch ProgressPatch, exec ...core.DBExecutor) (Progress, error)
	}

	ReviewRepository interface {
		CreateReview(ctx context.Context, rs ReviewSubmission, exec ...core.DBExecutor) (ReviewSubmission, error)
		QueryReviews(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) ([]ReviewSubmission, error)
		CountReviewsByExercise(ctx context.Context, userID string, exec ...core.DBExecutor) (map[string]int, error)
	}

	QuizRepository interface {
		QueryQuestions(ctx context.Context, exerciseID string, kind QuizKind, exec ...core.DBExecutor) ([]QuizQuestion, error)
		CreateQuestion(ctx context.Context, q QuizQuestion, exec ...core.DBExecutor) (QuizQuestion, error)
		CreateAttempt(ctx context.Context, a QuizAttempt, exec ...core.DBExecutor) (QuizAttempt, error)
		QueryAttempts(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) ([]QuizAttempt, error)
	}

	Repositories struct {
		Exercises ExerciseRepository
		Progress  ProgressRepository
		Reviews   ReviewRepository
		Quiz      QuizRepository
	}

	ServiceDeps struct {
		DB      core.DB // nil with in-memory repositories
		Repos   Repositories
		MailSvc core.EmailService // optional
		Users   UserFinder        // optional, for completion notifications
		Logger  core.Logger       // optional
		Conf    *core.Config
	}

	// UserFinder finds the user notified on completion.
	UserFinder interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		db      core.DB
		repos   Repositories
		mailSvc core.EmailService
		users   UserFinder
		logger  core.Logger
		conf    core.TrainingConfig
		notify  bool
	}
)

func NewService(deps ServiceDeps) *Service {
	return &Service{
		db:      deps.DB,
		repos:   deps.Repos,
		mailSvc: deps.MailSvc,
		users:   deps.Users,
		logger:  deps.Logger,
		conf:    deps.Conf.Training,
		notify:  deps.Conf.Training.NotifyOnCompletion && deps.MailSvc != nil && deps.Users != nil,
	}
}

// Catalog & progress

func (svc *Service) FetchExercises(ctx context.Context) ([]Exercise, error) {
	return svc.repos.Exercises.QueryExercises(ctx)
}

func (svc *Service) GetExercise(ctx context.Context, id string) (Exercise, error) {
	return svc.repos.Exercises.GetExercise(ctx, id)
}

func (svc *Service) FetchProgress(ctx context.Context, userID string) ([]Progress, error) {
	return svc.repos.Progress.QueryProgress(ctx, userID)
}

// GetProgress returns a zero Progress when the user has not started the exercise yet.
func (svc *Service) GetProgress(ctx context.Context, userID, exerciseID string) (Progress, error) {
	p, err := svc.repos.Progress.GetProgress(ctx, userID, exerciseID)
	if errors.Cause(err) == ErrProgressNotFound {
		return Progress{UserID: userID, ExerciseID: exerciseID}, nil
	}
	return p, err
}

func (svc *Service) FetchReviewSubmissionCounts(ctx context.Context, userID string) (map[string]int, error) {
	return svc.repos.Reviews.CountReviewsByExercise(ctx, userID)
}

func (svc *Service) UpsertProgress(ctx context.Context, userID, exerciseID string, patch ProgressPatch) (Progress, error) {
	return svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, patch)
}

// Snapshot evaluates the gate of userID over the current catalog and progress.
func (svc *Service) Snapshot(ctx context.Context, userID, role string) (Gate, error) {
	exercises, err := svc.FetchExercises(ctx)
	if err != nil {
		return Gate{}, errors.Wrap(err, "fetching exercises")
	}
	progress, err := svc.FetchProgress(ctx, userID)
	if err != nil {
		return Gate{}, errors.Wrap(err, "fetching progress")
	}
	counts, err := svc.FetchReviewSubmissionCounts(ctx, userID)
	if err != nil {
		return Gate{}, errors.Wrap(err, "fetching review counts")
	}
	return Evaluate(exercises, ProgressIndex(progress), CountIndex(counts), role), nil
}

// requirePart fails with ErrExerciseNotFound or ErrPartLocked.
func (svc *Service) requirePart(ctx context.Context, userID, role, exerciseID string, part Part) (Gate, error) {
	gate, err := svc.Snapshot(ctx, userID, role)
	if err != nil {
		return Gate{}, err
	}
	if _, ok := gate.Exercise(exerciseID); !ok {
		return Gate{}, ErrExerciseNotFound
	}
	if !gate.IsPartUnlocked(exerciseID, part) {
		return Gate{}, ErrPartLocked
	}
	return gate, nil
}

// Learner actions

// MarkVideoCompleted is idempotent.
func (svc *Service) MarkVideoCompleted(ctx context.Context, userID, exerciseID string) (Progress, error) {
	p, err := svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, ProgressPatch{VideoCompleted: boolPtr(true)})
	return p, errors.Wrap(err, "marking video completed")
}

// SaveVideoPosition records the furthest playback position reached.
func (svc *Service) SaveVideoPosition(ctx context.Context, userID, exerciseID string, position float64) (Progress, error) {
	p, err := svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, ProgressPatch{VideoPosition: &position})
	return p, errors.Wrap(err, "saving video position")
}

func (svc *Service) SubmitRecap(ctx context.Context, userID, role, exerciseID string, in RecapInput) (Progress, error) {
	if _, err := svc.requirePart(ctx, userID, role, exerciseID, PartVideo); err != nil {
		return Progress{}, err
	}
	p, err := svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, ProgressPatch{
		RecapSubmitted: boolPtr(true),
		Recap:          &in.Recap,
	})
	return p, errors.Wrap(err, "submitting recap")
}

// QueryQuestions returns the questions of an unlocked quiz or practice test.
func (svc *Service) QueryQuestions(ctx context.Context, userID, role, exerciseID string, kind QuizKind) ([]QuizQuestion, error) {
	if _, err := svc.requirePart(ctx, userID, role, exerciseID, kind.Part()); err != nil {
		return nil, err
	}
	return svc.repos.Quiz.QueryQuestions(ctx, exerciseID, kind)
}

// Grade scores answers against questions in percent. Unanswered and out of range answers are wrong.
func Grade(questions []QuizQuestion, answers []int) int {
	if len(questions) == 0 {
		return 0
	}
	var correct int
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.CorrectOption {
			correct++
		}
	}
	return correct * 100 / len(questions)
}

// SubmitQuiz grades a quiz (or practice test) attempt and records it.
// A passing score sets quiz_passed (or practice_test_passed).
func (svc *Service) SubmitQuiz(ctx context.Context, userID, role, exerciseID string, sub QuizSubmission) (QuizAttempt, error) {
	kind, ok := ParseQuizKind(string(sub.Kind))
	if !ok {
		return QuizAttempt{}, core.NewValidationError(nil, core.FieldError{Field: "kind", Error: "unknown quiz kind"})
	}
	sub.Kind = kind

	if _, err := svc.requirePart(ctx, userID, role, exerciseID, sub.Kind.Part()); err != nil {
		return QuizAttempt{}, err
	}

	questions, err := svc.repos.Quiz.QueryQuestions(ctx, exerciseID, sub.Kind)
	if err != nil {
		return QuizAttempt{}, errors.Wrap(err, "querying questions")
	}
	if len(questions) == 0 {
		return QuizAttempt{}, ErrNoQuestions
	}

	score := Grade(questions, sub.Answers)
	attempt := QuizAttempt{
		ID:         uuid.New().String(),
		UserID:     userID,
		ExerciseID: exerciseID,
		Kind:       sub.Kind,
		Answers:    sub.Answers,
		Score:      score,
		Passed:     score >= svc.conf.QuizPassingScore,
		CreatedAt:  time.Now().UTC(),
	}

	patch := ProgressPatch{}
	if sub.Kind == KindQuiz {
		patch.QuizScore = &score
		if attempt.Passed {
			patch.QuizPassed = boolPtr(true)
		}
	} else if attempt.Passed {
		patch.PracticeTestPassed = boolPtr(true)
	}

	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if attempt, err = svc.repos.Quiz.CreateAttempt(ctx, attempt, optExec(exec)...); err != nil {
			return errors.Wrap(err, "creating attempt")
		}
		if !patch.IsEmpty() {
			if _, err = svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, patch, optExec(exec)...); err != nil {
				return errors.Wrap(err, "updating progress")
			}
		}
		return nil
	})
	return attempt, err
}

func (svc *Service) QueryAttempts(ctx context.Context, userID, exerciseID string) ([]QuizAttempt, error) {
	return svc.repos.Quiz.QueryAttempts(ctx, userID, exerciseID)
}

func (svc *Service) SubmitReview(ctx context.Context, userID, role, exerciseID string, in ReviewInput) (ReviewSubmission, error) {
	if _, err := svc.requirePart(ctx, userID, role, exerciseID, PartPractice); err != nil {
		return ReviewSubmission{}, err
	}
	rs, err := svc.repos.Reviews.CreateReview(ctx, ReviewSubmission{
		ID:         uuid.New().String(),
		UserID:     userID,
		ExerciseID: exerciseID,
		VideoURL:   in.VideoURL,
		Note:       in.Note,
		CreatedAt:  time.Now().UTC(),
	})
	return rs, errors.Wrap(err, "creating review submission")
}

func (svc *Service) QueryReviews(ctx context.Context, userID, exerciseID string) ([]ReviewSubmission, error) {
	return svc.repos.Reviews.QueryReviews(ctx, userID, exerciseID)
}

// AddTimeSpent adds seconds to the time spent on an exercise. Non positive values are no-ops.
func (svc *Service) AddTimeSpent(ctx context.Context, userID, exerciseID string, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	_, err := svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, ProgressPatch{AddTimeSpent: seconds})
	return errors.Wrap(err, "adding time spent")
}

// CompleteExercise marks the exercise completed along with addTime seconds, if the gate allows it.
// Nothing is persisted when it fails.
func (svc *Service) CompleteExercise(ctx context.Context, userID, role, exerciseID string, addTime int) (Progress, error) {
	gate, err := svc.Snapshot(ctx, userID, role)
	if err != nil {
		return Progress{}, err
	}
	ex, ok := gate.Exercise(exerciseID)
	if !ok {
		return Progress{}, ErrExerciseNotFound
	}
	if !gate.CanCompleteExercise(exerciseID) {
		return Progress{}, ErrNotEligible
	}

	patch := ProgressPatch{IsCompleted: boolPtr(true)}
	if addTime > 0 {
		patch.AddTimeSpent = addTime
	}
	p, err := svc.repos.Progress.UpsertProgress(ctx, userID, exerciseID, patch)
	if err != nil {
		return Progress{}, errors.Wrap(err, "completing exercise")
	}

	if svc.notify {
		svc.sendCompletionMail(ctx, userID, ex, p)
	}
	return p, nil
}

func (svc *Service) sendCompletionMail(ctx context.Context, userID string, ex Exercise, p Progress) {
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		if svc.logger != nil {
			svc.logger.Error("completion mail: getting user", errors.Wrap(err, "getting user"),
				map[string]interface{}{"user_id": userID, "exercise_id": ex.ID})
		}
		return
	}
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("Exercise completed: %s", ex.Title),
		TemplateName: "exercise_completed",
		TemplateData: map[string]interface{}{
			"Name":      usr.Name,
			"Exercise":  ex.Title,
			"TimeSpent": (time.Duration(p.TimeSpent) * time.Second).String(),
		},
	})
}

// Catalog administration

func (svc *Service) CreateExercise(ctx context.Context, ne NewExercise) (Exercise, error) {
	now := time.Now().UTC()
	ex, err := svc.repos.Exercises.CreateExercise(ctx, Exercise{
		ID:                  uuid.New().String(),
		Title:               ne.Title,
		Description:         ne.Description,
		OrderIndex:          ne.OrderIndex,
		VideoURL:            ne.VideoURL,
		MinReviewVideos:     ne.MinReviewVideos,
		RequirePracticeTest: ne.RequirePracticeTest,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return Exercise{}, orderErr(err, "creating exercise")
	}
	return ex, nil
}

// orderErr reports a taken order_index as a validation error on that field.
func orderErr(err error, msg string) error {
	if errors.Cause(err) == ErrOrderIndexExists {
		return core.NewFieldValidationError("order_index", ErrOrderIndexExists)
	}
	return errors.Wrap(err, msg)
}

func (svc *Service) UpdateExercise(ctx context.Context, id string, ue UpdateExercise) (Exercise, error) {
	ex, err := svc.repos.Exercises.GetExercise(ctx, id)
	if err != nil {
		return Exercise{}, err
	}
	ex = ue.Apply(ex)
	ex.UpdatedAt = time.Now().UTC()
	ex, err = svc.repos.Exercises.UpdateExercise(ctx, ex)
	if err != nil {
		if errors.Cause(err) == ErrExerciseNotFound {
			return Exercise{}, err
		}
		return Exercise{}, orderErr(err, "updating exercise")
	}
	return ex, nil
}

func (svc *Service) DeleteExercise(ctx context.Context, id string) error {
	return svc.repos.Exercises.DeleteExercise(ctx, id)
}

func (svc *Service) AddQuestion(ctx context.Context, exerciseID string, nq NewQuizQuestion) (QuizQuestion, error) {
	if _, err := svc.repos.Exercises.GetExercise(ctx, exerciseID); err != nil {
		return QuizQuestion{}, err
	}
	q, err := svc.repos.Quiz.CreateQuestion(ctx, QuizQuestion{
		ID:            uuid.New().String(),
		ExerciseID:    exerciseID,
		Kind:          nq.Kind,
		Prompt:        nq.Prompt,
		Options:       nq.Options,
		CorrectOption: nq.CorrectOption,
		OrderIndex:    nq.OrderIndex,
	})
	return q, errors.Wrap(err, "creating question")
}

// AllQuestions returns every question of an exercise, regardless of the gate.
func (svc *Service) AllQuestions(ctx context.Context, exerciseID string, kind QuizKind) ([]QuizQuestion, error) {
	return svc.repos.Quiz.QueryQuestions(ctx, exerciseID, kind)
}

func optExec(exec core.DBExecutor) []core.DBExecutor {
	if exec == nil {
		return nil
	}
	return []core.DBExecutor{exec}
}
