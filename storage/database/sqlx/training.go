package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
)

const (
	exerciseColumns = "id, title, description, order_index, video_url, min_review_videos, require_practice_test, created_at, updated_at"
	progressColumns = "user_id, exercise_id, video_completed, recap_submitted, quiz_passed, practice_test_passed, is_completed, " +
		"time_spent, recap, quiz_score, video_position, updated_at"
	reviewColumns   = "id, user_id, exercise_id, video_url, note, created_at"
	questionColumns = "id, exercise_id, kind, prompt, options, correct_option, order_index"
	attemptColumns  = "id, user_id, exercise_id, kind, answers, score, passed, created_at"
)

type exerciseRepository struct {
	baseRepository
}

var _ training.ExerciseRepository = (*exerciseRepository)(nil)

func NewExerciseRepository(db *sqlx.DB) *exerciseRepository {
	return &exerciseRepository{baseRepository{exec: db}}
}

func (repo *exerciseRepository) QueryExercises(ctx context.Context, exec ...core.DBExecutor) ([]training.Exercise, error) {
	exercises := make([]training.Exercise, 0)
	q := "SELECT " + exerciseColumns + " FROM exercises ORDER BY order_index, created_at"
	if err := repo.selectx(ctx, exec, &exercises, q); err != nil {
		return nil, errors.Wrap(err, "querying exercises")
	}
	return exercises, nil
}

func (repo *exerciseRepository) GetExercise(ctx context.Context, id string, exec ...core.DBExecutor) (training.Exercise, error) {
	var exercises []training.Exercise
	q := "SELECT " + exerciseColumns + " FROM exercises WHERE id::text = ?"
	if err := repo.selectx(ctx, exec, &exercises, q, id); err != nil {
		return training.Exercise{}, errors.Wrap(err, "getting exercise")
	}
	if len(exercises) == 0 {
		return training.Exercise{}, training.ErrExerciseNotFound
	}
	return exercises[0], nil
}

func (repo *exerciseRepository) CreateExercise(ctx context.Context, ex training.Exercise, exec ...core.DBExecutor) (training.Exercise, error) {
	var created []training.Exercise
	q := "INSERT INTO exercises (" + exerciseColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING " + exerciseColumns
	err := repo.selectx(ctx, exec, &created, q, ex.ID, ex.Title, ex.Description, ex.OrderIndex, ex.VideoURL,
		ex.MinReviewVideos, ex.RequirePracticeTest, ex.CreatedAt.UTC(), ex.UpdatedAt.UTC())
	if err != nil {
		return training.Exercise{}, trapOrderErr(err, "inserting exercise")
	}
	return created[0], nil
}

func (repo *exerciseRepository) UpdateExercise(ctx context.Context, ex training.Exercise, exec ...core.DBExecutor) (training.Exercise, error) {
	var updated []training.Exercise
	q := `UPDATE exercises SET title = ?, description = ?, order_index = ?, video_url = ?, min_review_videos = ?,
		require_practice_test = ?, updated_at = ? WHERE id::text = ? RETURNING ` + exerciseColumns
	err := repo.selectx(ctx, exec, &updated, q, ex.Title, ex.Description, ex.OrderIndex, ex.VideoURL,
		ex.MinReviewVideos, ex.RequirePracticeTest, time.Now().UTC(), ex.ID)
	if err != nil {
		return training.Exercise{}, trapOrderErr(err, "updating exercise")
	}
	if len(updated) == 0 {
		return training.Exercise{}, training.ErrExerciseNotFound
	}
	return updated[0], nil
}

// DeleteExercise relies on ON DELETE CASCADE for the dependent records.
func (repo *exerciseRepository) DeleteExercise(ctx context.Context, id string, exec ...core.DBExecutor) error {
	cnt, err := repo.execx(ctx, exec, "DELETE FROM exercises WHERE id::text = ?", id)
	if err != nil {
		return errors.Wrap(err, "deleting exercise")
	}
	if cnt == 0 {
		return training.ErrExerciseNotFound
	}
	return nil
}

type progressRepository struct {
	baseRepository
}

var _ training.ProgressRepository = (*progressRepository)(nil)

func NewProgressRepository(db *sqlx.DB) *progressRepository {
	return &progressRepository{baseRepository{exec: db}}
}

func (repo *progressRepository) QueryProgress(ctx context.Context, userID string, exec ...core.DBExecutor) ([]training.Progress, error) {
	records := make([]training.Progress, 0)
	q := "SELECT " + progressColumns + " FROM progress WHERE user_id::text = ? ORDER BY exercise_id"
	if err := repo.selectx(ctx, exec, &records, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}
	return records, nil
}

func (repo *progressRepository) GetProgress(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) (training.Progress, error) {
	var records []training.Progress
	q := "SELECT " + progressColumns + " FROM progress WHERE user_id::text = ? AND exercise_id::text = ?"
	if err := repo.selectx(ctx, exec, &records, q, userID, exerciseID); err != nil {
		return training.Progress{}, errors.Wrap(err, "getting progress")
	}
	if len(records) == 0 {
		return training.Progress{}, training.ErrProgressNotFound
	}
	return records[0], nil
}

// UpsertProgress merges the patch in a single statement: flags are OR-ed, time is added
// and the video position only moves forward, so concurrent writers never lose updates.
func (repo *progressRepository) UpsertProgress(ctx context.Context, userID, exerciseID string, patch training.ProgressPatch, exec ...core.DBExecutor) (training.Progress, error) {
	flag := func(v *bool) bool { return v != nil && *v }
	addTime := patch.AddTimeSpent
	if addTime < 0 {
		addTime = 0
	}

	q := `INSERT INTO progress (` + progressColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?::text, ''), COALESCE(?::integer, 0), COALESCE(?::double precision, 0), now())
		ON CONFLICT (user_id, exercise_id) DO UPDATE SET
			video_completed = progress.video_completed OR EXCLUDED.video_completed,
			recap_submitted = progress.recap_submitted OR EXCLUDED.recap_submitted,
			quiz_passed = progress.quiz_passed OR EXCLUDED.quiz_passed,
			practice_test_passed = progress.practice_test_passed OR EXCLUDED.practice_test_passed,
			is_completed = progress.is_completed OR EXCLUDED.is_completed,
			time_spent = progress.time_spent + EXCLUDED.time_spent,
			recap = CASE WHEN ?::boolean THEN EXCLUDED.recap ELSE progress.recap END,
			quiz_score = CASE WHEN ?::boolean THEN EXCLUDED.quiz_score ELSE progress.quiz_score END,
			video_position = GREATEST(progress.video_position, EXCLUDED.video_position),
			updated_at = now()
		RETURNING ` + progressColumns

	var records []training.Progress
	err := repo.selectx(ctx, exec, &records, q,
		userID, exerciseID,
		flag(patch.VideoCompleted), flag(patch.RecapSubmitted), flag(patch.QuizPassed),
		flag(patch.PracticeTestPassed), flag(patch.IsCompleted),
		addTime, patch.Recap, patch.QuizScore, patch.VideoPosition,
		patch.Recap != nil, patch.QuizScore != nil,
	)
	if err != nil {
		return training.Progress{}, trapFKErr(err, "upserting progress")
	}
	return records[0], nil
}

type reviewRepository struct {
	baseRepository
}

var _ training.ReviewRepository = (*reviewRepository)(nil)

func NewReviewRepository(db *sqlx.DB) *reviewRepository {
	return &reviewRepository{baseRepository{exec: db}}
}

func (repo *reviewRepository) CreateReview(ctx context.Context, rs training.ReviewSubmission, exec ...core.DBExecutor) (training.ReviewSubmission, error) {
	var created []training.ReviewSubmission
	q := "INSERT INTO review_submissions (" + reviewColumns + ") VALUES (?, ?, ?, ?, ?, ?) RETURNING " + reviewColumns
	err := repo.selectx(ctx, exec, &created, q, rs.ID, rs.UserID, rs.ExerciseID, rs.VideoURL, rs.Note, rs.CreatedAt.UTC())
	if err != nil {
		return training.ReviewSubmission{}, trapFKErr(err, "inserting review submission")
	}
	return created[0], nil
}

func (repo *reviewRepository) QueryReviews(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) ([]training.ReviewSubmission, error) {
	reviews := make([]training.ReviewSubmission, 0)
	q := "SELECT " + reviewColumns + " FROM review_submissions WHERE user_id::text = ? AND exercise_id::text = ? ORDER BY created_at"
	if err := repo.selectx(ctx, exec, &reviews, q, userID, exerciseID); err != nil {
		return nil, errors.Wrap(err, "querying review submissions")
	}
	return reviews, nil
}

type reviewCount struct {
	ExerciseID string `db:"exercise_id"`
	Count      int    `db:"count"`
}

func (repo *reviewRepository) CountReviewsByExercise(ctx context.Context, userID string, exec ...core.DBExecutor) (map[string]int, error) {
	var rows []reviewCount
	q := "SELECT exercise_id, COUNT(*) AS count FROM review_submissions WHERE user_id::text = ? GROUP BY exercise_id"
	if err := repo.selectx(ctx, exec, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "counting review submissions")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ExerciseID] = row.Count
	}
	return counts, nil
}

type questionRow struct {
	ID            string            `db:"id"`
	ExerciseID    string            `db:"exercise_id"`
	Kind          training.QuizKind `db:"kind"`
	Prompt        string            `db:"prompt"`
	Options       pq.StringArray    `db:"options"`
	CorrectOption int               `db:"correct_option"`
	OrderIndex    int               `db:"order_index"`
}

func (row questionRow) question() training.QuizQuestion {
	return training.QuizQuestion{
		ID:            row.ID,
		ExerciseID:    row.ExerciseID,
		Kind:          row.Kind,
		Prompt:        row.Prompt,
		Options:       []string(row.Options),
		CorrectOption: row.CorrectOption,
		OrderIndex:    row.OrderIndex,
	}
}

type attemptRow struct {
	ID         string            `db:"id"`
	UserID     string            `db:"user_id"`
	ExerciseID string            `db:"exercise_id"`
	Kind       training.QuizKind `db:"kind"`
	Answers    pq.Int64Array     `db:"answers"`
	Score      int               `db:"score"`
	Passed     bool              `db:"passed"`
	CreatedAt  time.Time         `db:"created_at"`
}

func (row attemptRow) attempt() training.QuizAttempt {
	answers := make([]int, len(row.Answers))
	for i, a := range row.Answers {
		answers[i] = int(a)
	}
	return training.QuizAttempt{
		ID:         row.ID,
		UserID:     row.UserID,
		ExerciseID: row.ExerciseID,
		Kind:       row.Kind,
		Answers:    answers,
		Score:      row.Score,
		Passed:     row.Passed,
		CreatedAt:  row.CreatedAt,
	}
}

type quizRepository struct {
	baseRepository
}

var _ training.QuizRepository = (*quizRepository)(nil)

func NewQuizRepository(db *sqlx.DB) *quizRepository {
	return &quizRepository{baseRepository{exec: db}}
}

func (repo *quizRepository) QueryQuestions(ctx context.Context, exerciseID string, kind training.QuizKind, exec ...core.DBExecutor) ([]training.QuizQuestion, error) {
	var rows []questionRow
	q := "SELECT " + questionColumns + " FROM quiz_questions WHERE exercise_id::text = ? AND kind = ? ORDER BY order_index"
	if err := repo.selectx(ctx, exec, &rows, q, exerciseID, kind); err != nil {
		return nil, errors.Wrap(err, "querying quiz questions")
	}
	questions := make([]training.QuizQuestion, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.question())
	}
	return questions, nil
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, qq training.QuizQuestion, exec ...core.DBExecutor) (training.QuizQuestion, error) {
	var rows []questionRow
	q := "INSERT INTO quiz_questions (" + questionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING " + questionColumns
	err := repo.selectx(ctx, exec, &rows, q, qq.ID, qq.ExerciseID, qq.Kind, qq.Prompt,
		pq.StringArray(qq.Options), qq.CorrectOption, qq.OrderIndex)
	if err != nil {
		return training.QuizQuestion{}, trapFKErr(err, "inserting quiz question")
	}
	return rows[0].question(), nil
}

func (repo *quizRepository) CreateAttempt(ctx context.Context, a training.QuizAttempt, exec ...core.DBExecutor) (training.QuizAttempt, error) {
	answers := make(pq.Int64Array, len(a.Answers))
	for i, ans := range a.Answers {
		answers[i] = int64(ans)
	}

	var rows []attemptRow
	q := "INSERT INTO quiz_attempts (" + attemptColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING " + attemptColumns
	err := repo.selectx(ctx, exec, &rows, q, a.ID, a.UserID, a.ExerciseID, a.Kind, answers, a.Score, a.Passed, a.CreatedAt.UTC())
	if err != nil {
		return training.QuizAttempt{}, trapFKErr(err, "inserting quiz attempt")
	}
	return rows[0].attempt(), nil
}

func (repo *quizRepository) QueryAttempts(ctx context.Context, userID, exerciseID string, exec ...core.DBExecutor) ([]training.QuizAttempt, error) {
	var rows []attemptRow
	q := "SELECT " + attemptColumns + " FROM quiz_attempts WHERE user_id::text = ? AND exercise_id::text = ? ORDER BY created_at"
	if err := repo.selectx(ctx, exec, &rows, q, userID, exerciseID); err != nil {
		return nil, errors.Wrap(err, "querying quiz attempts")
	}
	attempts := make([]training.QuizAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.attempt())
	}
	return attempts, nil
}
