package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
)

type exerciseRepository struct {
	db *trainingTables
}

var _ training.ExerciseRepository = (*exerciseRepository)(nil)

func NewExerciseRepository(db *DB) *exerciseRepository {
	return &exerciseRepository{db: db.training}
}

func (repo *exerciseRepository) QueryExercises(_ context.Context, _ ...core.DBExecutor) ([]training.Exercise, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	exercises := make([]training.Exercise, 0, len(repo.db.exercises))
	for _, ex := range repo.db.exercises {
		exercises = append(exercises, ex)
	}
	sort.Slice(exercises, func(i, j int) bool {
		if exercises[i].OrderIndex == exercises[j].OrderIndex {
			return exercises[i].CreatedAt.Before(exercises[j].CreatedAt)
		}
		return exercises[i].OrderIndex < exercises[j].OrderIndex
	})
	return exercises, nil
}

func (repo *exerciseRepository) GetExercise(_ context.Context, id string, _ ...core.DBExecutor) (training.Exercise, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if ex, ok := repo.db.exercises[id]; ok {
		return ex, nil
	}
	return training.Exercise{}, training.ErrExerciseNotFound
}

// orderTaken reports whether another exercise than id holds the order index.
func (repo *exerciseRepository) orderTaken(id string, order int) bool {
	for _, ex := range repo.db.exercises {
		if ex.ID != id && ex.OrderIndex == order {
			return true
		}
	}
	return false
}

func (repo *exerciseRepository) CreateExercise(_ context.Context, ex training.Exercise, _ ...core.DBExecutor) (training.Exercise, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.orderTaken(ex.ID, ex.OrderIndex) {
		return training.Exercise{}, training.ErrOrderIndexExists
	}
	repo.db.exercises[ex.ID] = ex
	return ex, nil
}

func (repo *exerciseRepository) UpdateExercise(_ context.Context, ex training.Exercise, _ ...core.DBExecutor) (training.Exercise, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.exercises[ex.ID]; !ok {
		return training.Exercise{}, training.ErrExerciseNotFound
	}
	if repo.orderTaken(ex.ID, ex.OrderIndex) {
		return training.Exercise{}, training.ErrOrderIndexExists
	}
	repo.db.exercises[ex.ID] = ex
	return ex, nil
}

func (repo *exerciseRepository) DeleteExercise(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.exercises[id]; !ok {
		return training.ErrExerciseNotFound
	}
	delete(repo.db.exercises, id)

	for key := range repo.db.progress {
		if key.exerciseID == id {
			delete(repo.db.progress, key)
		}
	}
	reviews := repo.db.reviews[:0]
	for _, rs := range repo.db.reviews {
		if rs.ExerciseID != id {
			reviews = append(reviews, rs)
		}
	}
	repo.db.reviews = reviews
	questions := repo.db.questions[:0]
	for _, q := range repo.db.questions {
		if q.ExerciseID != id {
			questions = append(questions, q)
		}
	}
	repo.db.questions = questions
	attempts := repo.db.attempts[:0]
	for _, a := range repo.db.attempts {
		if a.ExerciseID != id {
			attempts = append(attempts, a)
		}
	}
	repo.db.attempts = attempts
	return nil
}

type progressRepository struct {
	db *trainingTables
}

var _ training.ProgressRepository = (*progressRepository)(nil)

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db.training}
}

func (repo *progressRepository) QueryProgress(_ context.Context, userID string, _ ...core.DBExecutor) ([]training.Progress, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	records := make([]training.Progress, 0)
	for key, p := range repo.db.progress {
		if key.userID == userID {
			records = append(records, p)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ExerciseID < records[j].ExerciseID })
	return records, nil
}

func (repo *progressRepository) GetProgress(_ context.Context, userID, exerciseID string, _ ...core.DBExecutor) (training.Progress, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if p, ok := repo.db.progress[progressKey{userID, exerciseID}]; ok {
		return p, nil
	}
	return training.Progress{}, training.ErrProgressNotFound
}

func (repo *progressRepository) UpsertProgress(_ context.Context, userID, exerciseID string, patch training.ProgressPatch, _ ...core.DBExecutor) (training.Progress, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.exercises[exerciseID]; !ok {
		return training.Progress{}, training.ErrExerciseNotFound
	}
	key := progressKey{userID, exerciseID}
	p, ok := repo.db.progress[key]
	if !ok {
		p = training.Progress{UserID: userID, ExerciseID: exerciseID}
	}
	p = patch.Apply(p)
	p.UpdatedAt = time.Now().UTC()
	repo.db.progress[key] = p
	return p, nil
}

type reviewRepository struct {
	db *trainingTables
}

var _ training.ReviewRepository = (*reviewRepository)(nil)

func NewReviewRepository(db *DB) *reviewRepository {
	return &reviewRepository{db: db.training}
}

func (repo *reviewRepository) CreateReview(_ context.Context, rs training.ReviewSubmission, _ ...core.DBExecutor) (training.ReviewSubmission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.exercises[rs.ExerciseID]; !ok {
		return training.ReviewSubmission{}, training.ErrExerciseNotFound
	}
	repo.db.reviews = append(repo.db.reviews, rs)
	return rs, nil
}

func (repo *reviewRepository) QueryReviews(_ context.Context, userID, exerciseID string, _ ...core.DBExecutor) ([]training.ReviewSubmission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	reviews := make([]training.ReviewSubmission, 0)
	for _, rs := range repo.db.reviews {
		if rs.UserID == userID && rs.ExerciseID == exerciseID {
			reviews = append(reviews, rs)
		}
	}
	return reviews, nil
}

func (repo *reviewRepository) CountReviewsByExercise(_ context.Context, userID string, _ ...core.DBExecutor) (map[string]int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	counts := make(map[string]int)
	for _, rs := range repo.db.reviews {
		if rs.UserID == userID {
			counts[rs.ExerciseID]++
		}
	}
	return counts, nil
}

type quizRepository struct {
	db *trainingTables
}

var _ training.QuizRepository = (*quizRepository)(nil)

func NewQuizRepository(db *DB) *quizRepository {
	return &quizRepository{db: db.training}
}

func (repo *quizRepository) QueryQuestions(_ context.Context, exerciseID string, kind training.QuizKind, _ ...core.DBExecutor) ([]training.QuizQuestion, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	questions := make([]training.QuizQuestion, 0)
	for _, q := range repo.db.questions {
		if q.ExerciseID == exerciseID && q.Kind == kind {
			questions = append(questions, q)
		}
	}
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].OrderIndex < questions[j].OrderIndex })
	return questions, nil
}

func (repo *quizRepository) CreateQuestion(_ context.Context, q training.QuizQuestion, _ ...core.DBExecutor) (training.QuizQuestion, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.exercises[q.ExerciseID]; !ok {
		return training.QuizQuestion{}, training.ErrExerciseNotFound
	}
	repo.db.questions = append(repo.db.questions, q)
	return q, nil
}

func (repo *quizRepository) CreateAttempt(_ context.Context, a training.QuizAttempt, _ ...core.DBExecutor) (training.QuizAttempt, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.attempts = append(repo.db.attempts, a)
	return a, nil
}

func (repo *quizRepository) QueryAttempts(_ context.Context, userID, exerciseID string, _ ...core.DBExecutor) ([]training.QuizAttempt, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	attempts := make([]training.QuizAttempt, 0)
	for _, a := range repo.db.attempts {
		if a.UserID == userID && a.ExerciseID == exerciseID {
			attempts = append(attempts, a)
		}
	}
	return attempts, nil
}
