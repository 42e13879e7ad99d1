package inmemdb

import (
	"sync"

	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
)

type (
	userTable struct {
		mu    sync.RWMutex
		table map[string]user.User
	}

	trainingTables struct {
		mu        sync.RWMutex
		exercises map[string]training.Exercise
		progress  map[progressKey]training.Progress
		reviews   []training.ReviewSubmission
		questions []training.QuizQuestion
		attempts  []training.QuizAttempt
	}

	progressKey struct {
		userID     string
		exerciseID string
	}

	// DB is an in-memory database. Executors passed to its repositories are ignored.
	DB struct {
		user     *userTable
		training *trainingTables
	}
)

func NewDB() *DB {
	return &DB{
		user: &userTable{table: make(map[string]user.User)},
		training: &trainingTables{
			exercises: make(map[string]training.Exercise),
			progress:  make(map[progressKey]training.Progress),
		},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.mu.Lock()
	db.user.table = make(map[string]user.User)
	db.user.mu.Unlock()

	db.training.mu.Lock()
	db.training.exercises = make(map[string]training.Exercise)
	db.training.progress = make(map[progressKey]training.Progress)
	db.training.reviews = nil
	db.training.questions = nil
	db.training.attempts = nil
	db.training.mu.Unlock()
}

// TrainingRepositories returns all the training repositories backed by db.
func (db *DB) TrainingRepositories() training.Repositories {
	return training.Repositories{
		Exercises: NewExerciseRepository(db),
		Progress:  NewProgressRepository(db),
		Reviews:   NewReviewRepository(db),
		Quiz:      NewQuizRepository(db),
	}
}

