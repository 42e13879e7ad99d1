// Package testutil holds the fixtures shared by the test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if role == "" {
		role = user.RoleProbation
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateExercise adds an exercise to the catalog. videoURL may be empty (no video part).
func CreateExercise(t *testing.T, svc *training.Service, title string, order int, videoURL string, minReviews int, requirePracticeTest ...bool) training.Exercise {
	t.Helper()

	ne := training.NewExercise{
		Title:           title,
		OrderIndex:      order,
		VideoURL:        videoURL,
		MinReviewVideos: minReviews,
	}
	if len(requirePracticeTest) > 0 {
		ne.RequirePracticeTest = requirePracticeTest[0]
	}
	ex, err := svc.CreateExercise(context.Background(), ne)
	if err != nil {
		t.Fatalf("CreateExercise() failed: %v", err)
	}
	return ex
}

// CreateQuestions adds one question per correct option, in order.
func CreateQuestions(t *testing.T, svc *training.Service, exerciseID string, kind training.QuizKind, correct ...int) []training.QuizQuestion {
	t.Helper()

	questions := make([]training.QuizQuestion, 0, len(correct))
	for i, c := range correct {
		q, err := svc.AddQuestion(context.Background(), exerciseID, training.NewQuizQuestion{
			Kind:          kind,
			Prompt:        "Question",
			Options:       []string{"A", "B", "C", "D"},
			CorrectOption: c,
			OrderIndex:    i,
		})
		if err != nil {
			t.Fatalf("CreateQuestions() failed: %v", err)
		}
		questions = append(questions, q)
	}
	return questions
}
