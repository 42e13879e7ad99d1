package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
)

type trainingApi struct {
	auth     *authenticator
	svc      *training.Service
	validate *validator.Validate
}

func registerTrainingAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	auth *authenticator,
	svc *training.Service,
	validate *validator.Validate,
) {
	api := trainingApi{
		auth:     auth,
		svc:      svc,
		validate: validate,
	}

	tg := g.Group("/training", authed...)
	tg.GET("/progress", api.progress)

	eg := tg.Group("/exercises")
	eg.GET("", api.queryExercises)
	eg.POST("", api.createExercise, catalogManagerMiddleware(auth))

	dg := eg.Group("/:id")
	dg.GET("", api.retrieveExercise)
	dg.PUT("", api.updateExercise, catalogManagerMiddleware(auth))
	dg.DELETE("", api.destroyExercise, catalogManagerMiddleware(auth))
	dg.POST("/recap", api.submitRecap)
	dg.GET("/quiz", api.quiz)
	dg.POST("/quiz", api.submitQuiz)
	dg.GET("/quiz/attempts", api.quizAttempts)
	dg.POST("/reviews", api.submitReview)
	dg.GET("/reviews", api.queryReviews)
	dg.POST("/complete", api.complete)
	dg.POST("/questions", api.addQuestion, catalogManagerMiddleware(auth))
	dg.GET("/questions", api.queryQuestions, catalogManagerMiddleware(auth))
}

type (
	ExerciseResponse struct {
		training.Exercise
		Status   training.ExerciseStatus `json:"status"`
		Progress *training.Progress      `json:"progress,omitempty"`
	}

	ProgressResponse struct {
		Progress     []training.Progress `json:"progress"`
		ReviewCounts map[string]int      `json:"review_counts"`
		Completed    int                 `json:"completed"`
		Total        int                 `json:"total"`
	}

	// QuestionResponse is a QuizQuestion without its answer.
	QuestionResponse struct {
		ID         string   `json:"id"`
		Kind       string   `json:"kind"`
		Prompt     string   `json:"prompt"`
		Options    []string `json:"options"`
		OrderIndex int      `json:"order_index"`
	}
)

func (api *trainingApi) ctxUser(ctx echo.Context) (user.User, error) {
	usr, err := api.auth.getContextUser(ctx)
	return usr, errors.Wrap(err, "getting context user")
}

func (api *trainingApi) snapshot(ctx echo.Context) (user.User, training.Gate, error) {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return user.User{}, training.Gate{}, err
	}
	gate, err := api.svc.Snapshot(ctx.Request().Context(), usr.ID, usr.Role)
	if err != nil {
		return user.User{}, training.Gate{}, errors.Wrap(err, "evaluating gate")
	}
	return usr, gate, nil
}

// Learner handlers

func (api *trainingApi) queryExercises(ctx echo.Context) error {
	_, gate, err := api.snapshot(ctx)
	if err != nil {
		return err
	}
	exercises := gate.Exercises()
	resp := make([]ExerciseResponse, 0, len(exercises))
	for _, ex := range exercises {
		st, _ := gate.Status(ex.ID)
		resp = append(resp, ExerciseResponse{Exercise: ex, Status: st})
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *trainingApi) retrieveExercise(ctx echo.Context) error {
	usr, gate, err := api.snapshot(ctx)
	if err != nil {
		return err
	}
	ex, ok := gate.Exercise(ctx.Param("id"))
	if !ok {
		return training.ErrExerciseNotFound
	}
	st, _ := gate.Status(ex.ID)
	resp := ExerciseResponse{Exercise: ex, Status: st}

	p, err := api.svc.GetProgress(ctx.Request().Context(), usr.ID, ex.ID)
	if err != nil {
		return errors.Wrap(err, "getting progress")
	}
	resp.Progress = &p
	return ctx.JSON(http.StatusOK, resp)
}

func (api *trainingApi) progress(ctx echo.Context) error {
	usr, gate, err := api.snapshot(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	records, err := api.svc.FetchProgress(reqCtx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "fetching progress")
	}
	counts, err := api.svc.FetchReviewSubmissionCounts(reqCtx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "fetching review counts")
	}

	resp := ProgressResponse{Progress: records, ReviewCounts: counts, Total: len(gate.Exercises())}
	for _, st := range gate.Statuses() {
		if st.Completed {
			resp.Completed++
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *trainingApi) submitRecap(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	var data training.RecapInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RecapInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.SubmitRecap(ctx.Request().Context(), usr.ID, usr.Role, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *trainingApi) quiz(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	kind, err := bindQuizKind(ctx)
	if err != nil {
		return err
	}

	questions, err := api.svc.QueryQuestions(ctx.Request().Context(), usr.ID, usr.Role, ctx.Param("id"), kind)
	if err != nil {
		return err
	}
	resp := make([]QuestionResponse, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, QuestionResponse{
			ID:         q.ID,
			Kind:       string(q.Kind),
			Prompt:     q.Prompt,
			Options:    q.Options,
			OrderIndex: q.OrderIndex,
		})
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *trainingApi) submitQuiz(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	var data training.QuizSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to QuizSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	attempt, err := api.svc.SubmitQuiz(ctx.Request().Context(), usr.ID, usr.Role, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, attempt)
}

func (api *trainingApi) quizAttempts(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	attempts, err := api.svc.QueryAttempts(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying attempts")
	}
	return ctx.JSON(http.StatusOK, attempts)
}

func (api *trainingApi) submitReview(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	var data training.ReviewInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	rs, err := api.svc.SubmitReview(ctx.Request().Context(), usr.ID, usr.Role, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rs)
}

func (api *trainingApi) queryReviews(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	reviews, err := api.svc.QueryReviews(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying reviews")
	}
	return ctx.JSON(http.StatusOK, reviews)
}

func (api *trainingApi) complete(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	// time spent only arrives through session flushes
	p, err := api.svc.CompleteExercise(ctx.Request().Context(), usr.ID, usr.Role, ctx.Param("id"), 0)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

// Catalog handlers

func (api *trainingApi) createExercise(ctx echo.Context) error {
	var data training.NewExercise
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewExercise")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ex, err := api.svc.CreateExercise(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, ex)
}

func (api *trainingApi) updateExercise(ctx echo.Context) error {
	var data training.UpdateExercise
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateExercise")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ex, err := api.svc.UpdateExercise(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ex)
}

func (api *trainingApi) destroyExercise(ctx echo.Context) error {
	if err := api.svc.DeleteExercise(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *trainingApi) addQuestion(ctx echo.Context) error {
	var data training.NewQuizQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuizQuestion")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	q, err := api.svc.AddQuestion(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *trainingApi) queryQuestions(ctx echo.Context) error {
	kind, err := bindQuizKind(ctx)
	if err != nil {
		return err
	}
	questions, err := api.svc.AllQuestions(ctx.Request().Context(), ctx.Param("id"), kind)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	return ctx.JSON(http.StatusOK, questions)
}
