package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/session"
	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
)

type sessionApi struct {
	auth     *authenticator
	sessions *session.Registry
}

func registerSessionAPI(g *echo.Group, authed []echo.MiddlewareFunc, auth *authenticator, sessions *session.Registry) {
	api := sessionApi{auth: auth, sessions: sessions}

	sg := g.Group("/sessions", authed...)
	sg.POST("", api.open)

	dg := sg.Group("/:sid")
	dg.GET("", api.state)
	dg.POST("/select", api.selectPart)
	dg.POST("/playback", api.playback)
	dg.POST("/complete", api.complete)
	dg.DELETE("", api.close)
}

type (
	OpenSessionRequest struct {
		ExerciseID string `json:"exercise_id"`
		Part       string `json:"part"`
		Preview    bool   `json:"preview"`
	}

	SelectRequest struct {
		ExerciseID string `json:"exercise_id"`
		Part       string `json:"part"`
	}

	SelectResponse struct {
		Selected bool          `json:"selected"`
		State    session.State `json:"state"`
	}

	PlaybackResponse struct {
		session.SeekResult
		State session.State `json:"state"`
	}

	CompleteResponse struct {
		Progress training.Progress `json:"progress"`
		State    session.State     `json:"state"`
	}
)

func parsePart(raw string) (training.Part, error) {
	if raw == "" {
		return training.PartVideo, nil
	}
	part, ok := training.ParsePart(raw)
	if !ok {
		return "", core.NewValidationError(nil, core.FieldError{Field: "part", Error: "unknown exercise part"})
	}
	return part, nil
}

// canPreview reports whether usr may watch videos without the seek restriction.
func canPreview(usr user.User) bool {
	return usr.IsAdmin() || usr.Role == user.RoleLeader || usr.Role == user.RoleDeptHead
}

func (api *sessionApi) controller(ctx echo.Context) (*session.Controller, error) {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.sessions.Get(ctx.Param("sid"), usr.ID)
}

func (api *sessionApi) open(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data OpenSessionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OpenSessionRequest")
	}
	if data.Preview && !canPreview(usr) {
		return errHttpForbidden
	}

	var deepLink *session.Selection
	if data.ExerciseID != "" {
		part, err := parsePart(data.Part)
		if err != nil {
			return err
		}
		deepLink = &session.Selection{ExerciseID: data.ExerciseID, Part: part}
	}

	ctrl, err := api.sessions.Open(ctx.Request().Context(), usr.ID, usr.Role, deepLink, data.Preview)
	if err != nil {
		return errors.Wrap(err, "opening session")
	}
	return ctx.JSON(http.StatusCreated, ctrl.State())
}

func (api *sessionApi) state(ctx echo.Context) error {
	ctrl, err := api.controller(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ctrl.State())
}

func (api *sessionApi) selectPart(ctx echo.Context) error {
	ctrl, err := api.controller(ctx)
	if err != nil {
		return err
	}
	var data SelectRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SelectRequest")
	}
	if data.ExerciseID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "exercise_id", Error: "exercise_id is required"})
	}
	part, err := parsePart(data.Part)
	if err != nil {
		return err
	}

	ok, err := ctrl.Select(ctx.Request().Context(), data.ExerciseID, part)
	if err != nil {
		return errors.Wrap(err, "selecting exercise part")
	}
	return ctx.JSON(http.StatusOK, SelectResponse{Selected: ok, State: ctrl.State()})
}

func (api *sessionApi) playback(ctx echo.Context) error {
	ctrl, err := api.controller(ctx)
	if err != nil {
		return err
	}
	var data session.PlaybackEvent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PlaybackEvent")
	}

	res, err := ctrl.Playback(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "handling playback event")
	}
	return ctx.JSON(http.StatusOK, PlaybackResponse{SeekResult: res, State: ctrl.State()})
}

func (api *sessionApi) complete(ctx echo.Context) error {
	ctrl, err := api.controller(ctx)
	if err != nil {
		return err
	}
	p, err := ctrl.Complete(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "completing exercise")
	}
	return ctx.JSON(http.StatusOK, CompleteResponse{Progress: p, State: ctrl.State()})
}

func (api *sessionApi) close(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.sessions.Close(ctx.Request().Context(), ctx.Param("sid"), usr.ID); err != nil {
		return errors.Wrap(err, "closing session")
	}
	return ctx.NoContent(http.StatusNoContent)
}
