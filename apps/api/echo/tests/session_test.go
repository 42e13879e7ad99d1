package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/academy/apps/api/echo"
	"github.com/trezcool/academy/core/session"
	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
	"github.com/trezcool/academy/tests"
)

func sessionPath(id string, sub ...string) string {
	p := "/v1/sessions/" + id
	if len(sub) > 0 {
		p += "/" + sub[0]
	}
	return p
}

func openSession(t *testing.T, token string, req echoapi.OpenSessionRequest) session.State {
	t.Helper()
	rec := do(http.MethodPost, "/v1/sessions", token, marchallObj(t, req))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var st session.State
	unmarshal(t, rec, &st)
	require.NotEmpty(t, st.ID)
	return st
}

func playback(t *testing.T, token, sid string, ev session.PlaybackEvent) (int, echoapi.PlaybackResponse) {
	t.Helper()
	rec := do(http.MethodPost, sessionPath(sid, "playback"), token, marchallObj(t, ev))
	var resp echoapi.PlaybackResponse
	if rec.Code == http.StatusOK {
		unmarshal(t, rec, &resp)
	}
	return rec.Code, resp
}

func selectPart(t *testing.T, token, sid, exerciseID string, part training.Part) echoapi.SelectResponse {
	t.Helper()
	rec := do(http.MethodPost, sessionPath(sid, "select"), token,
		marchallObj(t, echoapi.SelectRequest{ExerciseID: exerciseID, Part: string(part)}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp echoapi.SelectResponse
	unmarshal(t, rec, &resp)
	return resp
}

func Test_sessionApi(t *testing.T) {
	resetDB(t)
	require.NoError(t, sessions.CloseAll(context.Background()))

	learner := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.vn", "", user.RoleProbation, true)
	other := testutil.CreateUser(t, usrRepo, "Other", "other", "other@test.vn", "", user.RoleProbation, true)
	token := getToken(t, learner)

	e0 := testutil.CreateExercise(t, trainingSvc, "Greeting", 0, "https://videos.test/e0.mp4", 0)
	e1 := testutil.CreateExercise(t, trainingSvc, "Selling", 1, "https://videos.test/e1.mp4", 0)
	testutil.CreateQuestions(t, trainingSvc, e0.ID, training.KindQuiz, 1)

	runHTTPTests(t, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/sessions", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "preview requires a catalog manager", method: http.MethodPost, path: "/v1/sessions", token: token,
			body: marchallObj(t, echoapi.OpenSessionRequest{Preview: true}), wantCode: http.StatusForbidden,
		},
		{
			name: "unknown deep link part", method: http.MethodPost, path: "/v1/sessions", token: token,
			body: marchallObj(t, echoapi.OpenSessionRequest{ExerciseID: e0.ID, Part: "lol"}), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown session", path: sessionPath("lol"), token: token, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: session.ErrSessionNotFound.Error()}),
		},
	})

	// a locked deep link falls back to the first selectable exercise
	st := openSession(t, token, echoapi.OpenSessionRequest{ExerciseID: e1.ID, Part: "video"})
	sid := st.ID
	require.NotNil(t, st.Selected)
	assert.Equal(t, session.Selection{ExerciseID: e0.ID, Part: training.PartVideo}, *st.Selected)
	assert.True(t, st.Authenticated)
	assert.False(t, st.FullAccess)
	assert.Len(t, st.Exercises, 2)

	t.Run("sessions belong to their user", func(t *testing.T) {
		otherToken := getToken(t, other)
		for _, tt := range []struct{ method, path string }{
			{http.MethodGet, sessionPath(sid)},
			{http.MethodPost, sessionPath(sid, "complete")},
			{http.MethodDelete, sessionPath(sid)},
		} {
			rec := do(tt.method, tt.path, otherToken)
			assert.Equal(t, http.StatusNotFound, rec.Code, tt.method+" "+tt.path)
		}
	})

	t.Run("locked selection is refused", func(t *testing.T) {
		resp := selectPart(t, token, sid, e1.ID, training.PartVideo)
		assert.False(t, resp.Selected)
		assert.Equal(t, e0.ID, resp.State.Selected.ExerciseID)

		resp = selectPart(t, token, sid, e0.ID, training.PartQuiz)
		assert.False(t, resp.Selected)
		assert.Equal(t, training.PartVideo, resp.State.Selected.Part)
	})

	t.Run("seeking ahead is restricted", func(t *testing.T) {
		code, resp := playback(t, token, sid, session.PlaybackEvent{Playing: true, Position: 100, Duration: 10})
		require.Equal(t, http.StatusOK, code)
		assert.False(t, resp.Allowed)
		assert.Zero(t, resp.SnapTo)
		assert.NotEmpty(t, resp.Warning)
		assert.False(t, resp.State.Playing)
	})

	t.Run("watching marks the video completed", func(t *testing.T) {
		var resp echoapi.PlaybackResponse
		for _, pos := range []float64{2, 4, 6, 8, 9} {
			var code int
			code, resp = playback(t, token, sid, session.PlaybackEvent{Playing: true, Position: pos, Duration: 10})
			require.Equal(t, http.StatusOK, code)
			require.True(t, resp.Allowed, "position %v", pos)
		}
		assert.Equal(t, 9.0, resp.State.MaxWatched)
		require.NotEmpty(t, resp.State.Exercises)
		assert.True(t, resp.State.Exercises[0].VideoCompleted)

		// completed videos can be scrubbed freely
		code, resp := playback(t, token, sid, session.PlaybackEvent{Playing: true, Position: 0, Duration: 10})
		require.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Allowed)
	})

	t.Run("playback outside of a video part", func(t *testing.T) {
		_, err := trainingSvc.SubmitRecap(context.Background(), learner.ID, learner.Role, e0.ID, training.RecapInput{Recap: validRecap})
		require.NoError(t, err)

		resp := selectPart(t, token, sid, e0.ID, training.PartQuiz)
		require.True(t, resp.Selected)

		code, _ := playback(t, token, sid, session.PlaybackEvent{Playing: true, Position: 1, Duration: 10})
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("complete", func(t *testing.T) {
		rec := do(http.MethodPost, sessionPath(sid, "complete"), token)
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		_, err := trainingSvc.SubmitQuiz(context.Background(), learner.ID, learner.Role, e0.ID,
			training.QuizSubmission{Kind: training.KindQuiz, Answers: []int{1}})
		require.NoError(t, err)

		rec = do(http.MethodPost, sessionPath(sid, "complete"), token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.CompleteResponse
		unmarshal(t, rec, &resp)
		assert.True(t, resp.Progress.IsCompleted)
		assert.True(t, resp.State.Exercises[0].Completed)
		assert.True(t, resp.State.Exercises[1].Unlocked)
	})

	t.Run("close", func(t *testing.T) {
		rec := do(http.MethodDelete, sessionPath(sid), token)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(http.MethodGet, sessionPath(sid), token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Zero(t, sessions.Len())
	})
}

func Test_sessionApi_preview(t *testing.T) {
	resetDB(t)
	require.NoError(t, sessions.CloseAll(context.Background()))

	leader := testutil.CreateUser(t, usrRepo, "Leader", "leader", "leader@test.vn", "", user.RoleLeader, true)
	token := getToken(t, leader)
	testutil.CreateExercise(t, trainingSvc, "Greeting", 0, "https://videos.test/e0.mp4", 0)
	e1 := testutil.CreateExercise(t, trainingSvc, "Selling", 1, "https://videos.test/e1.mp4", 0)

	st := openSession(t, token, echoapi.OpenSessionRequest{ExerciseID: e1.ID, Part: "video", Preview: true})
	defer do(http.MethodDelete, sessionPath(st.ID), token)

	assert.True(t, st.Preview)
	assert.True(t, st.FullAccess)
	require.NotNil(t, st.Selected)
	assert.Equal(t, e1.ID, st.Selected.ExerciseID)

	code, resp := playback(t, token, st.ID, session.PlaybackEvent{Playing: true, Position: 500, Duration: 600})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Allowed)
	assert.Empty(t, resp.Warning)
}
