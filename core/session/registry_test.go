package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academy/core/training"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func newTestRegistry(store Store, idle time.Duration) *Registry {
	opts := testOptions()
	opts.TickInterval = time.Hour
	opts.FlushInterval = time.Hour
	opts.Logger = nopLogger{}
	return NewRegistry(store, opts, idle, nopLogger{})
}

func TestRegistry_Open(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(newFakeStore(), time.Minute)
	defer reg.CloseAll(ctx)

	_, err := reg.Open(ctx, "", learner, nil, false)
	assert.Equal(t, ErrNotAuthenticated, err)

	ctrl, err := reg.Open(ctx, "u1", learner, &Selection{ExerciseID: "E1", Part: training.PartVideo}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, ctrl.ID)
	assert.Equal(t, "E0", ctrl.State().Selected.ExerciseID, "locked deep link")

	preview, err := reg.Open(ctx, "u1", learner, nil, true)
	require.NoError(t, err)
	assert.True(t, preview.State().Preview)
	assert.NotEqual(t, ctrl.ID, preview.ID)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_ownership(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(newFakeStore(), time.Minute)
	defer reg.CloseAll(ctx)

	ctrl, err := reg.Open(ctx, "u1", learner, nil, false)
	require.NoError(t, err)

	got, err := reg.Get(ctrl.ID, "u1")
	require.NoError(t, err)
	assert.Same(t, ctrl, got)

	_, err = reg.Get(ctrl.ID, "u2")
	assert.Equal(t, ErrSessionNotFound, err)
	assert.Equal(t, ErrSessionNotFound, reg.Close(ctx, ctrl.ID, "u2"))
	_, err = reg.Get("unknown", "u1")
	assert.Equal(t, ErrSessionNotFound, err)

	require.NoError(t, reg.Close(ctx, ctrl.ID, "u1"))
	assert.True(t, ctrl.State().Closed)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, ErrSessionNotFound, reg.Close(ctx, ctrl.ID, "u1"))
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := newTestRegistry(store, time.Minute)
	defer reg.CloseAll(ctx)

	idle, err := reg.Open(ctx, "u1", learner, nil, false)
	require.NoError(t, err)
	_, err = idle.Playback(ctx, PlaybackEvent{Playing: true, Duration: 100})
	require.NoError(t, err)
	idle.Tick()
	idle.Tick()

	assert.Equal(t, 0, reg.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, reg.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, idle.State().Closed)
	assert.Equal(t, 2, store.totalWritten("E0"), "idle session flushed")
}

func TestRegistry_CloseAll(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := newTestRegistry(store, time.Minute)

	var sessions []*Controller
	for _, userID := range []string{"u1", "u2", "u3"} {
		ctrl, err := reg.Open(ctx, userID, learner, nil, false)
		require.NoError(t, err)
		_, err = ctrl.Playback(ctx, PlaybackEvent{Playing: true, Duration: 100})
		require.NoError(t, err)
		ctrl.Tick()
		sessions = append(sessions, ctrl)
	}

	require.NoError(t, reg.CloseAll(ctx))
	assert.Equal(t, 0, reg.Len())
	for _, ctrl := range sessions {
		assert.True(t, ctrl.State().Closed)
	}
	assert.Equal(t, 3, store.totalWritten("E0"))
}

func TestRegistry_Run(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	ctrl, err := reg.Open(ctx, "u1", learner, nil, false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry did not stop")
	}
	assert.True(t, ctrl.State().Closed)
	assert.Equal(t, 0, reg.Len())
}

func TestTracker(t *testing.T) {
	tests := []struct {
		name      string
		bypass    bool
		positions []float64
		want      []bool
		wantMax   float64
	}{
		{
			name:      "sequential viewing",
			positions: []float64{0, 1, 2, 3, 5},
			want:      []bool{true, true, true, true, true},
			wantMax:   5,
		},
		{
			name:      "skip ahead",
			positions: []float64{1, 30, 3},
			want:      []bool{true, false, true},
			wantMax:   3,
		},
		{
			name:      "backward",
			positions: []float64{2, 4, 1, 0},
			want:      []bool{true, true, true, true},
			wantMax:   4,
		},
		{
			name:      "negative clamps to zero",
			positions: []float64{-5},
			want:      []bool{true},
			wantMax:   0,
		},
		{
			name:      "bypass",
			bypass:    true,
			positions: []float64{120, 10},
			want:      []bool{true, true},
			wantMax:   120,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(2, tt.bypass)
			for i, pos := range tt.positions {
				res := tr.Seek(pos)
				assert.Equal(t, tt.want[i], res.Allowed, "position %v", pos)
				if !res.Allowed {
					assert.Equal(t, "you cannot skip ahead of 00:01", res.Warning)
					assert.Equal(t, 1.0, res.SnapTo)
				}
			}
			assert.Equal(t, tt.wantMax, tr.MaxWatched())
		})
	}

	tr := NewTracker(2, false)
	assert.False(t, tr.Seek(10).Allowed)
	tr.Unrestrict()
	assert.True(t, tr.Bypassed())
	assert.True(t, tr.Seek(10).Allowed)
}
