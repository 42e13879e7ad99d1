// Package session holds the per-viewer training session: which exercise & part is displayed,
// the time spent watching, and the video seek restriction. Every navigation goes through the gate.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
)

var (
	// errors
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrNoSelection      = errors.New("no exercise selected")
	ErrNotWatching      = errors.New("no video part selected")
	ErrClosed           = errors.New("session closed")
)

// StaleWriteError is returned when pending time could not be persisted.
// The time is kept and retried on the next flush.
type StaleWriteError struct {
	ExerciseID string
	Seconds    int
	Err        error
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("flushing %ds on exercise %s: %v", e.Seconds, e.ExerciseID, e.Err)
}

func (e *StaleWriteError) Unwrap() error { return e.Err }

// Store is the progress collaborator of a Controller. *training.Service satisfies it.
type Store interface {
	Snapshot(ctx context.Context, userID, role string) (training.Gate, error)
	AddTimeSpent(ctx context.Context, userID, exerciseID string, seconds int) error
	MarkVideoCompleted(ctx context.Context, userID, exerciseID string) (training.Progress, error)
	CompleteExercise(ctx context.Context, userID, role, exerciseID string, addTime int) (training.Progress, error)
}

var _ Store = (*training.Service)(nil)

type Options struct {
	SeekTolerance        time.Duration
	VideoCompletionRatio float64
	TickInterval         time.Duration // one tick accounts for one second of viewing
	PlaybackTimeout      time.Duration // no tick is counted this long after the last playback event
	FlushInterval        time.Duration
	Preview              bool // lifts the seek restriction
	Logger               core.Logger
}

// NewOptions returns the session options of conf.
func NewOptions(conf *core.Config, logger core.Logger) Options {
	return Options{
		SeekTolerance:        conf.Training.SeekTolerance,
		VideoCompletionRatio: conf.Training.VideoCompletionRatio,
		TickInterval:         conf.Training.TickInterval,
		PlaybackTimeout:      conf.Training.PlaybackTimeout,
		FlushInterval:        conf.Training.FlushInterval,
		Logger:               logger,
	}
}

// Selection is the displayed exercise & part.
type Selection struct {
	ExerciseID string        `json:"exercise_id"`
	Part       training.Part `json:"part"`
}

// PlaybackEvent is reported by the video player.
type PlaybackEvent struct {
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"` // seconds
	Duration float64 `json:"duration"` // seconds
	Ended    bool    `json:"ended"`
}

// State is a snapshot of a Controller.
type State struct {
	ID                 string                    `json:"id,omitempty"`
	Authenticated      bool                      `json:"authenticated"`
	FullAccess         bool                      `json:"full_access"`
	Preview            bool                      `json:"preview"`
	Selected           *Selection                `json:"selected"`
	Playing            bool                      `json:"playing"`
	ElapsedSeconds     int                       `json:"elapsed_seconds"`
	LastFlushedSeconds int                       `json:"last_flushed_seconds"`
	PendingSeconds     int                       `json:"pending_seconds"`
	MaxWatched         float64                   `json:"max_watched"`
	CanComplete        bool                      `json:"can_complete"`
	Exercises          []training.ExerciseStatus `json:"exercises"`
	Closed             bool                      `json:"closed"`
}

// Controller is the selection & time tracking of one viewer session.
// It is safe for concurrent use: HTTP handlers and the Run loop share it.
type Controller struct {
	ID string

	store  Store
	userID string
	role   string
	opts   Options

	io sync.Mutex // serializes store calls

	mu          sync.Mutex // guards the fields below
	gate        training.Gate
	selected    *Selection
	elapsed     int
	lastFlushed int
	backlog     map[string]int // unflushed seconds of previously selected exercises
	playing     bool
	lastEvent   time.Time // last playback event
	tracker     *Tracker
	videoMarked map[string]bool
	lastActive  time.Time
	closed      bool
	cancelRun   context.CancelFunc
	runDone     chan struct{}

	now func() time.Time
}

// NewController returns a session of userID. An empty userID gives an unauthenticated session
// refusing every navigation.
func NewController(store Store, userID, role string, opts Options) (*Controller, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		positiveDuration(opts.TickInterval, "TickInterval"),
		positiveDuration(opts.FlushInterval, "FlushInterval"),
		positiveDuration(opts.PlaybackTimeout, "PlaybackTimeout"),
		ratio(opts.VideoCompletionRatio, "VideoCompletionRatio"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "validating session options")
	}

	return &Controller{
		store:       store,
		userID:      userID,
		role:        role,
		opts:        opts,
		backlog:     make(map[string]int),
		videoMarked: make(map[string]bool),
		lastActive:  time.Now(),
		now:         time.Now,
	}, nil
}

func positiveDuration(d time.Duration, name string) vala.Checker {
	return func() (bool, string) {
		return d > 0, fmt.Sprintf("%s must be positive, got %v", name, d)
	}
}

func ratio(r float64, name string) vala.Checker {
	return func() (bool, string) {
		return r > 0 && r <= 1, fmt.Sprintf("%s must be in (0, 1], got %v", name, r)
	}
}

func (c *Controller) authenticated() bool { return c.userID != "" }

func (c *Controller) UserID() string { return c.userID }

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastActive = c.now()
	c.mu.Unlock()
}

// LastActive returns the time of the last session operation.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) logWarn(msg string, err error) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, err, map[string]interface{}{"session": c.ID, "user_id": c.userID})
	}
}

// refresh re-evaluates the gate. Must be called with c.io held.
func (c *Controller) refresh(ctx context.Context) (training.Gate, error) {
	gate, err := c.store.Snapshot(ctx, c.userID, c.role)
	if err != nil {
		return training.Gate{}, errors.Wrap(err, "refreshing gate")
	}
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	return gate, nil
}

// Init loads the gate and selects the deep linked exercise & part when the gate allows it,
// else the first unlocked exercise not yet completed.
func (c *Controller) Init(ctx context.Context, deepLink *Selection) error {
	c.io.Lock()
	defer c.io.Unlock()
	c.touch()

	if !c.authenticated() {
		return nil
	}
	gate, err := c.refresh(ctx)
	if err != nil {
		return err
	}

	if deepLink != nil && gate.IsPartUnlocked(deepLink.ExerciseID, deepLink.Part) {
		c.switchTo(gate, Selection{ExerciseID: deepLink.ExerciseID, Part: deepLink.Part})
		return nil
	}
	if id, ok := gate.FirstSelectable(); ok {
		c.switchTo(gate, Selection{ExerciseID: id, Part: training.PartVideo})
	}
	return nil
}

// switchTo sets the selection and resets the time accumulator.
// Pending time of the previous selection must have been flushed or moved to the backlog.
func (c *Controller) switchTo(gate training.Gate, sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exerciseChanged := c.selected == nil || c.selected.ExerciseID != sel.ExerciseID
	c.selected = &sel
	c.elapsed = 0
	c.lastFlushed = 0
	c.playing = false

	if exerciseChanged || c.tracker == nil {
		st, _ := gate.Status(sel.ExerciseID)
		c.tracker = NewTracker(c.opts.SeekTolerance.Seconds(),
			gate.FullAccess() || c.opts.Preview || st.VideoCompleted)
	}
}

// Select navigates to the exercise part. Locked targets are refused with (false, nil).
func (c *Controller) Select(ctx context.Context, exerciseID string, part training.Part) (bool, error) {
	c.io.Lock()
	defer c.io.Unlock()
	c.touch()

	if !c.authenticated() {
		return false, nil
	}
	if c.isClosed() {
		return false, ErrClosed
	}

	gate, err := c.refresh(ctx)
	if err != nil {
		return false, err
	}
	if !gate.IsPartUnlocked(exerciseID, part) {
		return false, nil
	}

	if err = c.flush(ctx); err != nil {
		c.logWarn("flushing before selection", err)
	}
	c.mu.Lock()
	if c.selected != nil {
		if delta := c.elapsed - c.lastFlushed; delta > 0 {
			c.backlog[c.selected.ExerciseID] += delta
		}
	}
	c.mu.Unlock()

	c.switchTo(gate, Selection{ExerciseID: exerciseID, Part: part})
	return true, nil
}

// Tick accounts one second of viewing when a video part is playing.
// A player silent for longer than PlaybackTimeout is considered stopped.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.authenticated() || c.selected == nil || !c.selected.Part.IsVideo() || !c.playing {
		return
	}
	if c.now().Sub(c.lastEvent) > c.opts.PlaybackTimeout {
		c.playing = false
		return
	}
	c.elapsed++
}

// Flush persists the time not yet flushed. Only successful writes are marked as flushed,
// failed ones are retried by the next flush.
func (c *Controller) Flush(ctx context.Context) error {
	c.io.Lock()
	defer c.io.Unlock()
	return c.flush(ctx)
}

// flush must be called with c.io held.
func (c *Controller) flush(ctx context.Context) error {
	if !c.authenticated() {
		return nil
	}

	c.mu.Lock()
	backlog := make(map[string]int, len(c.backlog))
	for id, secs := range c.backlog {
		backlog[id] = secs
	}
	var exerciseID string
	if c.selected != nil {
		exerciseID = c.selected.ExerciseID
	}
	flushedTo := c.elapsed
	delta := flushedTo - c.lastFlushed
	c.mu.Unlock()

	var firstErr error
	for id, secs := range backlog {
		if err := c.store.AddTimeSpent(ctx, c.userID, id, secs); err != nil {
			if firstErr == nil {
				firstErr = &StaleWriteError{ExerciseID: id, Seconds: secs, Err: err}
			}
			continue
		}
		c.mu.Lock()
		if c.backlog[id] -= secs; c.backlog[id] <= 0 {
			delete(c.backlog, id)
		}
		c.mu.Unlock()
	}

	if exerciseID != "" && delta > 0 {
		if err := c.store.AddTimeSpent(ctx, c.userID, exerciseID, delta); err != nil {
			if firstErr == nil {
				firstErr = &StaleWriteError{ExerciseID: exerciseID, Seconds: delta, Err: err}
			}
		} else {
			c.mu.Lock()
			c.lastFlushed = flushedTo
			c.mu.Unlock()
		}
	}
	return firstErr
}

// Playback handles a player event: it drives ticking, restricts forward seeking
// and marks the video completed once watched up to the completion ratio (or ended).
func (c *Controller) Playback(ctx context.Context, ev PlaybackEvent) (SeekResult, error) {
	c.io.Lock()
	defer c.io.Unlock()
	c.touch()

	if !c.authenticated() {
		return SeekResult{}, ErrNotAuthenticated
	}
	if c.isClosed() {
		return SeekResult{}, ErrClosed
	}

	c.mu.Lock()
	if c.selected == nil || !c.selected.Part.IsVideo() {
		c.mu.Unlock()
		return SeekResult{}, ErrNotWatching
	}
	exerciseID := c.selected.ExerciseID
	tracker := c.tracker
	alreadyMarked := c.videoMarked[exerciseID]
	st, _ := c.gate.Status(exerciseID)
	c.mu.Unlock()

	position := ev.Position
	if ev.Ended && position <= 0 {
		position = ev.Duration
	}
	res := tracker.Seek(position)

	c.mu.Lock()
	c.playing = ev.Playing && !ev.Ended && res.Allowed
	c.lastEvent = c.now()
	c.mu.Unlock()

	if !res.Allowed || alreadyMarked || st.VideoCompleted {
		return res, nil
	}

	// under the seek restriction, ended only counts once the completion ratio was actually watched
	reached := ev.Duration > 0 && math.Max(position, tracker.MaxWatched())/ev.Duration >= c.opts.VideoCompletionRatio
	watched := reached || (ev.Ended && tracker.Bypassed())
	if !watched {
		return res, nil
	}
	if _, err := c.store.MarkVideoCompleted(ctx, c.userID, exerciseID); err != nil {
		return res, errors.Wrap(err, "marking video completed")
	}
	c.mu.Lock()
	c.videoMarked[exerciseID] = true
	c.mu.Unlock()
	tracker.Unrestrict()

	if _, err := c.refresh(ctx); err != nil {
		c.logWarn("refreshing gate after video completion", err)
	}
	return res, nil
}

// Complete marks the selected exercise completed with the time not yet flushed.
// It fails closed: on error nothing is marked and the pending time is kept.
func (c *Controller) Complete(ctx context.Context) (training.Progress, error) {
	c.io.Lock()
	defer c.io.Unlock()
	c.touch()

	if !c.authenticated() {
		return training.Progress{}, ErrNotAuthenticated
	}
	if c.isClosed() {
		return training.Progress{}, ErrClosed
	}

	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return training.Progress{}, ErrNoSelection
	}
	exerciseID := c.selected.ExerciseID
	flushedTo := c.elapsed
	backlogged := c.backlog[exerciseID]
	addTime := flushedTo - c.lastFlushed + backlogged
	c.mu.Unlock()

	p, err := c.store.CompleteExercise(ctx, c.userID, c.role, exerciseID, addTime)
	if err != nil {
		return training.Progress{}, err
	}

	c.mu.Lock()
	c.lastFlushed = flushedTo
	if c.backlog[exerciseID] -= backlogged; c.backlog[exerciseID] <= 0 {
		delete(c.backlog, exerciseID)
	}
	c.mu.Unlock()

	if _, err = c.refresh(ctx); err != nil {
		c.logWarn("refreshing gate after completion", err)
	}
	return p, nil
}

// Start runs the session timers in the background until Close.
func (c *Controller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.cancelRun != nil || c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelRun = cancel
	c.runDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.Run(ctx)
	}()
}

// Run ticks every TickInterval and flushes every FlushInterval until ctx is done,
// then stops both timers and performs a final flush.
func (c *Controller) Run(ctx context.Context) {
	tick := time.NewTicker(c.opts.TickInterval)
	defer tick.Stop()
	flush := time.NewTicker(c.opts.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-tick.C:
			c.Tick()
		case <-flush.C:
			if err := c.Flush(ctx); err != nil {
				c.logWarn("periodic flush", err)
			}
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(fctx); err != nil {
				c.logWarn("final flush", err)
			}
			cancel()
			return
		}
	}
}

// Close stops the timers and flushes the pending time. It is idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.playing = false
	cancel, done := c.cancelRun, c.runDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.io.Lock()
	defer c.io.Unlock()
	err := c.flush(ctx)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		ID:                 c.ID,
		Authenticated:      c.authenticated(),
		FullAccess:         c.gate.FullAccess(),
		Preview:            c.opts.Preview,
		Playing:            c.playing,
		ElapsedSeconds:     c.elapsed,
		LastFlushedSeconds: c.lastFlushed,
		PendingSeconds:     c.elapsed - c.lastFlushed,
		Exercises:          c.gate.Statuses(),
		Closed:             c.closed,
	}
	for _, secs := range c.backlog {
		st.PendingSeconds += secs
	}
	if c.selected != nil {
		sel := *c.selected
		st.Selected = &sel
		st.CanComplete = c.gate.CanCompleteExercise(sel.ExerciseID)
	}
	if c.tracker != nil {
		st.MaxWatched = c.tracker.MaxWatched()
	}
	return st
}
