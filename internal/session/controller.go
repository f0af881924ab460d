package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidState       = errors.New("invalid state for action")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrClosed             = errors.New("session closed")
	ErrNarrationTimeout   = errors.New("narration timed out")
)

// Deps are the capabilities injected into a Controller. Narrator and
// Capturer may be nil: without a narrator the learner always continues
// manually, and without a capturer recording is unavailable.
type Deps struct {
	Source   PromptSource
	Narrator Narrator
	Capturer Capturer
	Clock    Clock
}

// Hooks are the host's callbacks. Each is optional and is never invoked
// with the controller lock held.
type Hooks struct {
	OnRecording func(Clip)
	OnFeedback  func(Feedback)
	OnExit      func()
}

// Options tune narration.
type Options struct {
	VoiceMatch []string
	Pitch      float64
	Rate       float64
	Pause      time.Duration // after narration ends, before prompting the user
	Watchdog   time.Duration // forces completion if the narrator never reports
	Logger     *zerolog.Logger
}

// DefaultOptions returns the tuned narration defaults.
func DefaultOptions() Options {
	return Options{
		Pitch:    1.3,
		Rate:     1.3,
		Pause:    time.Second,
		Watchdog: 15 * time.Second,
	}
}

// effects are capability calls collected under the lock and run after it is
// released, so callbacks can re-enter the controller.
type effects []func()

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

// Controller owns one interview session.
type Controller struct {
	source   PromptSource
	narrator Narrator
	capturer Capturer
	clock    Clock
	hooks    Hooks
	opts     Options
	log      zerolog.Logger

	mu sync.Mutex

	recorder   Recorder
	captureErr error
	capturing  bool
	mounted    bool

	state          State
	promptIndex    int
	totalPrompts   int
	caption        string
	muted          bool
	speaking       bool
	loading        bool
	resultsVisible bool
	latest         *Clip
	submitted      bool

	// Narration latch. gen is bumped every time narration starts or is
	// abandoned; callbacks carrying an older gen are ignored.
	gen      uint64
	advanced bool
	watchdog Timer
	pause    Timer

	// finalizing tracks a clip being finalized by StopCapture. Close waits
	// for it so the clip reaches OnRecording before the recorder is
	// released and before OnExit.
	finalizing sync.WaitGroup

	closed    bool
	updates   chan Snapshot
	closeOnce sync.Once
	exitOnce  sync.Once
}

// New creates a controller in the initial state.
func New(deps Deps, hooks Hooks, opts Options) *Controller {
	def := DefaultOptions()
	if opts.Pitch == 0 {
		opts.Pitch = def.Pitch
	}
	if opts.Rate == 0 {
		opts.Rate = def.Rate
	}
	if opts.Pause <= 0 {
		opts.Pause = def.Pause
	}
	if opts.Watchdog <= 0 {
		opts.Watchdog = def.Watchdog
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "session").Logger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Controller{
		source:   deps.Source,
		narrator: deps.Narrator,
		capturer: deps.Capturer,
		clock:    clock,
		hooks:    hooks,
		opts:     opts,
		log:      log,
		state:    StateInitial,
		updates:  make(chan Snapshot, 1),
	}
}

// Mount acquires the microphone. It runs once per controller; a failure is
// surfaced as the snapshot's Notice and disables capture commands, but the
// session stays usable.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	capturer := c.capturer
	c.mu.Unlock()

	var (
		rec Recorder
		err error
	)
	if capturer == nil {
		err = errors.New("no capture device configured")
	} else {
		rec, err = capturer.Open(ctx)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if rec != nil {
			rec.Close()
		}
		return ErrClosed
	}
	defer c.mu.Unlock()
	if err != nil {
		c.captureErr = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		c.log.Error().Err(err).Msg("microphone unavailable")
		c.publishLocked()
		return c.captureErr
	}
	c.recorder = rec
	c.log.Debug().Msg("microphone acquired")
	c.publishLocked()
	return nil
}

// Start fetches the first prompt and begins narrating it. On failure the
// apology caption is shown and the session stays in the initial state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateInitial || c.loading {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.loading = true
	c.publishLocked()
	c.mu.Unlock()

	p, err := c.source.NextPrompt(ctx)

	c.mu.Lock()
	c.loading = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.caption = ApologyCaption
		c.log.Error().Err(err).Msg("fetch first prompt")
		c.publishLocked()
		c.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	c.applyPromptLocked(p)
	c.state = StatePatientTalking
	fx := c.narrateLocked()
	c.publishLocked()
	c.mu.Unlock()

	fx.run()
	return nil
}

// Continue skips the rest of the narration and prompts the user right away.
func (c *Controller) Continue() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StatePatientTalking {
		c.mu.Unlock()
		return ErrInvalidState
	}
	fx := c.abandonNarrationLocked()
	c.state = StateUserPrompted
	c.publishLocked()
	c.mu.Unlock()

	fx.run()
	return nil
}

// ToggleMute flips the mute flag. Muting cancels active narration without
// advancing; unmuting does not replay anything.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.muted = !c.muted
	var fx effects
	if c.muted && c.speaking {
		fx = c.abandonNarrationLocked()
	}
	c.log.Debug().Bool("muted", c.muted).Msg("mute toggled")
	c.publishLocked()
	c.mu.Unlock()

	fx.run()
}

// StartCapture begins recording the user's response.
func (c *Controller) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateUserPrompted {
		return ErrInvalidState
	}
	if c.recorder == nil {
		if c.captureErr != nil {
			return c.captureErr
		}
		return ErrCaptureUnavailable
	}
	if err := c.recorder.Start(); err != nil {
		c.log.Error().Err(err).Msg("start capture")
		return fmt.Errorf("start capture: %w", err)
	}
	c.capturing = true
	c.state = StateUserTalking
	c.publishLocked()
	return nil
}

// StopCapture ends the user's turn. The clip is finalized while the next
// prompt is fetched; the clip reaches OnRecording as soon as it is ready and
// always before the session leaves the turn.
func (c *Controller) StopCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateUserTalking || !c.capturing {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.capturing = false
	c.loading = true
	c.finalizing.Add(1)
	rec := c.recorder
	answered, caption := c.promptIndex, c.caption
	c.publishLocked()
	c.mu.Unlock()

	var (
		next     Prompt
		fetchErr error
		g        errgroup.Group
	)
	g.Go(func() error {
		defer c.finalizing.Done()
		clip, err := rec.Stop()
		if err != nil {
			return fmt.Errorf("finalize capture: %w", err)
		}
		clip.PromptIndex = answered
		clip.Caption = caption
		c.deliverRecording(clip)
		return nil
	})
	g.Go(func() error {
		next, fetchErr = c.source.NextPrompt(ctx)
		return nil
	})
	captureErr := g.Wait()
	if captureErr != nil {
		c.log.Error().Err(captureErr).Msg("capture finalization failed")
	}

	c.mu.Lock()
	c.loading = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	var fx effects
	switch {
	case fetchErr != nil:
		c.log.Error().Err(fetchErr).Msg("fetch next prompt")
		c.caption = ApologyCaption
		c.state = StateFeedback
	case next.NextPrompt == nil:
		c.applyPromptLocked(next)
		c.state = StateFeedback
	default:
		c.applyPromptLocked(next)
		c.state = StatePatientTalking
		fx = c.narrateLocked()
	}
	c.log.Info().Stringer("state", c.state).Int("promptIndex", c.promptIndex).Msg("turn finished")
	c.publishLocked()
	c.mu.Unlock()

	fx.run()
	if fetchErr != nil {
		return fmt.Errorf("fetch next prompt: %w", fetchErr)
	}
	return captureErr
}

// SubmitFeedback records the learner's feedback, resets the remote script
// and ends the session. It succeeds once, in the feedback state only.
func (c *Controller) SubmitFeedback(ctx context.Context, fb Feedback) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateFeedback || c.submitted {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.submitted = true
	c.mu.Unlock()

	fb.Rating = clampRating(fb.Rating)
	if err := c.source.Reset(ctx); err != nil {
		c.log.Warn().Err(err).Msg("reset prompts")
	}
	c.log.Info().Int("rating", fb.Rating).Str("text", fb.Text).Msg("feedback submitted")
	if c.hooks.OnFeedback != nil {
		c.hooks.OnFeedback(fb)
	}
	c.exit()
	return nil
}

// Leave abandons the session from any state without resetting the remote
// script.
func (c *Controller) Leave() {
	c.exit()
}

func (c *Controller) exit() {
	c.Close()
	c.exitOnce.Do(func() {
		if c.hooks.OnExit != nil {
			c.hooks.OnExit()
		}
	})
}

// Close tears the session down: narration is canceled, timers stopped and
// the update stream closed. A clip still being finalized is delivered before
// the microphone is released. Safe to call repeatedly.
func (c *Controller) Close() error {
	var (
		fx  effects
		rec Recorder
	)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		fx = c.abandonNarrationLocked()
		c.closed = true
		c.capturing = false
		rec = c.recorder
		close(c.updates)
		c.mu.Unlock()
	})
	fx.run()
	c.finalizing.Wait()
	if rec != nil {
		if err := rec.Close(); err != nil {
			c.log.Warn().Err(err).Msg("release microphone")
			return fmt.Errorf("release microphone: %w", err)
		}
	}
	return nil
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Updates streams snapshots after every change. Only the latest unread
// snapshot is kept. The channel is closed when the session is torn down.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// LatestRecording returns the most recent finalized clip, if any.
func (c *Controller) LatestRecording() (Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return Clip{}, false
	}
	return *c.latest, true
}

func (c *Controller) applyPromptLocked(p Prompt) {
	c.caption = p.Content
	c.promptIndex = p.PromptIndex
	c.totalPrompts = p.TotalPrompts
	if c.promptIndex > ResultsRevealIndex {
		c.resultsVisible = true
	}
}

// narrateLocked starts narrating the current caption under a fresh
// generation. Muted sessions stay in patientTalking until Continue.
func (c *Controller) narrateLocked() effects {
	c.stopTimersLocked()
	c.gen++
	c.advanced = false
	c.speaking = false
	if c.muted || c.narrator == nil || c.caption == "" {
		return nil
	}

	gen := c.gen
	n := c.narrator
	u := Utterance{
		Text:  c.caption,
		Voice: SelectVoice(n.Voices(), c.opts.VoiceMatch).Name,
		Pitch: c.opts.Pitch,
		Rate:  c.opts.Rate,
	}
	c.speaking = true
	c.watchdog = c.clock.AfterFunc(c.opts.Watchdog, func() {
		c.narrationEnded(gen, ErrNarrationTimeout)
	})
	c.log.Debug().Str("voice", u.Voice).Int("promptIndex", c.promptIndex).Msg("narration started")

	return effects{
		n.Cancel,
		func() {
			n.Speak(u, func(err error) { c.narrationEnded(gen, err) })
		},
	}
}

// narrationEnded is the single entry point for natural end, error and
// watchdog. The first signal for the current generation arms the pause;
// every later one is dropped.
func (c *Controller) narrationEnded(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || c.advanced || c.state != StatePatientTalking {
		return
	}
	c.advanced = true
	c.speaking = false
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("narration ended abnormally")
	}
	c.pause = c.clock.AfterFunc(c.opts.Pause, func() {
		c.promptUser(gen)
	})
	c.publishLocked()
}

func (c *Controller) promptUser(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || c.state != StatePatientTalking {
		return
	}
	c.pause = nil
	c.state = StateUserPrompted
	c.publishLocked()
}

// abandonNarrationLocked invalidates the current generation so pending
// callbacks and timers become no-ops.
func (c *Controller) abandonNarrationLocked() effects {
	c.stopTimersLocked()
	c.gen++
	c.speaking = false
	if c.narrator == nil {
		return nil
	}
	return effects{c.narrator.Cancel}
}

func (c *Controller) stopTimersLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.pause != nil {
		c.pause.Stop()
		c.pause = nil
	}
}

func (c *Controller) deliverRecording(clip Clip) {
	c.mu.Lock()
	c.latest = &clip
	c.publishLocked()
	hook := c.hooks.OnRecording
	c.mu.Unlock()

	c.log.Info().Int("bytes", len(clip.Data)).Dur("duration", clip.Duration).Msg("recording saved")
	if hook != nil {
		hook(clip)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:          c.state,
		PromptIndex:    c.promptIndex,
		TotalPrompts:   c.totalPrompts,
		Caption:        c.caption,
		Muted:          c.muted,
		Speaking:       c.speaking,
		Loading:        c.loading,
		ResultsVisible: c.resultsVisible,
		HasRecording:   c.latest != nil,
		Progress:       Progress(c.promptIndex, c.totalPrompts),
	}
	if c.captureErr != nil {
		s.Notice = CaptureNotice
	}
	return s
}

// publishLocked offers the latest snapshot without blocking, replacing an
// unread one.
func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	s := c.snapshotLocked()
	select {
	case c.updates <- s:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- s:
	default:
	}
}
