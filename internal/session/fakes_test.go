package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeSource serves a fixed script. errs[i], when set, fails the i-th call.
type fakeSource struct {
	mu       sync.Mutex
	prompts  []Prompt
	errs     []error
	calls    int
	resets   int
	resetErr error
}

func scriptOf(n int) []Prompt {
	prompts := make([]Prompt, n)
	for i := range prompts {
		prompts[i] = Prompt{
			Content:      fmt.Sprintf("line %d", i),
			PromptIndex:  i,
			TotalPrompts: n,
			Prompt:       fmt.Sprintf("cue %d", i),
		}
		if i < n-1 {
			next := fmt.Sprintf("cue %d", i+1)
			prompts[i].NextPrompt = &next
		}
	}
	return prompts
}

func (s *fakeSource) NextPrompt(ctx context.Context) (Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Prompt{}, s.errs[i]
	}
	if i >= len(s.prompts) {
		return Prompt{}, errors.New("script exhausted")
	}
	return s.prompts[i], nil
}

func (s *fakeSource) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return s.resetErr
}

// fakeNarrator records utterances and hands their completion callbacks to
// the test.
type fakeNarrator struct {
	mu      sync.Mutex
	voices  []Voice
	spoken  []Utterance
	dones   []func(error)
	cancels int
}

func (n *fakeNarrator) Voices() []Voice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Voice(nil), n.voices...)
}

func (n *fakeNarrator) Speak(u Utterance, done func(error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spoken = append(n.spoken, u)
	n.dones = append(n.dones, done)
}

func (n *fakeNarrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels++
}

func (n *fakeNarrator) speakCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.spoken)
}

// finish reports completion of the most recent utterance.
func (n *fakeNarrator) finish(err error) {
	n.mu.Lock()
	done := n.dones[len(n.dones)-1]
	n.mu.Unlock()
	done(err)
}

type fakeRecorder struct {
	mu     sync.Mutex
	buffer []byte
	active bool
	starts int
	closes int

	// When hold is set, Stop signals stopping and blocks until hold closes.
	hold     chan struct{}
	stopping chan struct{}
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = nil
	r.active = true
	r.starts++
	return nil
}

func (r *fakeRecorder) feed(b string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, b...)
}

func (r *fakeRecorder) Stop() (Clip, error) {
	if r.hold != nil {
		r.stopping <- struct{}{}
		<-r.hold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return Clip{}, errors.New("not recording")
	}
	r.active = false
	data := r.buffer
	r.buffer = nil
	return Clip{Data: data, MIMEType: "audio/wav", CapturedAt: time.Now()}, nil
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.closes++
	return nil
}

type fakeCapturer struct {
	rec *fakeRecorder
	err error
}

func (c *fakeCapturer) Open(ctx context.Context) (Recorder, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.rec, nil
}

// manualClock only fires timers when the test says so.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every pending timer scheduled for d and reports how many ran.
func (c *manualClock) fire(d time.Duration) int {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (c *manualClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
