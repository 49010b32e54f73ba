package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateStarting
	StateCapturing
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// DefaultStartTimeout bounds the wait for stream start acknowledgment
const DefaultStartTimeout = 10 * time.Second

// maxPendingFrames caps the screen frames held while a stream is still
// being acknowledged. Older frames are discarded first.
const maxPendingFrames = 4

// Option configures a Session
type Option func(*Session)

// WithStartTimeout overrides DefaultStartTimeout. Non-positive values are ignored.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.startTimeout = d
		}
	}
}

// WithID sets the session identifier instead of a random UUID
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Stats counts events seen while capturing
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Discarded uint64 `json:"discarded"`
}

// Info is a point-in-time snapshot of a session
type Info struct {
	ID            string        `json:"id"`
	Backend       string        `json:"backend"`
	State         State         `json:"state"`
	Surface       *Surface      `json:"surface,omitempty"`
	Configuration Configuration `json:"configuration"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Stats         Stats         `json:"stats"`
	Error         string        `json:"error,omitempty"`
}

// Session is the live handle over one stream from one surface to one observer.
// A Session is single use: once it leaves Idle it never returns there.
type Session struct {
	id           string
	platform     Platform
	startTimeout time.Duration

	mu            sync.Mutex
	state         State
	surface       *Surface
	cfg           Configuration
	observer      Observer
	stream        Stream
	err           error
	startedAt     time.Time
	stopRequested bool
	cancelStart   context.CancelFunc
	startDone     chan struct{}
	startErrs     chan error
	subscribers   map[chan State]struct{}
	pending       []FrameEvent

	done     chan struct{}
	doneOnce sync.Once

	// deliverMu serializes observer delivery against Stop
	deliverMu sync.Mutex
	delivered atomic.Uint64
	discarded atomic.Uint64
}

// NewSession creates an Idle session that will stream from p
func NewSession(p Platform, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		platform:     p,
		startTimeout: DefaultStartTimeout,
		state:        StateIdle,
		startErrs:    make(chan error, 1),
		subscribers:  make(map[chan State]struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the session is Failed
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session is Stopped or Failed and its stream released
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stats returns delivery counters
func (s *Session) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Info returns a snapshot for status reporting
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:            s.id,
		Backend:       s.platform.Name(),
		State:         s.state,
		Configuration: s.cfg,
		StartedAt:     s.startedAt,
		Stats:         s.Stats(),
	}
	if s.surface != nil {
		surface := *s.surface
		info.Surface = &surface
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// Start binds surface, configuration and observer and starts the platform
// stream. It returns once the stream is Capturing or the start failed.
func (s *Session) Start(ctx context.Context, surface *Surface, cfg Configuration, observer Observer) error {
	log := logger.WithSession("session", s.id)

	if surface == nil {
		return ErrNoSurfaceAvailable
	}
	if observer == nil {
		return fmt.Errorf("%w: observer is required", ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	bound := *surface
	s.surface = &bound
	s.cfg = cfg
	s.observer = observer
	s.cancelStart = cancel
	s.startDone = make(chan struct{})
	startDone := s.startDone
	s.setStateLocked(StateStarting)
	s.mu.Unlock()
	defer close(startDone)

	log.Info().
		Str("backend", s.platform.Name()).
		Uint32("display_id", bound.ID).
		Bool("shows_cursor", cfg.ShowsCursor).
		Bool("captures_audio", cfg.CapturesAudio).
		Int("fps", cfg.FrameRate()).
		Msg("Starting capture stream")

	stream, err := s.platform.OpenStream(bound, cfg, sessionSink{s})
	if err != nil {
		return s.completeStart(nil, fmt.Errorf("%w: %w", ErrStreamStart, err))
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	ack := make(chan error, 1)
	go func() {
		ack <- stream.Start(startCtx)
	}()

	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()

	select {
	case err = <-ack:
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrStreamStart, err)
		}
	case err = <-s.startErrs:
		err = fmt.Errorf("%w: %w", ErrStreamStart, err)
	case <-timer.C:
		err = fmt.Errorf("%w after %s", ErrStartTimeout, s.startTimeout)
	case <-startCtx.Done():
		err = fmt.Errorf("%w: %w", ErrStreamStart, startCtx.Err())
	}
	cancel()

	return s.completeStart(stream, err)
}

// completeStart settles the Starting state. The stream is released on every
// path that does not end in Capturing.
func (s *Session) completeStart(stream Stream, startErr error) error {
	log := logger.WithSession("session", s.id)

	// Held across the transition so frames that arrived during Starting
	// reach the observer ahead of anything the stream emits afterwards
	s.deliverMu.Lock()
	s.mu.Lock()
	pending := s.pending
	s.pending = nil

	switch {
	case s.stopRequested:
		s.setStateLocked(StateStopped)
		s.mu.Unlock()
		s.discarded.Add(uint64(len(pending)))
		s.deliverMu.Unlock()
		s.release(stream)
		log.Info().Msg("Capture stopped before the stream came up")
		return fmt.Errorf("%w: %w", ErrStreamStart, context.Canceled)

	case startErr != nil:
		s.err = startErr
		s.setStateLocked(StateFailed)
		s.mu.Unlock()
		s.discarded.Add(uint64(len(pending)))
		s.deliverMu.Unlock()
		s.release(stream)
		log.Error().Err(startErr).Msg("Capture stream failed to start")
		return startErr
	}

	s.startedAt = time.Now()
	s.setStateLocked(StateCapturing)
	surface := *s.surface
	observer := s.observer
	s.mu.Unlock()

	for _, ev := range pending {
		s.delivered.Add(1)
		observer.OnFrame(ev)
	}
	s.deliverMu.Unlock()

	log.Info().
		Uint32("display_id", surface.ID).
		Int("early_frames", len(pending)).
		Msg("Capture started")
	return nil
}

// Stop ends the session. After Stop returns no further frames are delivered
// and the platform stream has been released. Stop is idempotent.
func (s *Session) Stop() error {
	log := logger.WithSession("session", s.id)

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.setStateLocked(StateStopped)
		s.mu.Unlock()
		s.finish()
		return nil

	case StateStarting:
		s.stopRequested = true
		cancel := s.cancelStart
		startDone := s.startDone
		s.mu.Unlock()
		cancel()
		<-startDone
		return nil

	case StateCapturing:
		s.setStateLocked(StateStopped)
		stream := s.stream
		s.mu.Unlock()

		// Wait out any delivery that checked the state before the transition
		s.deliverMu.Lock()
		s.deliverMu.Unlock()

		err := stream.Stop()
		s.finish()

		stats := s.Stats()
		log.Info().
			Uint64("delivered", stats.Delivered).
			Uint64("discarded", stats.Discarded).
			Msg("Capture stopped")
		if err != nil {
			return fmt.Errorf("failed to release capture stream: %w", err)
		}
		return nil

	default:
		s.mu.Unlock()
		<-s.done
		return nil
	}
}

// Wait blocks until the session ends or ctx is cancelled. It returns the
// failure cause for a Failed session and ctx.Err() on cancellation.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of state transitions. The channel is closed
// when the session finishes; slow readers miss intermediate states.
func (s *Session) Subscribe() <-chan State {
	ch := make(chan State, 8)

	s.mu.Lock()
	defer s.mu.Unlock()

	ch <- s.state
	select {
	case <-s.done:
		close(ch)
	default:
		s.subscribers[ch] = struct{}{}
	}
	return ch
}

// Unsubscribe stops delivery to a channel returned by Subscribe
func (s *Session) Unsubscribe(ch <-chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	for ch := range s.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}

func (s *Session) release(stream Stream) {
	if stream != nil {
		if err := stream.Stop(); err != nil {
			logger.WithSession("session", s.id).Warn().Err(err).Msg("Failed to release capture stream")
		}
	}
	s.finish()
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		for ch := range s.subscribers {
			close(ch)
		}
		clear(s.subscribers)
		s.mu.Unlock()
		close(s.done)
	})
}

// sessionSink is the Sink handed to the platform stream
type sessionSink struct {
	s *Session
}

func (k sessionSink) OnSample(ev FrameEvent) {
	s := k.s
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	state := s.state
	observer := s.observer
	if state == StateStarting {
		// The stream may emit before its start is acknowledged
		if ev.Type != StreamTypeScreen {
			s.mu.Unlock()
			s.discarded.Add(1)
			return
		}
		if len(s.pending) == maxPendingFrames {
			s.pending = s.pending[1:]
			s.discarded.Add(1)
		}
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if state != StateCapturing {
		return
	}
	if ev.Type != StreamTypeScreen {
		s.discarded.Add(1)
		return
	}

	s.delivered.Add(1)
	observer.OnFrame(ev)
}

func (k sessionSink) OnError(err error) {
	s := k.s
	log := logger.WithSession("session", s.id)

	s.mu.Lock()
	switch s.state {
	case StateStarting:
		s.mu.Unlock()
		select {
		case s.startErrs <- err:
		default:
		}

	case StateCapturing:
		s.err = fmt.Errorf("%w: %w", ErrStreamRuntime, err)
		s.setStateLocked(StateFailed)
		stream := s.stream
		s.mu.Unlock()

		log.Error().Err(err).Msg("Capture stream reported a fatal error")

		// OnError may run on the stream's own goroutine, so release elsewhere
		go func() {
			s.deliverMu.Lock()
			s.deliverMu.Unlock()
			s.release(stream)
		}()

	default:
		s.mu.Unlock()
		log.Debug().Err(err).Msg("Ignoring stream error outside of capture")
	}
}
