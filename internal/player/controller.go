package player

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/metrics"
)

// Controller is the playback state machine. It owns the single
// PlaybackState, runs at most one acquisition pipeline at a time and
// republishes engine events to subscribers.
type Controller struct {
	classifier Classifier
	acquirer   Acquirer
	engine     Engine
	logger     *slog.Logger

	mu          sync.Mutex
	state       domain.PlaybackState
	generation  uint64
	cancel      context.CancelFunc
	subscribers map[*subscription]struct{}
	closed      bool

	// engineMu serialises commands sent to the engine.
	engineMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

func NewController(classifier Classifier, acquirer Acquirer, engine Engine, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		classifier:  classifier,
		acquirer:    acquirer,
		engine:      engine,
		logger:      logger,
		state:       domain.PlaybackState{Phase: domain.PhaseIdle},
		subscribers: make(map[*subscription]struct{}),
		done:        make(chan struct{}),
	}

	c.wg.Add(1)
	go c.watchEngine()

	return c
}

// State returns the current snapshot.
func (c *Controller) State() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// Subscribe registers a subscriber and returns its update channel and a
// function that detaches it. The current state is delivered first; every
// later snapshot follows in publication order. The channel is closed once
// the subscriber is detached or the controller is closed.
func (c *Controller) Subscribe() (<-chan domain.PlaybackState, func()) {
	sub := newSubscription(c.unsubscribe)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return sub.Updates(), sub.Close
	}
	c.subscribers[sub] = struct{}{}
	sub.push(cloneState(c.state))
	c.mu.Unlock()
	return sub.Updates(), sub.Close
}

func (c *Controller) unsubscribe(sub *subscription) {
	c.mu.Lock()
	delete(c.subscribers, sub)
	c.mu.Unlock()
}

// Play cancels whatever is in flight and starts acquiring raw. Input that
// cannot be classified moves the controller to Errored and is returned.
func (c *Controller) Play(raw string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errpkg.Ef(errpkg.KindInvalidState, "player.Play", "controller closed")
	}

	gen, ctx := c.restartLocked()
	if c.state.Phase == domain.PhaseErrored || c.state.Phase == domain.PhaseStopped {
		c.state = domain.PlaybackState{Phase: domain.PhaseIdle}
		c.phaseChangedLocked()
	}
	c.state = domain.PlaybackState{
		CurrentSourceID: strings.TrimSpace(raw),
		Phase:           domain.PhaseResolving,
	}
	c.phaseChangedLocked()
	c.mu.Unlock()

	c.stopEngine()

	cls, err := c.classifier.Classify(raw)
	if err != nil {
		c.fail(gen, err)
		return err
	}

	c.wg.Add(1)
	go c.run(ctx, gen, cls)

	return nil
}

// restartLocked cancels the running pipeline and opens a new generation.
// Work tagged with an older generation can no longer change the state.
func (c *Controller) restartLocked() (uint64, context.Context) {
	c.invalidateLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	return c.generation, ctx
}

func (c *Controller) invalidateLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
}

func (c *Controller) run(ctx context.Context, gen uint64, cls domain.Classification) {
	defer c.wg.Done()

	src := cls.Source
	if cls.NeedsProviderResolution() {
		resolved, item, err := c.acquirer.Resolve(ctx, cls.ProviderLink)
		if err != nil {
			c.fail(gen, err)
			return
		}
		src = resolved
		if !c.update(gen, func(s *domain.PlaybackState) {
			s.CurrentSourceID = item.ID
			if item.Duration > 0 {
				s.Duration = item.Duration
			}
		}) {
			return
		}
	}

	target, err := c.localize(ctx, gen, src)
	if err != nil {
		c.fail(gen, err)
		return
	}

	if ctx.Err() != nil || !c.transition(gen, domain.PhaseLoading, func(s *domain.PlaybackState) {
		s.Download = nil
	}) {
		return
	}

	c.engineMu.Lock()
	if !c.current(gen) {
		c.engineMu.Unlock()
		return
	}
	err = c.engine.SetSource(ctx, target, gen)
	if err == nil {
		err = c.engine.Play()
	}
	c.engineMu.Unlock()

	if err != nil {
		c.fail(gen, err)
		return
	}

	c.logger.Info("playback started", "source", src.CacheKey(), "target", target)
}

// localize returns something the engine can open for src: the local path,
// a streamable URL, or a cached or freshly downloaded file.
func (c *Controller) localize(ctx context.Context, gen uint64, src domain.ResolvedSource) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errpkg.E(errpkg.KindCancelled, "player.localize", err)
	}

	switch src.Kind {
	case domain.SourceLocalFile:
		return src.Path, nil
	case domain.SourceRemoteDirect:
		if c.engine.CanStream(src.URL) {
			return src.URL, nil
		}
	}

	if path, ok := c.acquirer.Cached(ctx, src); ok {
		return path, nil
	}

	if !c.transition(gen, domain.PhaseDownloading, func(s *domain.PlaybackState) {
		s.Download = &domain.Progress{TotalBytes: src.ApproxSizeBytes}
	}) {
		return "", errpkg.E(errpkg.KindCancelled, "player.localize", nil)
	}

	return c.acquirer.Fetch(ctx, src, func(p domain.Progress) {
		c.update(gen, func(s *domain.PlaybackState) {
			if s.Phase == domain.PhaseDownloading {
				s.Download = &p
			}
		})
	})
}

// Pause is valid in Playing and Paused.
func (c *Controller) Pause() error {
	return c.command("player.Pause", domain.PhasePaused, func() error { return c.engine.Pause() })
}

// Resume is valid in Playing and Paused.
func (c *Controller) Resume() error {
	return c.command("player.Resume", domain.PhasePlaying, func() error { return c.engine.Play() })
}

func (c *Controller) command(op string, target domain.Phase, send func() error) error {
	c.mu.Lock()
	phase := c.state.Phase
	gen := c.generation
	c.mu.Unlock()

	if phase != domain.PhasePlaying && phase != domain.PhasePaused {
		return errpkg.Ef(errpkg.KindInvalidState, op, "not valid while %s", phase)
	}
	if phase == target {
		return nil
	}

	c.engineMu.Lock()
	err := send()
	c.engineMu.Unlock()
	if err != nil {
		return errpkg.E(errpkg.KindInternal, op, err)
	}

	c.update(gen, func(s *domain.PlaybackState) {
		if s.Phase == domain.PhasePlaying || s.Phase == domain.PhasePaused {
			s.Phase = target
			metrics.PhaseTransitions.WithLabelValues(string(target)).Inc()
		}
	})
	return nil
}

// Stop cancels any in-flight work, releases the engine source and moves to
// Stopped. It is a no-op in Idle and Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state.Phase == domain.PhaseIdle || c.state.Phase == domain.PhaseStopped {
		c.mu.Unlock()
		return nil
	}
	c.invalidateLocked()
	c.state.Phase = domain.PhaseStopped
	c.state.Download = nil
	c.phaseChangedLocked()
	c.mu.Unlock()

	c.stopEngine()
	return nil
}

// Seek moves playback to pos, clamped into [0, duration]. It requires a
// known duration and returns the applied position.
func (c *Controller) Seek(pos time.Duration) (time.Duration, error) {
	const op = "player.Seek"

	c.mu.Lock()
	duration := c.state.Duration
	phase := c.state.Phase
	gen := c.generation
	c.mu.Unlock()

	if duration <= 0 {
		return 0, errpkg.Ef(errpkg.KindInvalidState, op, "duration unknown")
	}
	switch phase {
	case domain.PhaseLoading, domain.PhasePlaying, domain.PhasePaused:
	default:
		return 0, errpkg.Ef(errpkg.KindInvalidState, op, "not valid while %s", phase)
	}

	pos = clamp(pos, duration)

	c.engineMu.Lock()
	err := c.engine.Seek(pos)
	c.engineMu.Unlock()
	if err != nil {
		return 0, errpkg.E(errpkg.KindInternal, op, err)
	}

	c.update(gen, func(s *domain.PlaybackState) {
		s.Position = pos
	})
	return pos, nil
}

// Close cancels in-flight work, stops the engine and detaches every
// subscriber.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.invalidateLocked()
	subs := make([]*subscription, 0, len(c.subscribers))
	for sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	close(c.done)
	c.stopEngine()
	for _, sub := range subs {
		sub.Close()
	}
	c.wg.Wait()
}

func (c *Controller) watchEngine() {
	defer c.wg.Done()

	events := c.engine.Events()
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEngineEvent(ev)
		}
	}
}

func (c *Controller) handleEngineEvent(ev domain.EngineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Events of a source loaded by an earlier play.
	if ev.Tag != c.generation {
		return
	}

	phase := c.state.Phase
	active := phase == domain.PhaseLoading || phase == domain.PhasePlaying || phase == domain.PhasePaused
	if !active {
		return
	}

	switch ev.Type {
	case domain.EngineEventDuration:
		if ev.Duration <= 0 {
			return
		}
		c.state.Duration = ev.Duration
		c.state.Position = clamp(c.state.Position, ev.Duration)
		c.publishLocked()

	case domain.EngineEventPosition:
		pos := ev.Position
		if c.state.Duration > 0 {
			pos = clamp(pos, c.state.Duration)
		} else if pos < 0 {
			pos = 0
		}
		if pos == c.state.Position {
			return
		}
		c.state.Position = pos
		c.publishLocked()

	case domain.EngineEventStatus:
		switch ev.Status {
		case domain.EngineStatusPlaying:
			if phase == domain.PhaseLoading {
				c.state.Phase = domain.PhasePlaying
				c.phaseChangedLocked()
			}
		case domain.EngineStatusCompleted:
			if phase != domain.PhaseLoading {
				if c.state.Duration > 0 {
					c.state.Position = c.state.Duration
				}
				c.state.Phase = domain.PhaseStopped
				c.phaseChangedLocked()
			}
		}
	}
}

// fail records err unless it is a cancellation or gen is stale.
func (c *Controller) fail(gen uint64, err error) {
	kind := errpkg.KindOf(err)
	if kind == errpkg.KindCancelled {
		c.logger.Debug("pipeline cancelled", "generation", gen)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}

	c.logger.Warn("playback failed", "source", c.state.CurrentSourceID, "kind", kind, "error", err)
	c.state.Phase = domain.PhaseErrored
	c.state.Download = nil
	c.state.LastError = &domain.PlaybackError{Kind: string(kind), Message: err.Error()}
	c.phaseChangedLocked()
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// update applies fn and publishes, unless gen is stale.
func (c *Controller) update(gen uint64, fn func(*domain.PlaybackState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	fn(&c.state)
	c.publishLocked()
	return true
}

func (c *Controller) transition(gen uint64, phase domain.Phase, fn func(*domain.PlaybackState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.state.Phase = phase
	if fn != nil {
		fn(&c.state)
	}
	c.phaseChangedLocked()
	return true
}

func (c *Controller) phaseChangedLocked() {
	metrics.PhaseTransitions.WithLabelValues(string(c.state.Phase)).Inc()
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	snapshot := cloneState(c.state)
	for sub := range c.subscribers {
		sub.push(snapshot)
	}
}

func (c *Controller) stopEngine() {
	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	if err := c.engine.Stop(); err != nil {
		c.logger.Warn("engine stop failed", "error", err)
	}
}

func clamp(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if pos > duration {
		return duration
	}
	return pos
}

func cloneState(s domain.PlaybackState) domain.PlaybackState {
	if s.Download != nil {
		d := *s.Download
		s.Download = &d
	}
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}
