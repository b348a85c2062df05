package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

const outputRate = beep.SampleRate(44100)

// Decoder opens a local file as a seekable stream.
type Decoder interface {
	Open(ctx context.Context, path string) (beep.StreamSeekCloser, beep.Format, error)
}

// Beep plays local files through the system speaker.
type Beep struct {
	tick    time.Duration
	decoder Decoder
	logger  *slog.Logger
	events  chan domain.EngineEvent
	closed  chan struct{}

	initOnce sync.Once
	initErr  error

	mu         sync.Mutex
	streamer   beep.StreamSeekCloser
	format     beep.Format
	ctrl       *beep.Ctrl
	started    bool
	stopTicker chan struct{}
	generation uint64
	tag        uint64
	closeOnce  sync.Once
}

func NewBeep(tick time.Duration, decoder Decoder, logger *slog.Logger) *Beep {
	if logger == nil {
		logger = slog.Default()
	}
	return &Beep{
		tick:    tick,
		decoder: decoder,
		logger:  logger,
		events:  make(chan domain.EngineEvent, 64),
		closed:  make(chan struct{}),
	}
}

func (b *Beep) Events() <-chan domain.EngineEvent {
	return b.events
}

// CanStream is always false: remote sources are downloaded first.
func (b *Beep) CanStream(string) bool {
	return false
}

// SetSource decodes a local file, replacing the current source. Events for
// it carry tag.
func (b *Beep) SetSource(ctx context.Context, src string, tag uint64) error {
	const op = "engine.SetSource"

	if err := ctx.Err(); err != nil {
		return errpkg.E(errpkg.KindCancelled, op, err)
	}

	streamer, format, err := b.decoder.Open(ctx, src)
	if err != nil {
		return err
	}

	if err := b.Stop(); err != nil {
		streamer.Close()
		return err
	}

	b.mu.Lock()
	b.streamer = streamer
	b.format = format
	b.started = false
	b.tag = tag
	duration := format.SampleRate.D(streamer.Len())
	b.mu.Unlock()

	b.logger.Debug("source loaded",
		"path", src,
		"sample_rate", int(format.SampleRate),
		"channels", format.NumChannels,
		"duration", duration)

	b.send(domain.EngineEvent{Tag: tag, Type: domain.EngineEventDuration, Duration: duration})
	return nil
}

func (b *Beep) Play() error {
	const op = "engine.Play"

	b.initOnce.Do(func() {
		b.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	if b.initErr != nil {
		return errpkg.E(errpkg.KindInternal, op, b.initErr)
	}

	b.mu.Lock()
	if b.streamer == nil {
		b.mu.Unlock()
		return errpkg.Ef(errpkg.KindInvalidState, op, "no source")
	}

	tag := b.tag
	if b.started {
		speaker.Lock()
		b.ctrl.Paused = false
		speaker.Unlock()
		b.mu.Unlock()
		b.send(domain.EngineEvent{Tag: tag, Type: domain.EngineEventStatus, Status: domain.EngineStatusPlaying})
		return nil
	}

	var s beep.Streamer = b.streamer
	if b.format.SampleRate != outputRate {
		s = beep.Resample(4, b.format.SampleRate, outputRate, s)
	}
	gen := b.generation
	b.ctrl = &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() {
		// Runs on the speaker goroutine with the speaker lock held.
		go b.completed(gen, tag)
	}))}
	b.started = true
	b.stopTicker = make(chan struct{})
	go b.reportPosition(gen, tag, b.stopTicker)
	ctrl := b.ctrl
	b.mu.Unlock()

	speaker.Play(ctrl)
	b.send(domain.EngineEvent{Tag: tag, Type: domain.EngineEventStatus, Status: domain.EngineStatusPlaying})
	return nil
}

func (b *Beep) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl == nil {
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

// Stop releases the current source. It is safe to call without one.
func (b *Beep) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	if b.stopTicker != nil {
		close(b.stopTicker)
		b.stopTicker = nil
	}
	if b.started {
		speaker.Clear()
	}
	if b.streamer != nil {
		if err := b.streamer.Close(); err != nil {
			b.logger.Warn("failed to close source", "error", err)
		}
	}
	b.streamer = nil
	b.ctrl = nil
	b.started = false
	return nil
}

func (b *Beep) Seek(pos time.Duration) error {
	const op = "engine.Seek"

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return errpkg.Ef(errpkg.KindInvalidState, op, "no source")
	}

	n := b.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if last := b.streamer.Len() - 1; n > last && last >= 0 {
		n = last
	}

	if b.started {
		speaker.Lock()
		defer speaker.Unlock()
	}
	if err := b.streamer.Seek(n); err != nil {
		return errpkg.E(errpkg.KindInternal, op, err)
	}
	return nil
}

// Close stops playback and unblocks pending event sends.
func (b *Beep) Close() error {
	err := b.Stop()
	b.closeOnce.Do(func() { close(b.closed) })
	return err
}

func (b *Beep) reportPosition(gen, tag uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		if gen != b.generation || b.streamer == nil {
			b.mu.Unlock()
			return
		}
		speaker.Lock()
		pos := b.format.SampleRate.D(b.streamer.Position())
		speaker.Unlock()
		b.mu.Unlock()

		// Ticks are dropped rather than queued when the reader lags.
		select {
		case b.events <- domain.EngineEvent{Tag: tag, Type: domain.EngineEventPosition, Position: pos}:
		default:
		}
	}
}

func (b *Beep) completed(gen, tag uint64) {
	b.mu.Lock()
	current := gen == b.generation
	b.mu.Unlock()
	if !current {
		return
	}
	b.send(domain.EngineEvent{Tag: tag, Type: domain.EngineEventStatus, Status: domain.EngineStatusCompleted})
}

func (b *Beep) send(ev domain.EngineEvent) {
	select {
	case b.events <- ev:
	case <-b.closed:
	}
}

var _ io.Closer = (*Beep)(nil)
