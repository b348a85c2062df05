package player

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/media-pipeline/internal/cache"
	"github.com/veranemoloko/media-pipeline/internal/classifier"
	"github.com/veranemoloko/media-pipeline/internal/domain"
	"github.com/veranemoloko/media-pipeline/internal/downloader"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/pipeline"
	"github.com/veranemoloko/media-pipeline/internal/repository"
	"github.com/veranemoloko/media-pipeline/internal/storage"
)

const testDuration = 3 * time.Minute

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

type fakeEngine struct {
	mu      sync.Mutex
	events  chan domain.EngineEvent
	sources []string
	seeks   []time.Duration
	stops   int
	setErr  error
	stream  bool
	tag     uint64
	// gate, when set, holds SetSource until it is closed.
	gate chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan domain.EngineEvent, 256)}
}

func (e *fakeEngine) SetSource(ctx context.Context, src string, tag uint64) error {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return errpkg.E(errpkg.KindCancelled, "test", ctx.Err())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setErr != nil {
		return e.setErr
	}
	e.sources = append(e.sources, src)
	e.tag = tag
	return nil
}

func (e *fakeEngine) Play() error {
	e.emit(domain.EngineEvent{Type: domain.EngineEventDuration, Duration: testDuration})
	e.emit(domain.EngineEvent{Type: domain.EngineEventStatus, Status: domain.EngineStatusPlaying})
	return nil
}

func (e *fakeEngine) Pause() error { return nil }

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	e.stops++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Seek(pos time.Duration) error {
	e.mu.Lock()
	e.seeks = append(e.seeks, pos)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) CanStream(string) bool { return e.stream }

func (e *fakeEngine) Events() <-chan domain.EngineEvent { return e.events }

// emit sends ev for the currently loaded source.
func (e *fakeEngine) emit(ev domain.EngineEvent) {
	e.mu.Lock()
	ev.Tag = e.tag
	e.mu.Unlock()
	e.emitTagged(ev)
}

func (e *fakeEngine) emitTagged(ev domain.EngineEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *fakeEngine) currentTag() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tag
}

func (e *fakeEngine) loaded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sources...)
}

type fakeResolver struct {
	mu      sync.Mutex
	sources map[string]domain.ResolvedSource
	calls   atomic.Int32
}

func (r *fakeResolver) Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error) {
	r.calls.Add(1)
	r.mu.Lock()
	src, ok := r.sources[link]
	r.mu.Unlock()
	if !ok {
		return domain.ResolvedSource{}, domain.ItemMetadata{}, errpkg.E(errpkg.KindItemNotFound, "test", nil)
	}
	return src, domain.ItemMetadata{ID: src.ItemID}, nil
}

type countingFetcher struct {
	next  pipeline.Fetcher
	calls atomic.Int32
}

func (f *countingFetcher) Download(ctx context.Context, src domain.ResolvedSource, dest string, onProgress domain.ProgressFunc) (string, error) {
	f.calls.Add(1)
	return f.next.Download(ctx, src, dest, onProgress)
}

type harness struct {
	ctrl     *Controller
	engine   *fakeEngine
	resolver *fakeResolver
	fetcher  *countingFetcher
	cache    *cache.Cache
	filesDir string
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := newTestLogger()

	repo, err := repository.NewCacheStorage(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	filesDir := filepath.Join(dir, "files")
	c := cache.New(repo, storage.NewFileStorage(filesDir), 0, logger)

	cls, err := classifier.New([]string{`^https?://provider\.example/watch\?id=\w+`}, nil)
	require.NoError(t, err)

	resolver := &fakeResolver{sources: map[string]domain.ResolvedSource{}}
	fetcher := &countingFetcher{next: downloader.New(nil, 10*time.Second, 0, logger)}
	engine := newFakeEngine()

	ctrl := NewController(cls, pipeline.NewAcquirer(resolver, fetcher, c, logger), engine, logger)
	t.Cleanup(ctrl.Close)

	return &harness{
		ctrl:     ctrl,
		engine:   engine,
		resolver: resolver,
		fetcher:  fetcher,
		cache:    c,
		filesDir: filesDir,
		dir:      dir,
	}
}

func (h *harness) addItem(link, id, streamURL string) {
	h.resolver.mu.Lock()
	defer h.resolver.mu.Unlock()
	h.resolver.sources[link] = domain.ResolvedSource{
		Kind:      domain.SourceProviderStream,
		ItemID:    id,
		StreamURL: streamURL,
		Container: "m4a",
		Bitrate:   128000,
	}
}

func (h *harness) waitPhase(t *testing.T, phase domain.Phase) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool { return h.ctrl.State().Phase == phase })
}

type recorder struct {
	mu     sync.Mutex
	states []domain.PlaybackState
}

func record(t *testing.T, ctrl *Controller) *recorder {
	t.Helper()
	r := &recorder{}
	updates, unsubscribe := ctrl.Subscribe()
	t.Cleanup(unsubscribe)
	go func() {
		for s := range updates {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		}
	}()
	return r
}

// phases returns the distinct consecutive phases seen so far.
func (r *recorder) phases() []domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Phase
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func (r *recorder) waitLast(t *testing.T, phase domain.Phase) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool {
		p := r.phases()
		return len(p) > 0 && p[len(p)-1] == phase
	})
}

func audioServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestController_LocalFileSkipsDownloading(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	rec := record(t, h.ctrl)
	require.NoError(t, h.ctrl.Play(path))
	rec.waitLast(t, domain.PhasePlaying)

	assert.Equal(t, []domain.Phase{
		domain.PhaseIdle,
		domain.PhaseResolving,
		domain.PhaseLoading,
		domain.PhasePlaying,
	}, rec.phases())
	assert.Equal(t, []string{path}, h.engine.loaded())
	assert.Zero(t, h.fetcher.calls.Load())
	assert.Zero(t, h.resolver.calls.Load())

	state := h.ctrl.State()
	assert.Equal(t, testDuration, state.Duration)
	assert.Equal(t, path, state.CurrentSourceID)
}

func TestController_ProviderLinkDownloadsOnceThenHitsCache(t *testing.T) {
	h := newHarness(t)
	srv := audioServer(t, "provider audio")
	link := "https://provider.example/watch?id=abc123"
	h.addItem(link, "abc123", srv.URL+"/sig1")

	rec := record(t, h.ctrl)
	require.NoError(t, h.ctrl.Play(link))
	rec.waitLast(t, domain.PhasePlaying)

	assert.Equal(t, []domain.Phase{
		domain.PhaseIdle,
		domain.PhaseResolving,
		domain.PhaseDownloading,
		domain.PhaseLoading,
		domain.PhasePlaying,
	}, rec.phases())
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, "abc123", h.ctrl.State().CurrentSourceID)

	// The provider hands out a different signed URL the second time.
	h.addItem(link, "abc123", srv.URL+"/sig2")
	require.NoError(t, h.ctrl.Stop())

	second := record(t, h.ctrl)
	require.NoError(t, h.ctrl.Play(link))
	second.waitLast(t, domain.PhasePlaying)

	assert.Equal(t, []domain.Phase{
		domain.PhaseStopped,
		domain.PhaseIdle,
		domain.PhaseResolving,
		domain.PhaseLoading,
		domain.PhasePlaying,
	}, second.phases())
	assert.Equal(t, int32(1), h.fetcher.calls.Load())

	loaded := h.engine.loaded()
	require.Len(t, loaded, 2)
	assert.Equal(t, loaded[0], loaded[1])
}

func TestController_DownloadProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	body := make([]byte, 256*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "262144")
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	link := "https://provider.example/watch?id=big"
	h.addItem(link, "big", srv.URL)

	rec := record(t, h.ctrl)
	require.NoError(t, h.ctrl.Play(link))
	rec.waitLast(t, domain.PhasePlaying)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var last int64
	var sawComplete bool
	for _, s := range rec.states {
		if s.Phase != domain.PhaseDownloading || s.Download == nil {
			continue
		}
		assert.GreaterOrEqual(t, s.Download.BytesReceived, last)
		last = s.Download.BytesReceived
		if s.Download.TotalBytes != nil && *s.Download.TotalBytes == s.Download.BytesReceived {
			sawComplete = true
		}
	}
	assert.Equal(t, int64(len(body)), last)
	assert.True(t, sawComplete)
}

func TestController_NewPlayCancelsInFlightDownload(t *testing.T) {
	h := newHarness(t)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000000")
		_, _ = w.Write(make([]byte, 8192))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer slow.Close()
	fast := audioServer(t, "song b")

	linkA := "https://provider.example/watch?id=songa"
	linkB := "https://provider.example/watch?id=songb"
	h.addItem(linkA, "song-a", slow.URL)
	h.addItem(linkB, "song-b", fast.URL)

	require.NoError(t, h.ctrl.Play(linkA))
	waitFor(t, 5*time.Second, func() bool {
		s := h.ctrl.State()
		return s.Phase == domain.PhaseDownloading && s.Download != nil && s.Download.BytesReceived > 0
	})

	require.NoError(t, h.ctrl.Play(linkB))
	waitFor(t, 5*time.Second, func() bool {
		s := h.ctrl.State()
		return s.Phase == domain.PhasePlaying && s.CurrentSourceID == "song-b"
	})

	ctx := context.Background()
	_, ok := h.cache.Lookup(ctx, "song-a")
	assert.False(t, ok)
	pathB, ok := h.cache.Lookup(ctx, "song-b")
	require.True(t, ok)

	// Close waits for the cancelled pipeline to finish its cleanup.
	h.ctrl.Close()

	entries, err := os.ReadDir(h.filesDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Join(h.filesDir, entries[0].Name()), pathB)
	assert.Equal(t, []string{pathB}, h.engine.loaded())
}

func TestController_InvalidStateCommands(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.ctrl.Pause(), errpkg.ErrInvalidState)
	assert.ErrorIs(t, h.ctrl.Resume(), errpkg.ErrInvalidState)
	_, err := h.ctrl.Seek(time.Second)
	assert.ErrorIs(t, err, errpkg.ErrInvalidState)

	assert.NoError(t, h.ctrl.Stop())
	assert.Equal(t, domain.PhaseIdle, h.ctrl.State().Phase)
}

func TestController_PauseResumeStop(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	require.NoError(t, h.ctrl.Play(path))
	h.waitPhase(t, domain.PhasePlaying)

	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, domain.PhasePaused, h.ctrl.State().Phase)
	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, domain.PhasePaused, h.ctrl.State().Phase)

	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, domain.PhasePlaying, h.ctrl.State().Phase)

	require.NoError(t, h.ctrl.Stop())
	assert.Equal(t, domain.PhaseStopped, h.ctrl.State().Phase)
	assert.ErrorIs(t, h.ctrl.Pause(), errpkg.ErrInvalidState)
}

func TestController_SeekAndPositionAreClamped(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	require.NoError(t, h.ctrl.Play(path))
	h.waitPhase(t, domain.PhasePlaying)
	waitFor(t, 5*time.Second, func() bool { return h.ctrl.State().Duration == testDuration })

	got, err := h.ctrl.Seek(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testDuration, got)
	assert.Equal(t, testDuration, h.ctrl.State().Position)

	got, err = h.ctrl.Seek(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), got)

	h.engine.emit(domain.EngineEvent{Type: domain.EngineEventPosition, Position: 42 * time.Second})
	waitFor(t, 5*time.Second, func() bool { return h.ctrl.State().Position == 42*time.Second })

	h.engine.emit(domain.EngineEvent{Type: domain.EngineEventPosition, Position: time.Hour})
	waitFor(t, 5*time.Second, func() bool { return h.ctrl.State().Position == testDuration })
}

func TestController_EngineCompletionStops(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	require.NoError(t, h.ctrl.Play(path))
	h.waitPhase(t, domain.PhasePlaying)

	h.engine.emit(domain.EngineEvent{Type: domain.EngineEventStatus, Status: domain.EngineStatusCompleted})
	h.waitPhase(t, domain.PhaseStopped)
}

func TestController_IgnoresEventsOfPreviousSource(t *testing.T) {
	h := newHarness(t)
	first := filepath.Join(h.dir, "first.mp3")
	second := filepath.Join(h.dir, "second.mp3")
	require.NoError(t, os.WriteFile(first, []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("audio"), 0o644))

	require.NoError(t, h.ctrl.Play(first))
	h.waitPhase(t, domain.PhasePlaying)
	oldTag := h.engine.currentTag()

	gate := make(chan struct{})
	h.engine.mu.Lock()
	h.engine.gate = gate
	h.engine.mu.Unlock()

	require.NoError(t, h.ctrl.Play(second))
	h.waitPhase(t, domain.PhaseLoading)

	// Late events from the first source arrive while the second is loading.
	h.engine.emitTagged(domain.EngineEvent{Tag: oldTag, Type: domain.EngineEventStatus, Status: domain.EngineStatusPlaying})
	h.engine.emitTagged(domain.EngineEvent{Tag: oldTag, Type: domain.EngineEventPosition, Position: time.Minute})
	time.Sleep(100 * time.Millisecond)

	state := h.ctrl.State()
	assert.Equal(t, domain.PhaseLoading, state.Phase)
	assert.Equal(t, time.Duration(0), state.Position)

	close(gate)
	h.waitPhase(t, domain.PhasePlaying)
	assert.Equal(t, []string{first, second}, h.engine.loaded())

	h.engine.emitTagged(domain.EngineEvent{Tag: oldTag, Type: domain.EngineEventStatus, Status: domain.EngineStatusCompleted})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.PhasePlaying, h.ctrl.State().Phase)
}

func TestController_Errors(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t)
		err := h.ctrl.Play("   ")
		assert.ErrorIs(t, err, errpkg.ErrInvalidInput)

		state := h.ctrl.State()
		assert.Equal(t, domain.PhaseErrored, state.Phase)
		require.NotNil(t, state.LastError)
		assert.Equal(t, string(errpkg.KindInvalidInput), state.LastError.Kind)
	})

	t.Run("unknown provider item", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Play("https://provider.example/watch?id=missing"))
		h.waitPhase(t, domain.PhaseErrored)
		assert.Equal(t, string(errpkg.KindItemNotFound), h.ctrl.State().LastError.Kind)
	})

	t.Run("download failure", func(t *testing.T) {
		h := newHarness(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()
		link := "https://provider.example/watch?id=broken"
		h.addItem(link, "broken", srv.URL)

		require.NoError(t, h.ctrl.Play(link))
		h.waitPhase(t, domain.PhaseErrored)
		assert.Equal(t, string(errpkg.KindDownloadFailed), h.ctrl.State().LastError.Kind)
		assert.Nil(t, h.ctrl.State().Download)
	})

	t.Run("engine rejects container", func(t *testing.T) {
		h := newHarness(t)
		h.engine.setErr = errpkg.Ef(errpkg.KindDecodeUnsupported, "engine", "unsupported container %q", "m4a")
		path := filepath.Join(h.dir, "song.m4a")
		require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

		require.NoError(t, h.ctrl.Play(path))
		h.waitPhase(t, domain.PhaseErrored)
		assert.Equal(t, string(errpkg.KindDecodeUnsupported), h.ctrl.State().LastError.Kind)
	})
}

func TestController_PlayAfterErrorReturnsThroughIdle(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	_ = h.ctrl.Play("")
	h.waitPhase(t, domain.PhaseErrored)

	rec := record(t, h.ctrl)
	require.NoError(t, h.ctrl.Play(path))
	rec.waitLast(t, domain.PhasePlaying)

	assert.Equal(t, []domain.Phase{
		domain.PhaseErrored,
		domain.PhaseIdle,
		domain.PhaseResolving,
		domain.PhaseLoading,
		domain.PhasePlaying,
	}, rec.phases())
	assert.Nil(t, h.ctrl.State().LastError)
}

func TestController_StreamableRemoteSkipsDownload(t *testing.T) {
	h := newHarness(t)
	h.engine.stream = true

	require.NoError(t, h.ctrl.Play("https://cdn.example.com/live.mp3"))
	h.waitPhase(t, domain.PhasePlaying)

	assert.Equal(t, []string{"https://cdn.example.com/live.mp3"}, h.engine.loaded())
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestController_CloseDetachesSubscribers(t *testing.T) {
	h := newHarness(t)
	updates, _ := h.ctrl.Subscribe()

	first := <-updates
	assert.Equal(t, domain.PhaseIdle, first.Phase)

	h.ctrl.Close()
	waitFor(t, 5*time.Second, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	})

	assert.ErrorIs(t, h.ctrl.Play("x"), errpkg.ErrInvalidState)
}
