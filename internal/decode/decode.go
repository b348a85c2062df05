package decode

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

type nativeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var native = map[string]nativeFunc{
	".mp3":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".wav":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(f) },
	".ogg":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
	".oga":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

// Decoder opens local audio files as seekable beep streams. mp3, wav, flac
// and ogg/vorbis are decoded in process; everything else (m4a/AAC,
// webm/Opus, ...) goes through ffmpeg when it is available.
type Decoder struct {
	ffmpeg string
	tmpDir string
	logger *slog.Logger
}

// New looks ffmpegPath up on PATH. An empty or missing ffmpeg leaves only
// the in-process decoders.
func New(ffmpegPath, tmpDir string, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{tmpDir: tmpDir, logger: logger}
	if ffmpegPath == "" {
		return d
	}
	p, err := exec.LookPath(ffmpegPath)
	if err != nil {
		logger.Warn("ffmpeg not found, only mp3/wav/flac/ogg can be played", "ffmpeg", ffmpegPath, "error", err)
		return d
	}
	d.ffmpeg = p
	return d
}

// External reports whether the ffmpeg path is enabled.
func (d *Decoder) External() bool {
	return d.ffmpeg != ""
}

// Open decodes the file at path. Containers nothing can decode fail with
// KindDecodeUnsupported.
func (d *Decoder) Open(ctx context.Context, path string) (beep.StreamSeekCloser, beep.Format, error) {
	const op = "decode.Open"

	ext := strings.ToLower(filepath.Ext(path))
	if fn, ok := native[ext]; ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, beep.Format{}, errpkg.E(errpkg.KindStorageUnavailable, op, err)
		}
		s, format, err := fn(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, errpkg.E(errpkg.KindDecodeUnsupported, op, err)
		}
		return s, format, nil
	}

	if d.ffmpeg == "" {
		return nil, beep.Format{}, errpkg.Ef(errpkg.KindDecodeUnsupported, op, "no decoder for %q", ext)
	}
	return d.openExternal(ctx, path)
}

// openExternal has ffmpeg decode path into a temporary PCM wav file and
// streams that. The temporary file goes away with the returned streamer.
func (d *Decoder) openExternal(ctx context.Context, path string) (beep.StreamSeekCloser, beep.Format, error) {
	const op = "decode.Open"

	if _, err := os.Stat(path); err != nil {
		return nil, beep.Format{}, errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}

	tmp, err := os.CreateTemp(d.tmpDir, "decode-*.wav")
	if err != nil {
		return nil, beep.Format{}, errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{
		"-v", "error", "-nostdin", "-y",
		"-i", path,
		"-vn", "-acodec", "pcm_s16le", "-ac", "2", "-ar", "44100",
		"-f", "wav", tmpPath,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.ffmpeg, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return nil, beep.Format{}, errpkg.E(errpkg.KindCancelled, op, ctx.Err())
		}
		return nil, beep.Format{}, errpkg.Ef(errpkg.KindDecodeUnsupported, op,
			"ffmpeg: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, beep.Format{}, errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	s, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, beep.Format{}, errpkg.E(errpkg.KindDecodeUnsupported, op, err)
	}

	d.logger.Debug("decoded with ffmpeg", "path", path, "pcm", tmpPath)
	return &tempStream{StreamSeekCloser: s, path: tmpPath}, format, nil
}

type tempStream struct {
	beep.StreamSeekCloser
	path string
}

func (t *tempStream) Close() error {
	err := t.StreamSeekCloser.Close()
	if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
