package decode

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSilence(t *testing.T, path string, samples int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	format := beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}
	require.NoError(t, wav.Encode(f, beep.Silence(samples), format))
}

// fakeFFmpeg installs a shell script that copies $FAKE_PCM to its last
// argument, or fails when $FAKE_PCM is empty.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	script := "#!/bin/sh\n" +
		"for last; do :; done\n" +
		"if [ -z \"$FAKE_PCM\" ]; then echo 'Invalid data found when processing input' >&2; exit 1; fi\n" +
		"cp \"$FAKE_PCM\" \"$last\"\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestDecoder_Native(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.WAV")
	writeSilence(t, path, 44100)

	d := New("", dir, newTestLogger())
	assert.False(t, d.External())

	s, format, err := d.Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, beep.SampleRate(44100), format.SampleRate)
	assert.Equal(t, 44100, s.Len())
}

func TestDecoder_UnsupportedWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.m4a")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	d := New("", dir, newTestLogger())
	_, _, err := d.Open(context.Background(), path)
	assert.ErrorIs(t, err, errpkg.ErrDecodeUnsupported)

	d = New(filepath.Join(dir, "missing-ffmpeg"), dir, newTestLogger())
	assert.False(t, d.External())
	_, _, err = d.Open(context.Background(), path)
	assert.ErrorIs(t, err, errpkg.ErrDecodeUnsupported)
}

func TestDecoder_ExternalM4A(t *testing.T) {
	ffmpeg := fakeFFmpeg(t)
	dir := t.TempDir()
	pcm := filepath.Join(dir, "pcm.wav")
	writeSilence(t, pcm, 22050)
	t.Setenv("FAKE_PCM", pcm)

	src := filepath.Join(dir, "song.m4a")
	require.NoError(t, os.WriteFile(src, []byte("aac"), 0o644))

	tmpDir := t.TempDir()
	d := New(ffmpeg, tmpDir, newTestLogger())
	require.True(t, d.External())

	s, format, err := d.Open(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, beep.SampleRate(44100), format.SampleRate)
	assert.Equal(t, 22050, s.Len())
	require.NoError(t, s.Seek(1000))
	assert.Equal(t, 1000, s.Position())

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Close())
	entries, err = os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecoder_ExternalFailure(t *testing.T) {
	ffmpeg := fakeFFmpeg(t)
	t.Setenv("FAKE_PCM", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "song.webm")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o644))

	tmpDir := t.TempDir()
	d := New(ffmpeg, tmpDir, newTestLogger())
	_, _, err := d.Open(context.Background(), src)
	require.ErrorIs(t, err, errpkg.ErrDecodeUnsupported)
	assert.Contains(t, err.Error(), "Invalid data found")

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecoder_MissingFile(t *testing.T) {
	ffmpeg := fakeFFmpeg(t)
	d := New(ffmpeg, t.TempDir(), newTestLogger())
	_, _, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "gone.m4a"))
	assert.ErrorIs(t, err, errpkg.ErrStorageUnavailable)
}
