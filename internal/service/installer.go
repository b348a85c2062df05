package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// Installer places a verified update artifact.
type Installer interface {
	Install(ctx context.Context, manifest *domain.ReleaseManifest, artifactPath string) (string, error)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileInstaller copies artifacts into dir as <name>-<version>, executable.
type FileInstaller struct {
	dir string
}

func NewFileInstaller(dir string) *FileInstaller {
	return &FileInstaller{dir: dir}
}

func (i *FileInstaller) Install(ctx context.Context, manifest *domain.ReleaseManifest, artifactPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return "", fmt.Errorf("create install dir: %w", err)
	}

	name := sanitizeName(manifest.Name) + "-" + sanitizeName(manifest.Version)
	dest := filepath.Join(i.dir, name)

	src, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(i.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("install artifact: %w", err)
	}

	return dest, nil
}

func sanitizeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(filepath.Base(s), "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
