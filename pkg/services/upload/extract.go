package upload

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidArchive = errors.New("invalid archive")
	ErrUnsafePath     = errors.New("archive entry escapes destination")
)

// Extract unpacks a ZIP archive into dest, replacing whatever dest held. If
// every entry sits under one top-level directory, that directory becomes the
// returned root.
func Extract(ctx context.Context, r io.ReaderAt, size int64, dest string, maxBytes int64) (string, error) {
	logger := zerolog.Ctx(ctx)

	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	var written int64
	files := 0
	for _, f := range zr.File {
		if skipEntry(f.Name) {
			continue
		}

		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return "", err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}

		n, err := extractFile(f, target, maxBytes-written, maxBytes > 0)
		if err != nil {
			return "", err
		}
		written += n
		files++
	}

	root, err := unwrapRoot(dest)
	if err != nil {
		return "", err
	}

	logger.Info().Int("files", files).Int64("bytes", written).Str("root", root).Msg("archive extracted")
	return root, nil
}

func skipEntry(name string) bool {
	name = filepath.ToSlash(name)
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	base := filepath.Base(name)
	return base == ".DS_Store" || strings.HasPrefix(base, "._")
}

func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(filepath.ToSlash(name), "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string, budget int64, limited bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	var reader io.Reader = src
	if limited {
		reader = io.LimitReader(src, budget+1)
	}
	n, err := io.Copy(dst, reader)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if limited && n > budget {
		return n, fmt.Errorf("%w: uncompressed size exceeds limit", ErrInvalidArchive)
	}
	return n, nil
}

// unwrapRoot descends into dest while it holds exactly one directory and no files.
func unwrapRoot(dest string) (string, error) {
	root := dest
	for {
		entries, err := os.ReadDir(root)
		if err != nil {
			return "", err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return root, nil
		}
		next := filepath.Join(root, entries[0].Name())
		wrapper, err := containsDirs(next)
		if err != nil {
			return "", err
		}
		if !wrapper {
			// a lone cohort directory is the data itself
			return root, nil
		}
		root = next
	}
}

func containsDirs(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() {
			return true, nil
		}
	}
	return false, nil
}
