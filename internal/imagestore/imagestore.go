// Package imagestore keeps product images on local disk and hands out opaque
// references (file names) for products to store.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"stockpos/internal/xid"
)

const DefaultMaxBytes int64 = 16 << 20

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrInvalidRef      = errors.New("invalid image reference")
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

type Store interface {
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Remove(ctx context.Context, ref string) error
	Path(ref string) (string, error)
}

type Disk struct {
	dir      string
	maxBytes int64
}

func NewDisk(dir string, maxBytes int64) (*Disk, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir, maxBytes: maxBytes}, nil
}

func (d *Disk) MaxBytes() int64 {
	return d.maxBytes
}

// Save stores r under a fresh random name that keeps the original extension.
// The client-supplied name is never used as a path.
func (d *Disk) Save(_ context.Context, originalName string, r io.Reader) (string, error) {
	ext, ok := AllowedExtension(originalName)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(originalName))
	}

	ref := xid.New("img") + "." + ext
	path := filepath.Join(d.dir, ref)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, d.maxBytes+1))
	closeErr := f.Close()
	if copyErr == nil && n > d.maxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(path)
		return "", copyErr
	}
	return ref, nil
}

// Remove deletes a stored image. A missing file is not an error.
func (d *Disk) Remove(_ context.Context, ref string) error {
	path, err := d.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path resolves ref inside the upload directory, rejecting anything that
// could escape it.
func (d *Disk) Path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) || filepath.Base(ref) != ref {
		return "", ErrInvalidRef
	}
	return filepath.Join(d.dir, ref), nil
}

// AllowedExtension returns the lower-cased extension of name without the dot
// and whether it is an accepted image type.
func AllowedExtension(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return ext, allowedExtensions[ext]
}
