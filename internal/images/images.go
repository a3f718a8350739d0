// Package images writes generated image payloads to disk and prepares
// written images for upload to a vision model.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/webp" // Register WebP decoder
)

// MIME type constants.
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeGIF  = "image/gif"
	MIMETypeWebP = "image/webp"
)

// Sentinel errors for image file operations.
var (
	// ErrWrite indicates an image could not be written to disk.
	ErrWrite = errors.New("image not writable")

	// ErrRead indicates a written image could not be read back.
	ErrRead = errors.New("image not readable")
)

// Source is an image payload that can be streamed once per Open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Writer writes image payloads to numbered files in a directory.
type Writer struct {
	dir     string
	pattern string
}

// NewWriter creates a [Writer] for dir. pattern is a fmt pattern taking the
// image index, e.g. "output_%d.png".
func NewWriter(dir, pattern string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, pattern: pattern}
}

// Path returns the output path for the image at index.
func (w *Writer) Path(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf(w.pattern, index))
}

// Write streams src verbatim into path, creating or overwriting it.
//
// Errors opening the payload are returned as-is so the caller can see the
// remote failure; local file errors are returned as [ErrWrite].
func (w *Writer) Write(ctx context.Context, src Source, path string) error {
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: failed to create output dir %s: %v", ErrWrite, dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	return nil
}

// DetectMIME sniffs the image format from its header.
// Returns fallback when the data is not a PNG, JPEG, GIF or WebP image.
func DetectMIME(data []byte, fallback string) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fallback
	}
	switch format {
	case "png":
		return MIMETypePNG
	case "jpeg":
		return MIMETypeJPEG
	case "gif":
		return MIMETypeGIF
	case "webp":
		return MIMETypeWebP
	}
	return fallback
}

// DataURL returns data as a base64 data URL with the given MIME type.
func DataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// ReadDataURL reads the file at path and returns it as a data URL.
//
// When detect is true the MIME type is sniffed from the file, falling back to
// image/jpeg; otherwise it is always image/jpeg.
func ReadDataURL(path string, detect bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}

	mime := MIMETypeJPEG
	if detect {
		mime = DetectMIME(data, MIMETypeJPEG)
	}
	return DataURL(mime, data), nil
}
