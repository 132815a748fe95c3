// Package artifact serves the downloadable bundle from local disk or from
// an S3-compatible bucket.
package artifact

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when the configured artifact is absent.
var ErrNotFound = errors.New("artifact not found")

// Object is an open artifact.  The caller must close Body.
type Object struct {
	Body        io.ReadCloser
	Name        string // filename offered to the client
	Size        int64  // -1 when unknown
	ContentType string
	ModTime     time.Time
}

// Store opens the configured artifact.
type Store interface {
	Open(ctx context.Context) (*Object, error)
}

var knownTypes = map[string]string{
	".zip": "application/zip",
	".tar": "application/x-tar",
	".gz":  "application/gzip",
	".7z":  "application/x-7z-compressed",
	".txt": "text/plain; charset=utf-8",
}

func contentType(name string) string {
	if ct, ok := knownTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
