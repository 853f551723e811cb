// v0
// internal/ingest/source.go
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Source is anything that can be opened into a stream of JSON lines.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// finiteSource marks sources whose clean EOF means "done" rather than
// "connection lost".
type finiteSource interface {
	Finite() bool
}

// FileSource replays a file, or stdin when Path is "-".
type FileSource struct {
	Path  string
	stdin io.Reader
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, stdin: os.Stdin}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Finite() bool { return true }

func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.Path == "" || f.Path == "-" {
		return closeOnDone(ctx, io.NopCloser(f.stdin)), nil
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", f.Path, err)
	}
	return closeOnDone(ctx, fh), nil
}

// contextReadCloser closes the wrapped stream when ctx ends, which unblocks
// a pending Read on serial ports and pipes.
type contextReadCloser struct {
	io.ReadCloser
	once sync.Once
	done chan struct{}
	err  error
}

func closeOnDone(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	c := &contextReadCloser{ReadCloser: rc, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return c
}

func (c *contextReadCloser) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.err = c.ReadCloser.Close()
	})
	return c.err
}
