package verify

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Transcript is the append-only verification log shared by every worker.
type Transcript struct {
	*slog.Logger
	closer io.Closer
}

// OpenTranscript opens path for appending, creating it and its directory.
func OpenTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return NewTranscript(f), nil
}

// NewTranscript writes transcript lines to w. If w is an io.Closer it is
// closed by Close.
func NewTranscript(w io.Writer) *Transcript {
	t := &Transcript{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// DiscardTranscript drops every line.
func DiscardTranscript() *Transcript {
	return NewTranscript(io.Discard)
}

func (t *Transcript) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
