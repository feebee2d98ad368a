package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/domain"
)

// TranscriptWriter renders a conversation to a markdown file. Participants
// are pointed at this file by their prompts, so every write replaces the
// whole transcript atomically: render to a temp file, then rename over the
// real one. A reader never sees a half-written transcript.
type TranscriptWriter struct {
	mu   sync.Mutex
	path string
}

// NewTranscriptWriter creates a writer targeting the given file path,
// creating parent directories as needed.
func NewTranscriptWriter(path string) (*TranscriptWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating transcript directory: %w", err)
	}
	return &TranscriptWriter{path: path}, nil
}

// Path returns the transcript file location, suitable for prompt templates.
func (w *TranscriptWriter) Path() string {
	return w.path
}

// Write renders the full conversation and atomically replaces the file.
func (w *TranscriptWriter) Write(rec domain.SessionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(Render(rec)), 0o600); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing transcript: %w", err)
	}
	return nil
}

// Render produces the markdown transcript for a conversation snapshot.
func Render(rec domain.SessionRecord) string {
	title := rec.Title
	if title == "" {
		title = rec.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	for i, msg := range rec.Messages {
		fmt.Fprintf(&b, "## [%d] %s (%s)\n\n", i+1, msg.Source.Label(), msg.Timestamp.Format(time.DateTime))
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}
