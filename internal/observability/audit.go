// Package observability implements spec.md §4.12 (C12): the structured
// audit trail of LLM interactions and the node.duration/token.usage/breaker
// metrics every stage reports through. Trace/tenant context propagation
// itself lives in internal/telemetry; this package is the two concrete
// sinks that context feeds.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lerianstudio/nl2sql/internal/redact"
)

// AuditEvent is one LLM interaction record, per spec.md §4.12's
// {trace_id, timestamp, node, prompt_text_sanitized, response_text_sanitized,
// model, tokens} shape. PromptSanitized/ResponseSanitized must already have
// PII/secrets redacted before being handed to a sink.
type AuditEvent struct {
	TraceID           string    `json:"trace_id"`
	Timestamp         time.Time `json:"timestamp"`
	Node              string    `json:"node"`
	PromptSanitized   string    `json:"prompt_text_sanitized"`
	ResponseSanitized string    `json:"response_text_sanitized"`
	Model             string    `json:"model"`
	InputTokens       int       `json:"input_tokens"`
	OutputTokens      int       `json:"output_tokens"`
}

// AuditSink is the append-only destination for AuditEvents. Implementations
// must be safe for concurrent Write.
type AuditSink interface {
	Write(ctx context.Context, ev AuditEvent) error
	Close() error
}

// RotatingFileSink appends one JSON line per AuditEvent to a file, rotating
// to a timestamped sibling once the current file exceeds maxBytes. Writes
// are serialized by a mutex, matching spec.md §4.12's "file rotation is
// serialized by the sink" invariant for the audit log's MPSC write pattern.
// No example repo in the pack ships a log-rotation library (no lumberjack,
// no equivalent in go.mod across the corpus), so this is a small stdlib-only
// rotation loop rather than a borrowed dependency.
type RotatingFileSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// NewRotatingFileSink opens (creating if needed) the audit log at path,
// appending to any existing content.
func NewRotatingFileSink(path string, maxBytes int64) (*RotatingFileSink, error) {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	return &RotatingFileSink{path: path, maxBytes: maxBytes, file: f, size: info.Size()}, nil
}

// Write redacts the event's free-text fields, encodes it as one JSON line,
// and appends it, rotating first if the write would exceed maxBytes.
func (s *RotatingFileSink) Write(_ context.Context, ev AuditEvent) error {
	ev.PromptSanitized = redact.ErrorMessage(ev.PromptSanitized)
	ev.ResponseSanitized = redact.ErrorMessage(ev.ResponseSanitized)

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(line)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(line)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	s.size += int64(n)

	return nil
}

// rotateLocked closes the current file, renames it aside with a
// nanosecond-precision suffix (so rotations within the same second never
// collide), and opens a fresh file at the original path. Callers must hold
// s.mu.
func (s *RotatingFileSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}

	rotated := fmt.Sprintf("%s.%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rotated audit log: %w", err)
	}

	s.file = f
	s.size = 0

	return nil
}

// Close flushes and closes the underlying file.
func (s *RotatingFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.Close()
}

// NoneSink discards every event. Used when audit logging is disabled.
type NoneSink struct{}

func (NoneSink) Write(context.Context, AuditEvent) error { return nil }
func (NoneSink) Close() error                            { return nil }
