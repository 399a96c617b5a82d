// Package logging provides the per-run interaction audit trail: every agent
// request/response pair issued during a Delphi run is appended as one JSON
// line, tagged by agent type, id, role, and round, for external inspection.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Interaction is one recorded agent exchange. Request and Response hold the
// full objects sent to and received from the external service.
type Interaction struct {
	Timestamp string      `json:"ts"`
	AgentType string      `json:"agent_type"`
	AgentID   string      `json:"agent_id"`
	Role      string      `json:"role"`
	Round     int         `json:"round"`
	Request   interface{} `json:"request,omitempty"`
	Response  interface{} `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// InteractionLog appends interactions to a JSON-lines file. A nil
// *InteractionLog is a valid no-op sink.
type InteractionLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewInteractionLog creates (or truncates) the log file at path.
func NewInteractionLog(path string) (*InteractionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction log: %w", err)
	}
	return &InteractionLog{file: f, path: path}, nil
}

// Path reports the log file location.
func (l *InteractionLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends one interaction. Marshal failures degrade to a minimal
// entry rather than losing the event.
func (l *InteractionLog) Record(entry Interaction) {
	if l == nil {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fallback := Interaction{
			Timestamp: entry.Timestamp,
			AgentType: entry.AgentType,
			AgentID:   entry.AgentID,
			Role:      entry.Role,
			Round:     entry.Round,
			Error:     fmt.Sprintf("unmarshalable interaction: %v", err),
		}
		line, _ = json.Marshal(fallback)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.file.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (l *InteractionLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
