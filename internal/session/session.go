// Package session manages per-ticket working directories. Each ticket owns
// one directory under the configured root for staging inputs and transform
// outputs; it is removed once the ticket's work has been finalized.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const sessionDir = "session"

// ErrInvalidTicket is returned when a ticket ID would escape the session root.
var ErrInvalidTicket = errors.New("invalid ticket id for session")

// Session is the scoped working area of one ticket.
type Session struct {
	Ticket string
	Path   string
}

// Manager creates and destroys session directories under a root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at workingDir. Sessions live under
// <workingDir>/session/<ticket>.
func NewManager(workingDir string, logger *slog.Logger) *Manager {
	return &Manager{
		root:   filepath.Join(workingDir, sessionDir),
		logger: logger,
	}
}

// Root returns the directory holding all sessions.
func (m *Manager) Root() string {
	return m.root
}

// Create makes the working directory for ticketID. Calling it again for the
// same ticket returns the same session.
func (m *Manager) Create(ticketID string) (Session, error) {
	if ticketID == "" || ticketID != filepath.Base(ticketID) || ticketID == "." || ticketID == ".." {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidTicket, ticketID)
	}

	path := filepath.Join(m.root, ticketID)
	s := Session{Ticket: ticketID, Path: path}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return s, fmt.Errorf("create session dir: %w", err)
	}
	return s, nil
}

// Destroy removes the session directory. Failures are logged, never returned:
// cleanup must not affect the outcome of the ticket.
func (m *Manager) Destroy(s Session) {
	if s.Path == "" {
		return
	}
	if err := os.RemoveAll(s.Path); err != nil {
		m.logger.Warn("remove session dir", "ticket", s.Ticket, "path", s.Path, "error", err)
		return
	}
	m.logger.Debug("session destroyed", "ticket", s.Ticket)
}

// Stage returns the path for a file named name inside the session, stripping
// any directory components from name.
func (s Session) Stage(name string) string {
	return filepath.Join(s.Path, filepath.Base(filepath.Clean("/"+name)))
}
