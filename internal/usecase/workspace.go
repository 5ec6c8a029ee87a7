// File: internal/usecase/workspace.go
package usecase

import (
	"strings"
	"sync"

	"sturdy-study/internal/infra/logging"

	"github.com/rs/zerolog"
)

// IdentityScoped is implemented by anything that holds per-identity state.
type IdentityScoped interface {
	OnIdentityChanged(identity string)
}

// CompositeIdentity joins user and course into the key the service indexes by.
// Both parts are required; a missing one yields no identity.
func CompositeIdentity(user, course string) string {
	user, course = strings.TrimSpace(user), strings.TrimSpace(course)
	if user == "" || course == "" {
		return ""
	}
	return user + "_" + course
}

// Workspace owns the current identity key and fans identity changes out to
// its members in registration order.
type Workspace struct {
	log *zerolog.Logger

	mu       sync.Mutex
	identity string
	members  []IdentityScoped
}

func NewWorkspace(logger *zerolog.Logger) *Workspace {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "Workspace").Logger()
	return &Workspace{log: &l}
}

// Register adds m and hands it the current identity.
func (w *Workspace) Register(m IdentityScoped) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.members = append(w.members, m)
	m.OnIdentityChanged(w.identity)
}

// SetIdentity switches every member to identity. It reports whether anything changed.
func (w *Workspace) SetIdentity(identity string) bool {
	identity = strings.TrimSpace(identity)
	w.mu.Lock()
	defer w.mu.Unlock()
	if identity == w.identity {
		return false
	}
	w.log.Info().Str("from", w.identity).Str("to", identity).Msg("identity changed")
	w.identity = identity
	for _, m := range w.members {
		m.OnIdentityChanged(identity)
	}
	return true
}

func (w *Workspace) Identity() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.identity
}
