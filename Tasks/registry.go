package Tasks

import (
	"strings"
	"sync"

	"AcesFuel/Models"
)

// Registry keeps one session per signed-in driver. Sessions never share
// their task list or coordinate cache.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{sessions: make(map[string]*Session), deps: deps}
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Open returns the driver's session, creating it on first sign-in. A
// reopened session picks up the latest profile.
func (r *Registry) Open(profile Models.DriverProfile) *Session {
	key := registryKey(profile.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[key]; ok {
		session.SetProfile(profile)
		return session
	}
	session := NewSession(profile, r.deps)
	r.sessions[key] = session
	return session
}

func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[registryKey(name)]
	return session, ok
}

// Close ends the driver's session, if any.
func (r *Registry) Close(name string) {
	key := registryKey(name)

	r.mu.Lock()
	session, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		session.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
