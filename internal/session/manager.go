package session

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrExists            = errors.New("session already exists")
	ErrTransportAttached = errors.New("session already has a transport")
	ErrNoTransport       = errors.New("session has no transport")
)

// Transport delivers outbound wire events to the client of a session.
type Transport interface {
	Send(msg any) error
}

// Session is a point-in-time copy of a session's state.
type Session struct {
	Key            string    `json:"key"`
	Agent          Agent     `json:"agent"`
	UserName       string    `json:"user_name"`
	Messages       []Message `json:"messages"`
	Connected      bool      `json:"connected"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	mu        sync.Mutex
	state     Session
	transport Transport
	destroyed bool
	done      chan struct{}
}

// Manager is the registry of live sessions keyed by session key. The map
// lock only guards lookups; every operation on a session runs under that
// session's own lock, so different keys never contend.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*entry)}
}

// Create registers a session. It fails with ErrExists, leaving the existing
// session untouched, when key is taken.
func (m *Manager) Create(key string, agent Agent, userName string) (*Session, error) {
	now := time.Now().UTC()
	e := &entry{
		state: Session{
			Key:            key,
			Agent:          cloneAgent(agent),
			UserName:       userName,
			StartedAt:      now,
			LastActivityAt: now,
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; ok {
		return nil, ErrExists
	}
	m.sessions[key] = e
	return clone(&e.state), nil
}

// Lookup returns a handle bound to the session currently registered under
// key.
func (m *Manager) Lookup(key string) (*Handle, error) {
	m.mu.RLock()
	e, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Handle{m: m, key: key, e: e}, nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(key string) (*Session, error) {
	h, err := m.Lookup(key)
	if err != nil {
		return nil, err
	}
	return h.Get()
}

// AttachTransport binds the client transport and returns a handle pinned to
// this session. A session takes one transport for its whole life.
func (m *Manager) AttachTransport(key string, t Transport) (*Handle, error) {
	h, err := m.Lookup(key)
	if err != nil {
		return nil, err
	}
	err = h.with(func(e *entry) error {
		if e.transport != nil {
			return ErrTransportAttached
		}
		e.transport = t
		e.state.LastActivityAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Send forwards msg to the session's transport.
func (m *Manager) Send(key string, msg any) error {
	h, err := m.Lookup(key)
	if err != nil {
		return err
	}
	return h.Send(msg)
}

// AppendMessage adds a message to the end of the history.
func (m *Manager) AppendMessage(key string, role Role, content, id string) error {
	h, err := m.Lookup(key)
	if err != nil {
		return err
	}
	return h.AppendMessage(role, content, id)
}

func (m *Manager) UpdateOrAppendAssistantMessage(key, id, content string) error {
	h, err := m.Lookup(key)
	if err != nil {
		return err
	}
	return h.UpdateOrAppendAssistantMessage(id, content)
}

// Destroy removes whatever session is registered under key. It reports
// whether one existed and is safe to call any number of times.
func (m *Manager) Destroy(key string) bool {
	h, err := m.Lookup(key)
	if err != nil {
		return false
	}
	return h.Destroy()
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Keys returns the registered session keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func clone(s *Session) *Session {
	c := *s
	c.Agent = cloneAgent(s.Agent)
	c.Messages = slices.Clone(s.Messages)
	return &c
}

func cloneAgent(a Agent) Agent {
	a.Knowledge = slices.Clone(a.Knowledge)
	return a
}
