package session

import "time"

// Handle addresses one session instance rather than a key. Once that
// session is destroyed every call fails with ErrNotFound, even after the key
// has been loaded again.
type Handle struct {
	m   *Manager
	key string
	e   *entry
}

func (h *Handle) Key() string { return h.key }

// Done is closed when the session is destroyed.
func (h *Handle) Done() <-chan struct{} { return h.e.done }

func (h *Handle) Get() (*Session, error) {
	var out *Session
	err := h.with(func(e *entry) error {
		out = clone(&e.state)
		out.Connected = e.transport != nil
		return nil
	})
	return out, err
}

func (h *Handle) Send(msg any) error {
	var t Transport
	err := h.with(func(e *entry) error {
		if e.transport == nil {
			return ErrNoTransport
		}
		t = e.transport
		return nil
	})
	if err != nil {
		return err
	}
	return t.Send(msg)
}

func (h *Handle) AppendMessage(role Role, content, id string) error {
	return h.with(func(e *entry) error {
		now := time.Now().UTC()
		e.state.Messages = append(e.state.Messages, Message{ID: id, Role: role, Content: content, CreatedAt: now})
		e.state.LastActivityAt = now
		return nil
	})
}

// UpdateOrAppendAssistantMessage overwrites the content of the assistant
// message with the given id, or appends a new one when there is none.
func (h *Handle) UpdateOrAppendAssistantMessage(id, content string) error {
	return h.with(func(e *entry) error {
		now := time.Now().UTC()
		e.state.LastActivityAt = now
		for i := len(e.state.Messages) - 1; i >= 0; i-- {
			msg := &e.state.Messages[i]
			if msg.ID == id && msg.Role == RoleAssistant {
				msg.Content = content
				return nil
			}
		}
		e.state.Messages = append(e.state.Messages, Message{ID: id, Role: RoleAssistant, Content: content, CreatedAt: now})
		return nil
	})
}

// Destroy removes this session. A session since registered under the same
// key is left alone. It reports whether this call did the removal.
func (h *Handle) Destroy() bool {
	h.m.mu.Lock()
	if h.m.sessions[h.key] == h.e {
		delete(h.m.sessions, h.key)
	}
	h.m.mu.Unlock()

	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.destroyed {
		return false
	}
	h.e.destroyed = true
	h.e.transport = nil
	close(h.e.done)
	return true
}

func (h *Handle) with(fn func(*entry) error) error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.destroyed {
		return ErrNotFound
	}
	return fn(h.e)
}
