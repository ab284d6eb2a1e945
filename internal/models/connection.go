package models

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection represents a configured GitLab instance.
type Connection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`   // e.g. "https://gitlab.example.com"
	Token    string `json:"token"` // personal access token
	Insecure bool   `json:"insecure"`
	CACert   string `json:"ca_cert,omitempty"`

	Version  string `json:"version,omitempty"`
	Revision string `json:"revision,omitempty"`

	PingStatus  string     `json:"ping_status"` // "unknown", "ok", "error"
	PingError   string     `json:"ping_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// APIBase returns the v4 API root for this connection.
func (c *Connection) APIBase() string {
	return strings.TrimRight(c.URL, "/") + "/api/v4"
}

// MaskedToken hides the token for API responses.
func (c *Connection) MaskedToken() string {
	if c.Token == "" {
		return ""
	}
	return "••••••••"
}

// Redacted returns a copy safe to serialize to clients.
func (c *Connection) Redacted() Connection {
	out := *c
	out.Token = c.MaskedToken()
	return out
}

// ConnectionStore is an in-memory thread-safe store for connections.
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionStore creates an empty connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[string]*Connection)}
}

// Create adds a new connection, assigning it a UUID.
func (s *ConnectionStore) Create(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New().String()
	if c.PingStatus == "" {
		c.PingStatus = "unknown"
	}
	s.conns[c.ID] = c
}

// Get returns a connection by ID, or nil if not found.
func (s *ConnectionStore) Get(id string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// FindByName returns the first connection with the given name, or nil.
func (s *ConnectionStore) FindByName(name string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// List returns all connections.
func (s *ConnectionStore) List() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		result = append(result, c)
	}
	return result
}

// Update replaces an existing connection's settings. An empty token keeps
// the stored one.
func (s *ConnectionStore) Update(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.conns[c.ID]
	if !ok {
		return false
	}
	if c.Token == "" {
		c.Token = old.Token
	}
	s.conns[c.ID] = c
	return true
}

// Delete removes a connection by ID.
func (s *ConnectionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return false
	}
	delete(s.conns, id)
	return true
}

// SetHealth records the result of a version probe.
func (s *ConnectionStore) SetHealth(id, status, errMsg, version, revision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return
	}
	now := time.Now()
	c.PingStatus = status
	c.PingError = errMsg
	c.LastChecked = &now
	if version != "" {
		c.Version = version
		c.Revision = revision
	}
}
