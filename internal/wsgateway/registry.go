package wsgateway

import (
	"errors"
	"sort"
	"sync"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// ErrUserConnectionLimit is returned when a user already holds the maximum
// number of open connections
var ErrUserConnectionLimit = errors.New("too many connections for user")

// Registry tracks open connections by ID and by user and resolves which
// connections a notification goes to.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byUser      map[string]map[string]*Connection
	maxPerUser  int // 0 means unlimited
}

// NewRegistry creates a registry allowing at most maxPerUser connections per user
func NewRegistry(maxPerUser int) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		maxPerUser:  maxPerUser,
	}
}

// Add registers a connection unless its user is at the limit
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns := r.byUser[conn.UserID]
	if r.maxPerUser > 0 && len(userConns) >= r.maxPerUser {
		return ErrUserConnectionLimit
	}
	if userConns == nil {
		userConns = make(map[string]*Connection)
		r.byUser[conn.UserID] = userConns
	}
	userConns[conn.ID] = conn
	r.connections[conn.ID] = conn
	return nil
}

// Remove drops a connection and reports whether it was registered
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return false
	}
	delete(r.connections, connectionID)

	userConns := r.byUser[conn.UserID]
	delete(userConns, connectionID)
	if len(userConns) == 0 {
		delete(r.byUser, conn.UserID)
	}
	return true
}

// Get looks up a connection by ID
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// All returns every open connection ordered by ID
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedConnections(r.connections, nil)
}

// Audience returns the connections that should receive n, ordered by ID.
// A connection with no subscriptions receives every symbol.
func (r *Registry) Audience(n *models.Notification) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedConnections(r.connections, func(c *Connection) bool {
		return c.ShouldReceive(n)
	})
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountByUser returns the number of open connections of a user
func (r *Registry) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Users returns the number of distinct connected users
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func sortedConnections(conns map[string]*Connection, keep func(*Connection) bool) []*Connection {
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
