package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one moderator console connection with a write mutex for
// serializing outbound frames.
type Connection struct {
	ID          string   // connection ID (UUID)
	ModeratorID string   // identity asserted by the fronting gateway
	Conn        net.Conn // underlying TCP connection
	CreatedAt   time.Time
	lastActive  atomic.Int64 // unix nanos of the last frame received
	writeMu     sync.Mutex
}

func newConnection(id, moderatorID string, conn net.Conn) *Connection {
	c := &Connection{ID: id, ModeratorID: moderatorID, Conn: conn, CreatedAt: time.Now()}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when a frame was last received.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of connections, indexed by
// connection ID and by moderator.
type ConnectionManager struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	byModerator map[string]map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:        make(map[string]*Connection),
		byModerator: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.byID[conn.ID] = conn
	set, ok := cm.byModerator[conn.ModeratorID]
	if !ok {
		set = make(map[string]*Connection)
		cm.byModerator[conn.ModeratorID] = set
	}
	set[conn.ID] = conn
}

// Remove removes a connection by ID and closes it. It returns the number of
// connections the moderator still has, and false if the connection was
// already gone.
func (cm *ConnectionManager) Remove(id string) (int, bool) {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	remaining := 0
	if ok {
		delete(cm.byID, id)
		set := cm.byModerator[conn.ModeratorID]
		delete(set, id)
		remaining = len(set)
		if remaining == 0 {
			delete(cm.byModerator, conn.ModeratorID)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return remaining, ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// ForModerator returns a snapshot of the moderator's connections.
func (cm *ConnectionManager) ForModerator(moderatorID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	set := cm.byModerator[moderatorID]
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	return conns
}
