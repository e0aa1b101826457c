package ws

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pipeConn(t *testing.T, id, moderator string) *Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection(id, moderator, server)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a := pipeConn(t, "a", "mod1")
	b := pipeConn(t, "b", "mod1")
	c := pipeConn(t, "c", "mod2")
	cm.Add(a)
	cm.Add(b)
	cm.Add(c)

	assert.Equal(t, 3, cm.Count())
	assert.Len(t, cm.ForModerator("mod1"), 2)
	assert.Len(t, cm.ForModerator("nobody"), 0)
	assert.Same(t, c, cm.Get("c"))

	remaining, ok := cm.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	_, ok = cm.Remove("a")
	assert.False(t, ok, "second removal is a no-op")

	remaining, ok = cm.Remove("b")
	assert.True(t, ok)
	assert.Zero(t, remaining)
	assert.Empty(t, cm.ForModerator("mod1"))
	assert.Len(t, cm.All(), 1)
}
