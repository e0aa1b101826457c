// Package history keeps the last few messages of every channel in memory so
// that a report can show what was said around the reported message.
package history

import "sync"

// DefaultSize is the number of recent messages retained per channel.
const DefaultSize = 5

// Entry is a single message stored in the ring buffer.
type Entry struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// Buffer stores the last N messages per channel. It is goroutine-safe and
// uses a ring buffer per channel.
type Buffer struct {
	mu      sync.RWMutex
	size    int
	buffers map[string]*ring // channelID -> ring
}

type ring struct {
	items []Entry
	pos   int
	count int
}

// NewBuffer creates an empty Buffer keeping size entries per channel.
// A non-positive size uses DefaultSize.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{size: size, buffers: make(map[string]*ring)}
}

// Add appends a message to the channel's ring. When the ring is full the
// oldest message is overwritten.
func (b *Buffer) Add(channelID string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.buffers[channelID]
	if !ok {
		r = &ring{items: make([]Entry, b.size)}
		b.buffers[channelID] = r
	}

	r.items[r.pos] = e
	r.pos = (r.pos + 1) % b.size
	if r.count < b.size {
		r.count++
	}
}

// Get returns the channel's messages oldest first. Returns an empty slice
// for unknown channels.
func (b *Buffer) Get(channelID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.buffers[channelID]
	if !ok {
		return []Entry{}
	}

	out := make([]Entry, r.count)
	start := (r.pos - r.count + b.size) % b.size
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%b.size]
	}
	return out
}

// Around returns the buffered messages up to and including messageID. If
// the message is no longer buffered, the whole buffer is returned.
func (b *Buffer) Around(channelID, messageID string) []Entry {
	all := b.Get(channelID)
	for i, e := range all {
		if e.MessageID == messageID {
			return all[:i+1]
		}
	}
	return all
}

// Remove drops the buffer of a channel.
func (b *Buffer) Remove(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, channelID)
}

// Channels returns the number of channels with buffered messages.
func (b *Buffer) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buffers)
}
