package inbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryMailbox is an in-process Mailbox used by tests and dry runs.
type MemoryMailbox struct {
	mu       sync.Mutex
	messages map[string]*Message
	marked   []string
	now      func() time.Time
}

// NewMemoryMailbox returns a mailbox holding copies of msgs.
func NewMemoryMailbox(msgs ...*Message) *MemoryMailbox {
	mb := &MemoryMailbox{
		messages: make(map[string]*Message),
		now:      time.Now,
	}
	for _, m := range msgs {
		mb.Add(m)
	}
	return mb
}

// SetClock overrides the clock used for newer_than clauses.
func (mb *MemoryMailbox) SetClock(now func() time.Time) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.now = now
}

// Add stores a copy of m.
func (mb *MemoryMailbox) Add(m *Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cp := *m
	mb.messages[m.ID] = &cp
}

// Get returns a copy of the message with the given id.
func (mb *MemoryMailbox) Get(id string) (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	m, ok := mb.messages[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Marked returns the ids passed to MarkProcessed, in call order.
func (mb *MemoryMailbox) Marked() []string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]string(nil), mb.marked...)
}

func (mb *MemoryMailbox) Search(ctx context.Context, q Query) ([]*Message, error) {
	f, err := ParseQuery(q.Raw)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	all := make([]*Message, 0, len(mb.messages))
	for _, m := range mb.messages {
		cp := *m
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ReceivedAt.Equal(all[j].ReceivedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].ReceivedAt.Before(all[j].ReceivedAt)
	})

	return selectMessages(all, f, q.MaxItems, mb.now()), nil
}

func (mb *MemoryMailbox) MarkProcessed(ctx context.Context, id string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	m, ok := mb.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Unread = false
	mb.marked = append(mb.marked, id)
	return nil
}
