package event

import "sync"

// Token cancels one subscription.
//
// Cancel is idempotent and safe to call after the publisher has been closed
// or collected, in which case it does nothing. A nil *Token is valid and
// inert.
type Token struct {
	once   sync.Once
	cancel func()
}

// NewToken wraps a cancel function. The function runs at most once.
func NewToken(cancel func()) *Token {
	return &Token{cancel: cancel}
}

// Inert returns a token that cancels nothing.
func Inert() *Token {
	return &Token{}
}

// Cancel removes the subscription. It blocks until the publisher's list no
// longer contains the entry, but never waits for a callback already running.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})
}

// Group collects tokens so an owner can cancel them together.
type Group struct {
	mu     sync.Mutex
	tokens []*Token
}

// Add records t in the group.
func (g *Group) Add(t *Token) {
	if t == nil {
		return
	}
	g.mu.Lock()
	g.tokens = append(g.tokens, t)
	g.mu.Unlock()
}

// Cancel cancels every recorded token in insertion order and empties the group.
func (g *Group) Cancel() {
	g.mu.Lock()
	tokens := g.tokens
	g.tokens = nil
	g.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
}
