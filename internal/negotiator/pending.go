package negotiator

import "sync"

// PendingAnswerSet remembers answer records that were already consumed so
// that a record observed twice (polling, redelivery, a pasted token) is
// applied at most once.
type PendingAnswerSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewPendingAnswerSet() *PendingAnswerSet {
	return &PendingAnswerSet{seen: make(map[string]struct{})}
}

// Observe records id and reports whether this is its first observation.
func (p *PendingAnswerSet) Observe(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[id]; ok {
		return false
	}
	p.seen[id] = struct{}{}
	return true
}

// Seen reports whether id was observed before, without recording it.
func (p *PendingAnswerSet) Seen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[id]
	return ok
}

func (p *PendingAnswerSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
