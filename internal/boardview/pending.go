package boardview

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/collaboard/internal/domain"
)

// DefaultPendingTTL bounds how long an untokened event may still be taken for
// the echo of a local change.
const DefaultPendingTTL = 10 * time.Second

// PendingSet tracks task changes this client sent and has not yet seen echoed
// back by the push channel. Each tag carries a correlation token that the
// server copies into the resulting TaskEvent.
type PendingSet struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	tags map[string]map[string]time.Time // task ID -> token -> tagged at
}

func NewPendingSet(ttl time.Duration) *PendingSet {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingSet{
		ttl:  ttl,
		now:  time.Now,
		tags: make(map[string]map[string]time.Time),
	}
}

// Tag records an outgoing change for taskID and returns its correlation token.
func (p *PendingSet) Tag(taskID string) string {
	token := uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()

	byToken, ok := p.tags[taskID]
	if !ok {
		byToken = make(map[string]time.Time)
		p.tags[taskID] = byToken
	}
	byToken[token] = p.now()
	return token
}

// Discard removes a tag whose request failed.
func (p *PendingSet) Discard(taskID, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop(taskID, token)
}

// Consume reports whether ev is the echo of a tagged change and, if so,
// removes the tag. An event carrying a token is an echo only when that token
// was issued here. An event without one is taken as an echo when its task was
// tagged within the TTL.
func (p *PendingSet) Consume(ev domain.TaskEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	taskID := ev.Task.ID
	p.prune(taskID)

	byToken, ok := p.tags[taskID]
	if !ok {
		return false
	}

	if ev.CorrelationID != "" {
		if _, mine := byToken[ev.CorrelationID]; !mine {
			return false
		}
		p.drop(taskID, ev.CorrelationID)
		return true
	}

	var (
		oldest   string
		oldestAt time.Time
	)
	for token, at := range byToken {
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = token, at
		}
	}
	p.drop(taskID, oldest)
	return true
}

// Has reports whether taskID has an unexpired tag.
func (p *PendingSet) Has(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune(taskID)
	_, ok := p.tags[taskID]
	return ok
}

// Clear removes every tag.
func (p *PendingSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.tags)
}

func (p *PendingSet) prune(taskID string) {
	cutoff := p.now().Add(-p.ttl)
	for token, at := range p.tags[taskID] {
		if at.Before(cutoff) {
			p.drop(taskID, token)
		}
	}
}

func (p *PendingSet) drop(taskID, token string) {
	byToken, ok := p.tags[taskID]
	if !ok {
		return
	}
	delete(byToken, token)
	if len(byToken) == 0 {
		delete(p.tags, taskID)
	}
}
