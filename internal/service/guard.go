package service

import "sync"

// SubmissionGuard serializes application submissions per order. A second
// submit for the same order while the first is in flight would create a
// duplicate application at the partner.
type SubmissionGuard struct {
	mu      sync.Mutex
	pending map[int64]struct{}
}

func NewSubmissionGuard() *SubmissionGuard {
	return &SubmissionGuard{pending: make(map[int64]struct{})}
}

// TryAcquire reports whether the caller won the right to submit for orderID.
// The winner must call Release when done.
func (g *SubmissionGuard) TryAcquire(orderID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.pending[orderID]; busy {
		return false
	}
	g.pending[orderID] = struct{}{}
	return true
}

func (g *SubmissionGuard) Release(orderID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, orderID)
}
