package inventory

import "sync"

// Guard enforces one booking per (customer, slot). A claim is held by the
// refId that first reserved it; re-checking with the same refId succeeds.
type Guard struct {
	mu     sync.Mutex
	claims map[ClaimKey]string
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{claims: make(map[ClaimKey]string)}
}

// CheckAndReserve claims key for refID, or returns ErrAlreadyBooked when
// another reference holds it.
func (g *Guard) CheckAndReserve(key ClaimKey, refID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.claims[key]; ok && holder != refID {
		return ErrAlreadyBooked
	}
	g.claims[key] = refID
	return nil
}

// Release drops the claim if refID still holds it.
func (g *Guard) Release(key ClaimKey, refID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claims[key] == refID {
		delete(g.claims, key)
	}
}

// Holder returns the refId holding key.
func (g *Guard) Holder(key ClaimKey) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.claims[key]
	return ref, ok
}
