package session

import (
	"sync"

	"github.com/vburojevic/beacon/internal/domain"
)

// Current holds the active session. The manager writes it; the batcher and
// the page tracker read the id when stamping events and visits.
type Current struct {
	mu      sync.RWMutex
	session domain.Session
	active  bool
	epoch   uint64
}

// Get returns the active session
func (c *Current) Get() (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.active
}

// ID returns the active session id
func (c *Current) ID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active {
		return "", false
	}
	return c.session.ID, true
}

func (c *Current) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// setIf stores s unless the holder was cleared since epoch was read
func (c *Current) setIf(epoch uint64, s domain.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.active {
		return false
	}
	s.IsActive = true
	c.session = s
	c.active = true
	return true
}

// clear drops the active session and returns what was there
func (c *Current) clear() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, was := c.session, c.active
	c.session = domain.Session{}
	c.active = false
	c.epoch++
	return prev, was
}
