// Package quota implements the reservation gate in front of generative
// calls. Every escalation reserves quota first and resolves the
// reservation exactly once: confirm on success, release on failure.
// A periodic sweeper reclaims reservations abandoned by crashed calls.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	upshifterrors "upshift/internal/errors"
	"upshift/internal/logging"
)

// DefaultReservationTTL bounds how long an unresolved reservation may
// hold quota before the sweeper reclaims it.
const DefaultReservationTTL = 5 * time.Minute

// Gate is the reservation interface the orchestrator consumes.
type Gate interface {
	// Reserve holds amount units for user and returns a reservation ID,
	// or a QUOTA_EXHAUSTED error on refusal.
	Reserve(user string, amount int) (string, error)
	// Confirm debits a reservation permanently.
	Confirm(id string) error
	// Release returns a reservation's quota unused.
	Release(id string) error
}

type reservation struct {
	id        string
	user      string
	amount    int
	expiresAt time.Time
}

// MemoryGate is an in-process Gate with a fixed limit and TTL sweeping.
type MemoryGate struct {
	mu           sync.Mutex
	limit        int
	used         int
	reservations map[string]*reservation

	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMemoryGate creates a gate allowing limit units per run window.
func NewMemoryGate(limit int, ttl time.Duration, logger *logging.Logger) *MemoryGate {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &MemoryGate{
		limit:        limit,
		reservations: make(map[string]*reservation),
		ttl:          ttl,
		now:          time.Now,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Reserve implements Gate.
func (g *MemoryGate) Reserve(user string, amount int) (string, error) {
	if amount <= 0 {
		return "", upshifterrors.New(upshifterrors.QuotaExhausted,
			fmt.Sprintf("invalid reservation amount %d", amount), nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.used+g.pendingLocked()+amount > g.limit {
		return "", upshifterrors.New(upshifterrors.QuotaExhausted,
			fmt.Sprintf("quota limit %d reached for %s", g.limit, user), nil)
	}

	id := uuid.NewString()
	g.reservations[id] = &reservation{
		id:        id,
		user:      user,
		amount:    amount,
		expiresAt: g.now().Add(g.ttl),
	}
	return id, nil
}

// Confirm implements Gate.
func (g *MemoryGate) Confirm(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.reservations[id]
	if !ok {
		return fmt.Errorf("unknown or already resolved reservation %s", id)
	}
	delete(g.reservations, id)
	g.used += res.amount
	return nil
}

// Release implements Gate.
func (g *MemoryGate) Release(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.reservations[id]; !ok {
		return fmt.Errorf("unknown or already resolved reservation %s", id)
	}
	delete(g.reservations, id)
	return nil
}

// Remaining reports unreserved, unconsumed quota units.
func (g *MemoryGate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit - g.used - g.pendingLocked()
}

// Pending reports in-flight reservation count.
func (g *MemoryGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reservations)
}

// SweepExpired releases every reservation past its TTL and returns how
// many were reclaimed.
func (g *MemoryGate) SweepExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	reclaimed := 0
	for id, res := range g.reservations {
		if now.After(res.expiresAt) {
			delete(g.reservations, id)
			reclaimed++
			g.logger.Warn("Reclaimed expired quota reservation", map[string]interface{}{
				"reservation": id,
				"user":        res.user,
				"amount":      res.amount,
			})
		}
	}
	return reclaimed
}

// StartSweeper launches the periodic reclaimer. Stop with StopSweeper.
func (g *MemoryGate) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				g.SweepExpired()
			}
		}
	}()
}

// StopSweeper stops the periodic reclaimer.
func (g *MemoryGate) StopSweeper() {
	close(g.done)
	g.wg.Wait()
}

func (g *MemoryGate) pendingLocked() int {
	pending := 0
	for _, res := range g.reservations {
		pending += res.amount
	}
	return pending
}
