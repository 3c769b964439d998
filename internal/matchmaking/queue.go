// Package matchmaking pairs waiting players by skill proximity within a
// category, widening the tolerated rating difference the longer an entry
// waits.
package matchmaking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/natefell/quizarena/internal/logger"
)

// Config holds the tolerance schedule and sweep parameters
type Config struct {
	// InitialTolerance is the rating window attempted immediately on join.
	InitialTolerance int
	// ExpandedTolerance is attempted after ExpandDelay.
	ExpandedTolerance int
	// ExpandDelay is how long after join the expanded attempt runs.
	ExpandDelay time.Duration
	// UnrestrictedDelay is how long after join the any-rating attempt runs.
	UnrestrictedDelay time.Duration
	// SweepInterval is how often stale entries are collected.
	SweepInterval time.Duration
	// Staleness is the minimum queue age before a dead-channel entry is
	// swept.
	Staleness time.Duration
}

// DefaultConfig returns the production tolerance schedule
func DefaultConfig() Config {
	return Config{
		InitialTolerance:  200,
		ExpandedTolerance: 400,
		ExpandDelay:       5 * time.Second,
		UnrestrictedDelay: 10 * time.Second,
		SweepInterval:     10 * time.Second,
		Staleness:         30 * time.Second,
	}
}

// ConnectionChecker reports whether an identity has a live channel
type ConnectionChecker interface {
	IsConnected(identity string) bool
}

// Paired describes one side of a pairing event
type Paired struct {
	Identity    string
	DisplayName string
	Rating      int
	Waited      time.Duration
}

// Pairing is emitted when two queue entries are matched
type Pairing struct {
	Category string
	A        Paired
	B        Paired
}

// PairHandler receives pairing events. Called outside queue locks.
type PairHandler func(Pairing)

// Entry is one waiting player within a category queue
type Entry struct {
	Identity     string
	DisplayName  string
	Rating       int
	Category     string
	JoinedAt     time.Time
	LastOpponent string

	timers []*time.Timer
}

func (e *Entry) stopTimers() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}

// categoryQueue keeps entries in a lookup map and a rating-sorted slice.
// Invariant: every entry in sorted has a corresponding map entry and vice
// versa; no duplicate identities.
type categoryQueue struct {
	byIdentity map[string]*Entry
	sorted     []*Entry // ascending by rating
}

func newCategoryQueue() *categoryQueue {
	return &categoryQueue{byIdentity: make(map[string]*Entry)}
}

func (cq *categoryQueue) insert(e *Entry) {
	i := sort.Search(len(cq.sorted), func(i int) bool {
		return cq.sorted[i].Rating >= e.Rating
	})
	cq.sorted = append(cq.sorted, nil)
	copy(cq.sorted[i+1:], cq.sorted[i:])
	cq.sorted[i] = e
	cq.byIdentity[e.Identity] = e
}

func (cq *categoryQueue) remove(identity string) *Entry {
	e, ok := cq.byIdentity[identity]
	if !ok {
		return nil
	}
	delete(cq.byIdentity, identity)
	for i, candidate := range cq.sorted {
		if candidate == e {
			cq.sorted = append(cq.sorted[:i], cq.sorted[i+1:]...)
			break
		}
	}
	return e
}

// rangeIndices returns the half-open index range of entries with rating in
// [lo, hi] via two binary searches.
func (cq *categoryQueue) rangeIndices(lo, hi int) (int, int) {
	start := sort.Search(len(cq.sorted), func(i int) bool {
		return cq.sorted[i].Rating >= lo
	})
	end := sort.Search(len(cq.sorted), func(i int) bool {
		return cq.sorted[i].Rating > hi
	})
	return start, end
}

// Queue is the matchmaking waiting pool across all categories
type Queue struct {
	log    logger.Logger
	cfg    Config
	conns  ConnectionChecker
	onPair PairHandler

	mu            sync.Mutex
	categories    map[string]*categoryQueue
	lastOpponents map[string]string // identity -> previous opponent identity
}

// NewQueue creates a queue with injected dependencies. The pair handler is
// invoked once per pairing, outside the queue lock.
func NewQueue(log logger.Logger, cfg Config, conns ConnectionChecker, onPair PairHandler) *Queue {
	return &Queue{
		log:           log,
		cfg:           cfg,
		conns:         conns,
		onPair:        onPair,
		categories:    make(map[string]*categoryQueue),
		lastOpponents: make(map[string]string),
	}
}

// Join inserts (or replaces) the entry for (identity, category) and
// immediately attempts a match at the narrowest tolerance. If none is
// found, two deferred attempts are scheduled. Returns the entry's queue
// position. A dead channel is not rejected here; the sweep collects it.
func (q *Queue) Join(identity, displayName string, ratingValue int, category string) int {
	q.mu.Lock()

	cq, ok := q.categories[category]
	if !ok {
		cq = newCategoryQueue()
		q.categories[category] = cq
	}

	// Repeat join replaces the prior entry.
	if old := cq.remove(identity); old != nil {
		old.stopTimers()
	}

	entry := &Entry{
		Identity:     identity,
		DisplayName:  displayName,
		Rating:       ratingValue,
		Category:     category,
		JoinedAt:     time.Now(),
		LastOpponent: q.lastOpponents[identity],
	}
	cq.insert(entry)
	position := len(cq.sorted)

	pairing := q.attemptLocked(cq, entry, q.cfg.InitialTolerance, false)
	if pairing == nil {
		entry.timers = []*time.Timer{
			time.AfterFunc(q.cfg.ExpandDelay, func() {
				q.deferredAttempt(category, entry, q.cfg.ExpandedTolerance, false)
			}),
			time.AfterFunc(q.cfg.UnrestrictedDelay, func() {
				q.deferredAttempt(category, entry, 0, true)
			}),
		}
	}
	q.mu.Unlock()

	if pairing != nil {
		q.emit(*pairing)
	}
	return position
}

// Cancel removes the entry and cancels its deferred attempts. Reports
// whether an entry was present.
func (q *Queue) Cancel(identity, category string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cq, ok := q.categories[category]
	if !ok {
		return false
	}
	e := cq.remove(identity)
	if e == nil {
		return false
	}
	e.stopTimers()
	return true
}

// Stats returns the current queue size and mean rating for a category
func (q *Queue) Stats(category string) (size int, meanRating float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cq, ok := q.categories[category]
	if !ok || len(cq.sorted) == 0 {
		return 0, 0
	}
	total := 0
	for _, e := range cq.sorted {
		total += e.Rating
	}
	return len(cq.sorted), float64(total) / float64(len(cq.sorted))
}

// ClearLastOpponents forgets the anti-repeat marker between two identities,
// permitting an immediate rematch. Called by the match layer on settlement.
func (q *Queue) ClearLastOpponents(a, b string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastOpponents[a] == b {
		delete(q.lastOpponents, a)
	}
	if q.lastOpponents[b] == a {
		delete(q.lastOpponents, b)
	}
}

// deferredAttempt runs a widened pairing attempt for an entry if it is
// still queued. Timer callbacks re-check entry identity: the entry may have
// been removed or replaced since the timer was armed.
func (q *Queue) deferredAttempt(category string, entry *Entry, tolerance int, unrestricted bool) {
	q.mu.Lock()
	cq, ok := q.categories[category]
	if !ok {
		q.mu.Unlock()
		return
	}
	if current := cq.byIdentity[entry.Identity]; current != entry {
		q.mu.Unlock()
		return
	}
	pairing := q.attemptLocked(cq, entry, tolerance, unrestricted)
	q.mu.Unlock()

	if pairing != nil {
		q.emit(*pairing)
	}
}

// attemptLocked scans the rating range [entry.Rating-T, entry.Rating+T] for
// the first eligible candidate. Candidates within range are interchangeable
// so first-fit is deterministic and good enough. The anti-repeat rule is
// bypassed only on the unrestricted tier so two willing players never
// starve forever.
func (q *Queue) attemptLocked(cq *categoryQueue, entry *Entry, tolerance int, unrestricted bool) *Pairing {
	var start, end int
	if unrestricted {
		start, end = 0, len(cq.sorted)
	} else {
		start, end = cq.rangeIndices(entry.Rating-tolerance, entry.Rating+tolerance)
	}

	for i := start; i < end; i++ {
		candidate := cq.sorted[i]
		if candidate == entry {
			continue
		}
		if !unrestricted && (candidate.LastOpponent == entry.Identity || entry.LastOpponent == candidate.Identity) {
			continue
		}

		cq.remove(entry.Identity)
		cq.remove(candidate.Identity)
		entry.stopTimers()
		candidate.stopTimers()
		q.lastOpponents[entry.Identity] = candidate.Identity
		q.lastOpponents[candidate.Identity] = entry.Identity

		now := time.Now()
		return &Pairing{
			Category: entry.Category,
			A: Paired{
				Identity:    entry.Identity,
				DisplayName: entry.DisplayName,
				Rating:      entry.Rating,
				Waited:      now.Sub(entry.JoinedAt),
			},
			B: Paired{
				Identity:    candidate.Identity,
				DisplayName: candidate.DisplayName,
				Rating:      candidate.Rating,
				Waited:      now.Sub(candidate.JoinedAt),
			},
		}
	}
	return nil
}

func (q *Queue) emit(p Pairing) {
	q.log.Info("Pair found",
		"category", p.Category,
		"player_a", p.A.Identity, "rating_a", p.A.Rating,
		"player_b", p.B.Identity, "rating_b", p.B.Rating,
		"waited_a", p.A.Waited, "waited_b", p.B.Waited)
	if q.onPair != nil {
		q.onPair(p)
	}
}

// Run drives the periodic staleness sweep until the context is cancelled
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

// sweep removes entries whose backing channel is gone and which have sat in
// queue past the staleness threshold. A backstop against leaked entries
// from ungraceful disconnects.
func (q *Queue) sweep() {
	cutoff := time.Now().Add(-q.cfg.Staleness)

	q.mu.Lock()
	defer q.mu.Unlock()

	for category, cq := range q.categories {
		var stale []string
		for identity, e := range cq.byIdentity {
			if e.JoinedAt.After(cutoff) {
				continue
			}
			if q.conns != nil && q.conns.IsConnected(identity) {
				continue
			}
			stale = append(stale, identity)
		}
		for _, identity := range stale {
			if e := cq.remove(identity); e != nil {
				e.stopTimers()
				q.log.Debug("Swept stale queue entry", "identity", identity, "category", category)
			}
		}
	}
}
