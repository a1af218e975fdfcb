// Package queue provides admission control for claimed jobs: rate limits
// and concurrency caps per job type and per (job type, store) pair.
//
// Concurrent jobs for the same store are normal; a cap here only bounds
// load, for example one catalog import per store at a time.
package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/assaka/daino-jobs/job"
)

// Limits bounds how jobs of one type are admitted.
type Limits struct {
	// MaxConcurrency caps simultaneously running jobs. Zero is unlimited.
	MaxConcurrency int

	// RateLimit is the sustained admissions per second. Zero disables it.
	RateLimit float64

	// RateBurst is the token bucket size. Defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

type lane struct {
	limits  Limits
	limiter *rate.Limiter
	active  int
}

func newLane(l Limits) *lane {
	ln := &lane{limits: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ln.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ln
}

func (ln *lane) full() bool {
	return ln.limits.MaxConcurrency > 0 && ln.active >= ln.limits.MaxConcurrency
}

type storeKey struct {
	t       job.Type
	storeID string
}

// Manager admits claimed jobs. It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	types     map[job.Type]*lane
	perStore  map[job.Type]Limits
	storeLane map[storeKey]*lane
}

// NewManager creates a Manager with no limits.
func NewManager() *Manager {
	return &Manager{
		types:     make(map[job.Type]*lane),
		perStore:  make(map[job.Type]Limits),
		storeLane: make(map[storeKey]*lane),
	}
}

// SetTypeLimits configures limits across all stores for t.
func (m *Manager) SetTypeLimits(t job.Type, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ln := newLane(l)
	if old := m.types[t]; old != nil {
		ln.active = old.active
	}
	m.types[t] = ln
}

// SetStoreLimits configures limits applied to each store separately for
// jobs of type t.
func (m *Manager) SetStoreLimits(t job.Type, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perStore[t] = l
	for k, ln := range m.storeLane {
		if k.t == t {
			fresh := newLane(l)
			fresh.active = ln.active
			m.storeLane[k] = fresh
		}
	}
}

// Acquire reports whether j may run now. On true the caller MUST call
// Release when the job finishes.
func (m *Manager) Acquire(j *job.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tl := m.types[j.Type]
	if tl != nil && tl.full() {
		return false
	}

	var sl *lane
	if l, ok := m.perStore[j.Type]; ok && j.StoreID != "" {
		k := storeKey{j.Type, j.StoreID}
		sl = m.storeLane[k]
		if sl == nil {
			sl = newLane(l)
			m.storeLane[k] = sl
		}
		if sl.full() {
			return false
		}
	}

	// Rate tokens are only spent once concurrency has room.
	if tl != nil && tl.limiter != nil && !tl.limiter.Allow() {
		return false
	}
	if sl != nil && sl.limiter != nil && !sl.limiter.Allow() {
		return false
	}

	if tl != nil {
		tl.active++
	}
	if sl != nil {
		sl.active++
	}
	return true
}

// Release returns the slots taken by Acquire.
func (m *Manager) Release(j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tl := m.types[j.Type]; tl != nil && tl.active > 0 {
		tl.active--
	}
	if sl := m.storeLane[storeKey{j.Type, j.StoreID}]; sl != nil && sl.active > 0 {
		sl.active--
	}
}

// Active returns the running count for t, and for t within storeID when
// storeID is non-empty.
func (m *Manager) Active(t job.Type, storeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if storeID != "" {
		if sl := m.storeLane[storeKey{t, storeID}]; sl != nil {
			return sl.active
		}
		return 0
	}
	if tl := m.types[t]; tl != nil {
		return tl.active
	}
	return 0
}
