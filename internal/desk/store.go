package desk

import (
	"slices"
	"sync"
	"time"

	"github.com/rickgao/gpttools-desk/internal/model"
)

// Snapshot is the desk's view of the service data at one point in time.
type Snapshot struct {
	CycleID         string                `json:"cycleId,omitempty"`
	RefreshedAt     time.Time             `json:"refreshedAt"`
	Accounts        []model.Account       `json:"accounts"`
	Usage           []model.UsageSnapshot `json:"usage"`
	APIKeys         []model.APIKey        `json:"apiKeys"`
	Models          []model.ModelOption   `json:"models"`
	RequestLogs     []model.RequestLog    `json:"requestLogs"`
	RequestLogQuery string                `json:"requestLogQuery"`
	Stats           model.UsageStats      `json:"stats"`
	Dashboard       model.Dashboard       `json:"dashboard"`
}

// Store keeps the latest lists. Readers always get copies.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current data with derived summaries.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.Accounts = slices.Clone(s.snap.Accounts)
	out.Usage = slices.Clone(s.snap.Usage)
	out.APIKeys = slices.Clone(s.snap.APIKeys)
	out.Models = slices.Clone(s.snap.Models)
	out.RequestLogs = slices.Clone(s.snap.RequestLogs)
	out.Stats = model.ComputeUsageStats(out.Accounts, out.Usage)
	out.Dashboard = model.Summarize(out.Accounts, out.Usage)
	return out
}

// Accounts returns a copy of the account list.
func (s *Store) Accounts() []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.Accounts)
}

// Usage returns a copy of the usage list.
func (s *Store) Usage() []model.UsageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.Usage)
}

// APIKey looks up a key by id.
func (s *Store) APIKey(id string) (model.APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.snap.APIKeys {
		if k.ID == id {
			return k, true
		}
	}
	return model.APIKey{}, false
}

// RequestLogQuery returns the active request log filter.
func (s *Store) RequestLogQuery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.RequestLogQuery
}

func (s *Store) SetAccounts(v []model.Account) {
	s.mu.Lock()
	s.snap.Accounts = slices.Clone(v)
	s.mu.Unlock()
}

func (s *Store) SetUsage(v []model.UsageSnapshot) {
	s.mu.Lock()
	s.snap.Usage = slices.Clone(v)
	s.mu.Unlock()
}

// PutUsage replaces (or appends) the snapshot of a single account.
func (s *Store) PutUsage(u model.UsageSnapshot) {
	id := u.Account()
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Usage {
		if s.snap.Usage[i].Account() == id {
			s.snap.Usage[i] = u
			return
		}
	}
	s.snap.Usage = append(s.snap.Usage, u)
}

func (s *Store) SetAPIKeys(v []model.APIKey) {
	s.mu.Lock()
	s.snap.APIKeys = slices.Clone(v)
	s.mu.Unlock()
}

func (s *Store) SetModels(v []model.ModelOption) {
	s.mu.Lock()
	s.snap.Models = slices.Clone(v)
	s.mu.Unlock()
}

// SetRequestLogs stores logs fetched for query.
func (s *Store) SetRequestLogs(query string, v []model.RequestLog) {
	s.mu.Lock()
	s.snap.RequestLogQuery = query
	s.snap.RequestLogs = slices.Clone(v)
	s.mu.Unlock()
}

func (s *Store) markRefreshed(cycleID string, at time.Time) {
	s.mu.Lock()
	s.snap.CycleID = cycleID
	s.snap.RefreshedAt = at
	s.mu.Unlock()
}
