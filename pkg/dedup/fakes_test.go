package dedup

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// memStore is an in-memory lead, activity and merge log store with the same
// conditional-write behavior as the SQL repositories. Transactions are serialized
// and rolled back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	leads      map[string]*models.Lead
	activities []models.Activity
	logs       []models.MergeLogEntry

	// test hooks, called without mu held. beforeTx models a writer that commits between load and lock.
	beforeTx    func(s *memStore)
	onTombstone func(survivorID string, duplicateIDs []string) error
	loadErr     error

	commits int
}

func newMemStore(leads ...models.Lead) *memStore {
	s := &memStore{leads: map[string]*models.Lead{}}
	for i := range leads {
		s.put(leads[i])
	}
	return s
}

func cloneLead(l models.Lead) models.Lead {
	l.MergedFrom = append([]string{}, l.MergedFrom...)
	return l
}

func (s *memStore) put(l models.Lead) {
	c := cloneLead(l)
	s.leads[l.ID] = &c
}

func (s *memStore) addActivity(a models.Activity) {
	s.activities = append(s.activities, a)
}

func (s *memStore) lead(id string) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLead(*s.leads[id])
}

func (s *memStore) activityLeads() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, a := range s.activities {
		out[a.ID] = a.LeadID
	}
	return out
}

func (s *memStore) mergeLogs() []models.MergeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MergeLogEntry(nil), s.logs...)
}

func (s *memStore) snapshot() (map[string]*models.Lead, []models.Activity, []models.MergeLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leads := make(map[string]*models.Lead, len(s.leads))
	for id, l := range s.leads {
		c := cloneLead(*l)
		leads[id] = &c
	}
	return leads, append([]models.Activity(nil), s.activities...), append([]models.MergeLogEntry(nil), s.logs...)
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.beforeTx != nil {
		s.beforeTx(s)
	}
	leads, activities, logs := s.snapshot()
	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.leads, s.activities, s.logs = leads, activities, logs
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *memStore) active(tenantID string, ids []string) []models.Lead {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID || l.Status == models.LeadStatusLost || l.MergedAt != nil {
			continue
		}
		if len(ids) > 0 && !want[l.ID] {
			continue
		}
		out = append(out, cloneLead(*l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) LoadCandidates(_ context.Context, tenantID string) ([]models.Lead, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active(tenantID, nil), nil
}

func (s *memStore) LockActive(_ context.Context, tenantID string, ids []string) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active(tenantID, ids), nil
}

func (s *memStore) ApplyPatch(_ context.Context, tenantID, survivorID string, patch models.LeadPatch, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[survivorID]
	if !ok || l.TenantID != tenantID || l.MergedAt != nil {
		return httperror.NewHTTPErrorf(http.StatusConflict, "survivor lead %s is no longer active", survivorID)
	}
	patch.Apply(l)
	l.UpdatedAt = now
	return nil
}

func (s *memStore) Repoint(_ context.Context, tenantID, survivorID string, fromLeadIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := map[string]bool{}
	for _, id := range fromLeadIDs {
		from[id] = true
	}
	var n int64
	for i := range s.activities {
		if s.activities[i].TenantID == tenantID && from[s.activities[i].LeadID] {
			s.activities[i].LeadID = survivorID
			n++
		}
	}
	return n, nil
}

func (s *memStore) RepointDuplicates(_ context.Context, tenantID, survivorID string, duplicateIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := map[string]bool{}
	for _, id := range duplicateIDs {
		from[id] = true
	}
	var n int64
	for _, l := range s.leads {
		if l.TenantID == tenantID && l.DuplicateOf != nil && from[*l.DuplicateOf] {
			target := survivorID
			l.DuplicateOf = &target
			n++
		}
	}
	return n, nil
}

func (s *memStore) Tombstone(_ context.Context, tenantID, survivorID string, duplicateIDs []string, mergedAt time.Time) error {
	if s.onTombstone != nil {
		if err := s.onTombstone(survivorID, duplicateIDs); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, id := range duplicateIDs {
		l, ok := s.leads[id]
		if !ok || l.TenantID != tenantID || l.MergedAt != nil {
			continue
		}
		target, at := survivorID, mergedAt
		l.IsDuplicate = true
		l.DuplicateOf = &target
		l.MergedAt = &at
		l.Status = models.LeadStatusLost
		l.MergedFrom = []string{}
		l.UpdatedAt = mergedAt
		n++
	}
	if n != len(duplicateIDs) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "%d of %d duplicate leads were already merged", len(duplicateIDs)-n, len(duplicateIDs))
	}
	return nil
}

func (s *memStore) Append(_ context.Context, entries []models.MergeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entries...)
	return nil
}

// fakeLocker grants a key to one holder at a time.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		l.mu.Unlock()
		return redis.ErrLockNotAcquired
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// recordingHook remembers every outcome and optionally fails.
type recordingHook struct {
	mu       sync.Mutex
	name     string
	err      error
	outcomes []models.MergeOutcome
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) AfterMerge(_ context.Context, outcome *models.MergeOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, *outcome)
	return h.err
}
