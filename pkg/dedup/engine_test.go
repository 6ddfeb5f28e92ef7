package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	base     = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func ptr[T any](v T) *T { return &v }

func newLead(id string, minute int, mutate ...func(*models.Lead)) models.Lead {
	created := base.Add(time.Duration(minute) * time.Minute)
	l := models.Lead{
		ID:         id,
		TenantID:   "tenant-a",
		Status:     models.LeadStatusNew,
		CreatedAt:  created,
		UpdatedAt:  created,
		MergedFrom: []string{},
	}
	for _, m := range mutate {
		m(&l)
	}
	return l
}

func email(v string) func(*models.Lead)  { return func(l *models.Lead) { l.Email = v } }
func phone(v string) func(*models.Lead)  { return func(l *models.Lead) { l.Phone = v } }
func notes(v string) func(*models.Lead)  { return func(l *models.Lead) { l.Notes = v } }
func tenant(v string) func(*models.Lead) { return func(l *models.Lead) { l.TenantID = v } }

func newTestEngine(store *memStore, opts ...Option) *Engine {
	cfg := Config{Now: func() time.Time { return fixedNow }}
	return NewEngine(cfg, store, store, store, store, testLogger(), opts...)
}

func trigger(tenantID string) models.Trigger {
	return models.Trigger{TenantID: tenantID}
}

// assertNonReciprocal checks that no lead both absorbs others and points at a survivor,
// and that every duplicate_of names a live lead.
func assertNonReciprocal(t *testing.T, store *memStore) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for id, l := range store.leads {
		if l.DuplicateOf == nil {
			continue
		}
		assert.Empty(t, l.MergedFrom, "tombstone %s still carries merged_from", id)
		target, ok := store.leads[*l.DuplicateOf]
		require.True(t, ok, "tombstone %s points at unknown lead", id)
		assert.Nil(t, target.MergedAt, "tombstone %s points at merged lead %s", id, target.ID)
	}
}

func TestEngine_MergesSharedEmail(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com"), phone("5551234567")),
		newLead("L2", 1, email(" A@x.com"), notes("called twice")),
	)
	store.addActivity(models.Activity{ID: "act-1", TenantID: "tenant-a", LeadID: "L2"})
	store.addActivity(models.Activity{ID: "act-2", TenantID: "tenant-a", LeadID: "L1"})

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.GroupsDetected)
	assert.Equal(t, 1, summary.GroupsMerged)
	assert.Equal(t, 1, summary.RecordsMerged)
	assert.Equal(t, 1, summary.ByMatchType[models.MatchTypeEmail])
	assert.Equal(t, 0, summary.ByMatchType[models.MatchTypePhone])
	assert.Empty(t, summary.GroupErrors)
	assert.False(t, summary.DryRun)
	assert.Equal(t, fixedNow, summary.CompletedAt)

	survivor := store.lead("L1")
	assert.Equal(t, "5551234567", survivor.Phone)
	assert.Equal(t, "--- merged from lead L2 ---\ncalled twice", survivor.Notes)
	assert.Equal(t, []string{"L2"}, []string(survivor.MergedFrom))
	assert.Nil(t, survivor.MergedAt)
	assert.Equal(t, fixedNow, survivor.UpdatedAt)

	dup := store.lead("L2")
	assert.True(t, dup.IsDuplicate)
	require.NotNil(t, dup.DuplicateOf)
	assert.Equal(t, "L1", *dup.DuplicateOf)
	assert.Equal(t, models.LeadStatusLost, dup.Status)
	require.NotNil(t, dup.MergedAt)
	assert.Equal(t, fixedNow, *dup.MergedAt)

	assert.Equal(t, map[string]string{"act-1": "L1", "act-2": "L1"}, store.activityLeads())

	logs := store.mergeLogs()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, "L2", entry.OriginalID)
	assert.Equal(t, "L1", entry.SurvivorID)
	assert.Equal(t, "tenant-a", entry.TenantID)
	assert.Equal(t, summary.RunID, entry.RunID)
	assert.Equal(t, models.MatchTypeEmail, entry.MatchType)
	assert.Equal(t, "a@x.com", entry.MatchKey)
	assert.Equal(t, models.ExactMatchScore, entry.SimilarityScore)
	assert.True(t, entry.IsAutomatic)
	assert.Nil(t, entry.PerformedBy)
	assert.Equal(t, " A@x.com", entry.Details.Data.Email)
	assert.Equal(t, models.LeadStatusNew, entry.Details.Data.Status)
	_, err = uuid.Parse(entry.ID)
	assert.NoError(t, err)

	assertNonReciprocal(t, store)
}

func TestEngine_RerunIsIdempotent(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com"), phone("5551234567")),
		newLead("L2", 1, email("a@x.com"), notes("called twice")),
	)
	engine := newTestEngine(store)

	_, err := engine.Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	before, _, logsBefore := store.snapshot()
	commits := store.commits

	summary, err := engine.Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.GroupsDetected)
	assert.Equal(t, 0, summary.RecordsMerged)

	after, _, logsAfter := store.snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, logsBefore, logsAfter)
	assert.Equal(t, commits, store.commits)
}

func TestEngine_HigherPriorityClaimLeavesSingleton(t *testing.T) {
	store := newMemStore(
		newLead("A", 0, email("a@x.com")),
		newLead("B", 1, email("a@x.com"), phone("555-123-4567")),
		newLead("C", 2, email("c@x.com"), phone("(555) 123 4567")),
	)
	engine := newTestEngine(store)

	summary, err := engine.Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GroupsDetected)
	assert.Equal(t, 1, summary.ByMatchType[models.MatchTypeEmail])
	assert.Equal(t, 0, summary.ByMatchType[models.MatchTypePhone])

	// B is more complete and survives the email group
	assert.Equal(t, "B", *store.lead("A").DuplicateOf)
	c := store.lead("C")
	assert.Nil(t, c.MergedAt)
	assert.Nil(t, c.DuplicateOf)
	assert.Empty(t, c.MergedFrom)

	// the phone pair is picked up by the next run
	summary, err = engine.Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GroupsDetected)
	assert.Equal(t, 1, summary.ByMatchType[models.MatchTypePhone])

	b := store.lead("B")
	assert.Nil(t, b.MergedAt)
	assert.Equal(t, []string{"A", "C"}, []string(b.MergedFrom))
	assertNonReciprocal(t, store)
}

func TestEngine_NoDuplicatesWritesNothing(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com")),
		newLead("L2", 1, email("b@x.com"), phone("123")),
		newLead("L3", 2, phone("123")),
	)

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.GroupsDetected)
	assert.Equal(t, 0, summary.RecordsMerged)
	assert.Equal(t, 0, store.commits)
	assert.Empty(t, store.mergeLogs())
}

func TestEngine_ChainedMergeRepointsEarlierTombstones(t *testing.T) {
	merged := base.Add(-time.Hour)
	store := newMemStore(
		newLead("T0", -10, email("old@x.com"), func(l *models.Lead) {
			l.IsDuplicate = true
			l.DuplicateOf = ptr("L2")
			l.MergedAt = &merged
			l.Status = models.LeadStatusLost
		}),
		newLead("L1", 0, email("a@x.com"), phone("5551234567")),
		newLead("L2", 1, email("a@x.com"), func(l *models.Lead) { l.MergedFrom = []string{"T0"} }),
	)

	_, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"L2", "T0"}, []string(store.lead("L1").MergedFrom))
	assert.Empty(t, store.lead("L2").MergedFrom)
	assert.Equal(t, "L1", *store.lead("T0").DuplicateOf)
	assert.Equal(t, merged, *store.lead("T0").MergedAt)

	logs := store.mergeLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, []string{"T0"}, logs[0].Details.Data.MergedFrom)
	assertNonReciprocal(t, store)
}

func TestEngine_KeepsTenantsApart(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com")),
		newLead("L2", 1, email("a@x.com")),
		newLead("OTHER", 2, email("a@x.com"), tenant("tenant-b")),
	)
	store.addActivity(models.Activity{ID: "act-b", TenantID: "tenant-b", LeadID: "OTHER"})

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecordsMerged)

	other := store.lead("OTHER")
	assert.Nil(t, other.MergedAt)
	assert.Empty(t, other.MergedFrom)
	assert.Equal(t, "OTHER", store.activityLeads()["act-b"])
}

func TestEngine_NoIdentityDataIsLost(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com"), phone("5551234567"), notes("vip"), func(l *models.Lead) { l.CompanyName = "Acme" }),
		newLead("L2", 1, email("a@x.com"), func(l *models.Lead) {
			l.CompanyName = "Acme Corp"
			l.ContactName = "Ana"
			l.EstimatedValue = ptr(1200.0)
		}),
		newLead("L3", 2, email("a@x.com"), phone("5559999999"), func(l *models.Lead) {
			l.City = "Lisbon"
			l.Category = "retail"
		}),
	)

	_, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	survivor := store.lead("L1")
	assert.Equal(t, "Acme", survivor.CompanyName)
	assert.Equal(t, "5551234567", survivor.Phone)
	assert.Equal(t, "Ana", survivor.ContactName)
	assert.Equal(t, "Lisbon", survivor.City)
	assert.Equal(t, "retail", survivor.Category)
	require.NotNil(t, survivor.EstimatedValue)
	assert.Equal(t, 1200.0, *survivor.EstimatedValue)

	// values the survivor kept its own version of survive in the log snapshots
	snapshots := map[string]models.DuplicateSnapshot{}
	for _, entry := range store.mergeLogs() {
		snapshots[entry.OriginalID] = entry.Details.Data
	}
	assert.Equal(t, "Acme Corp", snapshots["L2"].CompanyName)
	assert.Equal(t, "vip", survivor.Notes)
	assert.Equal(t, "5559999999", snapshots["L3"].Phone)
}

func TestEngine_Deterministic(t *testing.T) {
	leads := []models.Lead{
		newLead("L3", 0, email("a@x.com")),
		newLead("L1", 0, email("a@x.com")),
		newLead("L2", 0, email("a@x.com")),
		newLead("P1", 1, phone("5551234567")),
		newLead("P2", 2, phone("555.123.4567")),
	}
	first := newMemStore(leads...)
	second := newMemStore(leads[4], leads[2], leads[0], leads[3], leads[1])

	s1, err := newTestEngine(first).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	s2, err := newTestEngine(second).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	a, _, _ := first.snapshot()
	b, _, _ := second.snapshot()
	assert.Equal(t, a, b)
	assert.Equal(t, s1.ByMatchType, s2.ByMatchType)
	// identical scores fall back to the smallest id
	assert.Equal(t, "L1", *a["L2"].DuplicateOf)
	assert.Equal(t, "L1", *a["L3"].DuplicateOf)
}

func TestEngine_ConcurrentModificationAbortsOnlyThatGroup(t *testing.T) {
	store := newMemStore(
		newLead("E1", 0, email("a@x.com")),
		newLead("E2", 1, email("a@x.com")),
		newLead("P1", 2, phone("5551234567")),
		newLead("P2", 3, phone("5551234567")),
	)
	raced := false
	store.beforeTx = func(s *memStore) {
		if raced {
			return
		}
		raced = true
		s.mu.Lock()
		defer s.mu.Unlock()
		at := fixedNow.Add(-time.Minute)
		s.leads["E2"].MergedAt = &at
		s.leads["E2"].Status = models.LeadStatusLost
	}

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.GroupsDetected)
	assert.Equal(t, 1, summary.GroupsMerged)
	require.Len(t, summary.GroupErrors, 1)
	groupErr := summary.GroupErrors[0]
	assert.Equal(t, models.ErrorKindConcurrentModification, groupErr.Kind)
	assert.Equal(t, models.MatchTypeEmail, groupErr.MatchType)
	assert.Equal(t, []string{"E1", "E2"}, groupErr.LeadIDs)

	assert.Nil(t, store.lead("E1").MergedAt)
	assert.Empty(t, store.lead("E1").MergedFrom)
	// equal scores, P2 has the more recent activity
	assert.Equal(t, "P2", *store.lead("P1").DuplicateOf)

	logs := store.mergeLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "P1", logs[0].OriginalID)
}

func TestEngine_StoreFailureRollsBackGroup(t *testing.T) {
	store := newMemStore(
		newLead("E1", 0, email("a@x.com")),
		newLead("E2", 1, email("a@x.com"), phone("5550000000"), notes("hi")),
		newLead("P1", 2, phone("5551234567")),
		newLead("P2", 3, phone("5551234567")),
	)
	store.addActivity(models.Activity{ID: "act-1", TenantID: "tenant-a", LeadID: "E1"})
	store.onTombstone = func(survivorID string, _ []string) error {
		if survivorID == "E2" {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)

	require.Len(t, summary.GroupErrors, 1)
	assert.Equal(t, models.ErrorKindTransient, summary.GroupErrors[0].Kind)
	assert.Contains(t, summary.GroupErrors[0].Message, "tombstone")
	assert.Equal(t, 1, summary.GroupsMerged)
	assert.Equal(t, 1, summary.RecordsMerged)

	// patch and re-point of the failed group are rolled back
	e2 := store.lead("E2")
	assert.Empty(t, e2.MergedFrom)
	assert.Equal(t, base.Add(time.Minute), e2.UpdatedAt)
	assert.Equal(t, "E1", store.activityLeads()["act-1"])
	assert.Nil(t, store.lead("E1").MergedAt)
	assert.NotNil(t, store.lead("P1").MergedAt)
}

type cancelHook struct {
	cancel context.CancelFunc
}

func (h *cancelHook) Name() string { return "cancel" }

func (h *cancelHook) AfterMerge(context.Context, *models.MergeOutcome) error {
	h.cancel()
	return nil
}

func TestEngine_CancellationReturnsPartialSummary(t *testing.T) {
	store := newMemStore(
		newLead("E1", 0, email("a@x.com")),
		newLead("E2", 1, email("a@x.com")),
		newLead("P1", 2, phone("5551234567")),
		newLead("P2", 3, phone("5551234567")),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	summary, err := newTestEngine(store, WithHooks(&cancelHook{cancel: cancel})).Run(ctx, trigger("tenant-a"))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.GroupsDetected)
	assert.Equal(t, 1, summary.GroupsMerged)
	assert.Nil(t, store.lead("P2").MergedAt)
}

func TestEngine_DryRunPlansWithoutWriting(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com"), phone("5551234567")),
		newLead("L2", 1, email("a@x.com"), notes("called twice")),
	)
	locker := &fakeLocker{}
	tr := trigger("tenant-a")
	tr.DryRun = true

	summary, err := newTestEngine(store, WithLocker(locker)).Run(context.Background(), tr)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.GroupsDetected)
	assert.Equal(t, 0, summary.GroupsMerged)
	assert.Equal(t, 1, summary.RecordsMerged)
	require.Len(t, summary.Plans, 1)
	assert.Equal(t, "L1", summary.Plans[0].Survivor.ID)
	assert.Equal(t, []string{"L2"}, summary.Plans[0].DuplicateIDs())

	assert.Equal(t, 0, store.commits)
	assert.Nil(t, store.lead("L2").MergedAt)
	assert.Empty(t, locker.keys)
}

func TestEngine_ValidatesTrigger(t *testing.T) {
	store := newMemStore(newLead("L1", 0, email("a@x.com")), newLead("L2", 1, email("a@x.com")))

	t.Run("blank tenant", func(t *testing.T) {
		summary, err := newTestEngine(store).Run(context.Background(), trigger("   "))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "tenant_id", verr.Field)
		assert.Nil(t, summary)
		assert.Equal(t, 0, store.commits)
	})

	t.Run("uuid required", func(t *testing.T) {
		engine := NewEngine(Config{RequireUUIDTenant: true}, store, store, store, store, testLogger())
		_, err := engine.Run(context.Background(), trigger("tenant-a"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)

		_, err = engine.Run(context.Background(), trigger(uuid.NewString()))
		assert.NoError(t, err)
	})
}

func TestEngine_LockHeldByAnotherRun(t *testing.T) {
	store := newMemStore(newLead("L1", 0, email("a@x.com")), newLead("L2", 1, email("a@x.com")))
	locker := &fakeLocker{held: map[string]bool{lockKey("tenant-a"): true}}

	summary, err := newTestEngine(store, WithLocker(locker)).Run(context.Background(), trigger("tenant-a"))
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, summary)
	assert.Equal(t, 0, store.commits)
}

func TestEngine_TakesTenantLock(t *testing.T) {
	store := newMemStore(newLead("L1", 0, email("a@x.com")), newLead("L2", 1, email("a@x.com")))
	locker := &fakeLocker{}

	_, err := newTestEngine(store, WithLocker(locker)).Run(context.Background(), trigger(" tenant-a "))
	require.NoError(t, err)
	assert.Equal(t, []string{"dedup:tenant:tenant-a"}, locker.keys)
	assert.Empty(t, locker.held)
}

func TestEngine_LoadFailureIsTransient(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("db down")

	summary, err := newTestEngine(store).Run(context.Background(), trigger("tenant-a"))
	var terr *TransientStoreError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "load_candidates", terr.Op)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.GroupsDetected)
}

func TestEngine_HooksSeeCommittedMerges(t *testing.T) {
	store := newMemStore(
		newLead("L1", 0, email("a@x.com"), phone("5551234567")),
		newLead("L2", 1, email("a@x.com")),
	)
	store.addActivity(models.Activity{ID: "act-1", TenantID: "tenant-a", LeadID: "L2"})
	failing := &recordingHook{name: "events", err: errors.New("broker unavailable")}
	recording := &recordingHook{name: "lineage"}

	summary, err := newTestEngine(store, WithHooks(failing, recording)).Run(context.Background(), trigger("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GroupsMerged)
	assert.Empty(t, summary.GroupErrors)

	require.Len(t, recording.outcomes, 1)
	outcome := recording.outcomes[0]
	assert.Equal(t, summary.RunID, outcome.RunID)
	assert.Equal(t, "L1", outcome.SurvivorID)
	assert.Equal(t, []string{"L2"}, outcome.DuplicateIDs)
	assert.Equal(t, []string{"L2"}, outcome.MergedFrom)
	assert.Equal(t, int64(1), outcome.ActivitiesRepointed)
	assert.Equal(t, fixedNow, outcome.MergedAt)
	assert.Len(t, failing.outcomes, 1)
}

func TestEngine_ManualRunRecordsActor(t *testing.T) {
	store := newMemStore(newLead("L1", 0, email("a@x.com")), newLead("L2", 1, email("a@x.com")))
	tr := models.Trigger{TenantID: "tenant-a", TriggeredBy: ptr("user-7"), TriggeredManually: true}

	_, err := newTestEngine(store).Run(context.Background(), tr)
	require.NoError(t, err)

	logs := store.mergeLogs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].IsAutomatic)
	require.NotNil(t, logs[0].PerformedBy)
	assert.Equal(t, "user-7", *logs[0].PerformedBy)
}

func TestEngine_RunTenants(t *testing.T) {
	store := newMemStore(
		newLead("A1", 0, email("a@x.com")),
		newLead("A2", 1, email("a@x.com")),
		newLead("B1", 0, email("b@x.com"), tenant("tenant-b")),
		newLead("B2", 1, email("b@x.com"), tenant("tenant-b")),
		newLead("B3", 2, email("b@x.com"), tenant("tenant-b")),
	)

	results := newTestEngine(store).RunTenants(context.Background(), []models.Trigger{
		trigger("tenant-a"),
		trigger(""),
		trigger("tenant-b"),
	}, 2)

	require.Len(t, results, 3)
	assert.Equal(t, "tenant-a", results[0].TenantID)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Summary.RecordsMerged)

	var verr *ValidationError
	assert.ErrorAs(t, results[1].Err, &verr)

	require.NoError(t, results[2].Err)
	assert.Equal(t, 2, results[2].Summary.RecordsMerged)
	assertNonReciprocal(t, store)
}
