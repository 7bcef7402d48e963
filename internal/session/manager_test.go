package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

type stubCompleter struct {
	response string
	err      error
	calls    int
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubCompleter) GetModel() string { return "stub" }

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestManager builds a manager on a MemoryStore with a controllable
// clock. Advance the clock by assigning through the returned pointer.
func newTestManager(t *testing.T, cfg Config) (*Manager, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	m, err := NewManager(cfg, store, nil, nil)
	require.NoError(t, err)

	now := baseTime
	clock := &now
	m.now = func() time.Time { return *clock }
	return m, store, clock
}

func TestStartContextEndsPreviousActive(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})

	first, err := m.StartContext(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Relevance)

	second, err := m.StartContext(context.Background(), "session-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)
	assert.Contains(t, got.Summary, "Session covered")

	active := m.ActiveContext()
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

func TestGetUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateContextAccretesWithoutDuplicates(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, m.UpdateContext(context.Background(), Update{
		Topics:    []string{"work", "travel"},
		KeyFacts:  []string{"flies friday"},
		Exchanges: 2,
	}))
	require.NoError(t, m.UpdateContext(context.Background(), Update{
		Topics:    []string{"travel", "health"},
		KeyFacts:  []string{"flies friday"},
		Exchanges: 1,
	}))

	sc := m.ActiveContext()
	assert.Equal(t, []string{"work", "travel", "health"}, sc.Topics)
	assert.Equal(t, []string{"flies friday"}, sc.KeyFacts)
	assert.Equal(t, 3, sc.ExchangeCount)
}

func TestUpdateContextNoActive(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	err := m.UpdateContext(context.Background(), Update{Topics: []string{"x"}})
	assert.Error(t, err)
}

func TestPreferenceMergeBumpsConfidence(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	pref := types.Preference{Category: "food", Key: "diet", Value: "vegetarian", Confidence: 0.6}
	require.NoError(t, m.UpdateContext(context.Background(), Update{Preferences: []types.Preference{pref}}))
	require.NoError(t, m.UpdateContext(context.Background(), Update{Preferences: []types.Preference{
		{Category: "food", Key: "diet", Value: "vegan", Confidence: 0.4},
	}}))

	sc := m.ActiveContext()
	require.Len(t, sc.Preferences, 1)
	got := sc.Preferences[0]
	assert.InDelta(t, 0.7, got.Confidence, 1e-9, "max(existing, incoming) + 0.1")
	assert.Equal(t, "vegan", got.Value)
	assert.Equal(t, 2, got.ConfirmationCount)
}

func TestPreferenceConfidenceCappedAtOne(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	pref := types.Preference{Category: "style", Key: "tone", Value: "brief", Confidence: 0.95}
	for i := 0; i < 3; i++ {
		require.NoError(t, m.UpdateContext(context.Background(), Update{Preferences: []types.Preference{pref}}))
	}

	sc := m.ActiveContext()
	require.Len(t, sc.Preferences, 1)
	assert.Equal(t, 1.0, sc.Preferences[0].Confidence)
	assert.Equal(t, 3, sc.Preferences[0].ConfirmationCount)
}

func TestPendingItemResolveIsOneWay(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	item, err := m.AddPendingItem(context.Background(), "book the flight")
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)

	require.NoError(t, m.ResolvePendingItem(context.Background(), item.ID, "booked"))

	// A second resolve must not overwrite the original resolution.
	require.NoError(t, m.ResolvePendingItem(context.Background(), item.ID, "cancelled"))

	sc := m.ActiveContext()
	require.Len(t, sc.PendingItems, 1)
	assert.True(t, sc.PendingItems[0].Resolved)
	assert.Equal(t, "booked", sc.PendingItems[0].Resolution)
	assert.NotNil(t, sc.PendingItems[0].ResolvedAt)
}

func TestResolvePendingItemUnknown(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	assert.Error(t, m.ResolvePendingItem(context.Background(), "missing", "done"))
}

func TestEndContextUsesCompleter(t *testing.T) {
	store := NewMemoryStore()
	comp := &stubCompleter{response: "We planned a trip."}
	m, err := NewManager(Config{}, store, comp, nil)
	require.NoError(t, err)

	_, err = m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))

	assert.Equal(t, 1, comp.calls)
	assert.Nil(t, m.ActiveContext())

	contexts, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, contexts, "nothing persisted before SaveDirty")
}

func TestEndContextFallsBackOnCompleterError(t *testing.T) {
	store := NewMemoryStore()
	comp := &stubCompleter{err: errors.New("provider down")}
	m, err := NewManager(Config{}, store, comp, nil)
	require.NoError(t, err)

	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Exchanges: 4}))
	require.NoError(t, m.EndContext(context.Background()))

	got, err := m.Get(sc.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Summary, "Session covered 4 exchange(s)")
}

func TestDecayGeometricPerDay(t *testing.T) {
	m, _, clock := newTestManager(t, Config{DecayRatePerDay: 0.1})
	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))

	days := 3.0
	*clock = baseTime.Add(time.Duration(days*24) * time.Hour)
	m.DecayTick(*clock)

	got, err := m.Get(sc.ID)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(0.9, days), got.Relevance, 1e-9)
}

func TestDecayIncrementalMatchesOneShot(t *testing.T) {
	m, _, clock := newTestManager(t, Config{DecayRatePerDay: 0.1})
	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))

	// Two ticks a day apart must compound to the same result as one
	// two-day tick.
	*clock = baseTime.Add(24 * time.Hour)
	m.DecayTick(*clock)
	*clock = baseTime.Add(48 * time.Hour)
	m.DecayTick(*clock)

	got, err := m.Get(sc.ID)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(0.9, 2), got.Relevance, 1e-9)
}

func TestDecayNotRecompoundedAfterReload(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager(Config{DecayRatePerDay: 0.1}, store, nil, nil)
	require.NoError(t, err)
	now := baseTime
	m.now = func() time.Time { return now }

	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))

	m.DecayTick(baseTime.Add(24 * time.Hour))
	m.DecayTick(baseTime.Add(48 * time.Hour))
	require.NoError(t, m.SaveDirty(context.Background()))

	// A fresh manager over the same store must pick up the persisted
	// decay watermark, not re-decay from UpdatedAt.
	reloaded, err := NewManager(Config{DecayRatePerDay: 0.1}, store, nil, nil)
	require.NoError(t, err)
	reloaded.DecayTick(baseTime.Add(72 * time.Hour))

	got, err := reloaded.Get(sc.ID)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(0.9, 3), got.Relevance, 1e-9)
}

func TestDecaySkipsActiveContext(t *testing.T) {
	m, _, clock := newTestManager(t, Config{DecayRatePerDay: 0.1})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	*clock = baseTime.Add(200 * 24 * time.Hour)
	m.DecayTick(*clock)

	active := m.ActiveContext()
	require.NotNil(t, active)
	assert.Equal(t, 1.0, active.Relevance)
}

func TestDecayArchivesBelowThreshold(t *testing.T) {
	m, store, clock := newTestManager(t, Config{DecayRatePerDay: 0.1, MinRelevanceThreshold: 0.2})
	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))
	require.NoError(t, m.SaveDirty(context.Background()))

	// 0.9^16 is about 0.185, below the floor.
	*clock = baseTime.Add(16 * 24 * time.Hour)
	m.DecayTick(*clock)

	_, err = m.Get(sc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveDirty(context.Background()))
	contexts, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, contexts)
}

func TestDecayArchivesPastMaxAge(t *testing.T) {
	m, _, clock := newTestManager(t, Config{DecayRatePerDay: 0.0001, MaxContextAgeDays: 90})
	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.EndContext(context.Background()))

	*clock = baseTime.Add(91 * 24 * time.Hour)
	m.DecayTick(*clock)

	_, err = m.Get(sc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDirtyPersistsAndClears(t *testing.T) {
	m, store, _ := newTestManager(t, Config{})
	sc, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work"}}))

	require.NoError(t, m.SaveDirty(context.Background()))

	contexts, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, sc.ID, contexts[0].ID)
	assert.Equal(t, []string{"work"}, contexts[0].Topics)
}

func TestManagerReloadsFromStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), &types.SessionContext{
		ID:        "old",
		SessionID: "s1",
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
		Relevance: 0.8,
		Topics:    []string{"work"},
	}))

	m, err := NewManager(Config{}, store, nil, nil)
	require.NoError(t, err)

	got, err := m.Get("old")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Relevance)
}

func TestTopicLinkingIsBidirectional(t *testing.T) {
	m, _, _ := newTestManager(t, Config{TopicOverlapThreshold: 0.3})

	first, err := m.StartContext(context.Background(), "alpha")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work", "travel"}}))

	second, err := m.StartContext(context.Background(), "beta")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work", "travel"}}))

	gotFirst, err := m.Get(first.ID)
	require.NoError(t, err)
	gotSecond, err := m.Get(second.ID)
	require.NoError(t, err)

	assert.Contains(t, gotSecond.RelatedSessionIDs, "alpha")
	assert.Contains(t, gotFirst.RelatedSessionIDs, "beta")
}

func TestTopicLinkingBelowThresholdIgnored(t *testing.T) {
	m, _, _ := newTestManager(t, Config{TopicOverlapThreshold: 0.3})

	_, err := m.StartContext(context.Background(), "alpha")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work", "health", "finance"}}))

	second, err := m.StartContext(context.Background(), "beta")
	require.NoError(t, err)
	// One topic of four in the union is a 0.25 overlap.
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work", "cooking"}}))

	gotSecond, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Empty(t, gotSecond.RelatedSessionIDs)
}

func TestTopicLinkingCapsRelatedList(t *testing.T) {
	m, _, _ := newTestManager(t, Config{TopicOverlapThreshold: 0.3, MaxRelatedSessions: 2})

	for _, name := range []string{"s1", "s2", "s3", "s4"} {
		_, err := m.StartContext(context.Background(), name)
		require.NoError(t, err)
		require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"work"}}))
	}

	last := m.ActiveContext()
	require.NotNil(t, last)
	assert.LessOrEqual(t, len(last.RelatedSessionIDs), 2)
	assert.NotContains(t, last.RelatedSessionIDs, "s4", "never links to itself")
}

func TestRetrieveRelevantContextTopicRescale(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.contexts["a"] = &types.SessionContext{
		ID: "a", SessionID: "s1", CreatedAt: baseTime, UpdatedAt: baseTime,
		Relevance: 0.8, Topics: []string{"work"},
	}
	m.contexts["b"] = &types.SessionContext{
		ID: "b", SessionID: "s2", CreatedAt: baseTime, UpdatedAt: baseTime,
		Relevance: 0.8, Topics: []string{"cooking"},
	}

	results := m.RetrieveRelevantContext(RetrieveOptions{CurrentTopics: []string{"work"}})
	require.Len(t, results, 2)

	// Full overlap scores 0.8, none scores 0.4.
	assert.Equal(t, "a", results[0].Context.ID)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
	assert.InDelta(t, 0.4, results[1].Score, 1e-9)

	// Read-time rescaling never mutates stored relevance.
	assert.Equal(t, 0.8, m.contexts["b"].Relevance)
}

func TestRetrieveRelevantContextFilters(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.contexts["a"] = &types.SessionContext{ID: "a", SessionID: "s1", UpdatedAt: baseTime, Relevance: 0.9}
	m.contexts["b"] = &types.SessionContext{ID: "b", SessionID: "s2", UpdatedAt: baseTime.Add(-48 * time.Hour), Relevance: 0.9}
	m.contexts["c"] = &types.SessionContext{ID: "c", SessionID: "s1", UpdatedAt: baseTime, Relevance: 0.1}

	results := m.RetrieveRelevantContext(RetrieveOptions{
		From:         baseTime.Add(-time.Hour),
		MinRelevance: 0.5,
		SessionIDs:   []string{"s1"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Context.ID)
}

func TestRetrieveRelevantContextLimitAndTieBreak(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	for _, id := range []string{"c", "a", "b"} {
		m.contexts[id] = &types.SessionContext{ID: id, SessionID: id, UpdatedAt: baseTime, Relevance: 0.5}
	}

	results := m.RetrieveRelevantContext(RetrieveOptions{Limit: 2})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Context.ID)
	assert.Equal(t, "b", results[1].Context.ID)
}

func TestWelcomeBackEmptyWithNoHistory(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestWelcomeBackRelevanceWinsWithinWindow(t *testing.T) {
	m, _, _ := newTestManager(t, Config{WelcomeSummaryMaxItems: 3})
	m.contexts["a"] = &types.SessionContext{
		ID: "a", SessionID: "s1", UpdatedAt: baseTime,
		Relevance: 0.3, Topics: []string{"alpha"},
	}
	m.contexts["b"] = &types.SessionContext{
		ID: "b", SessionID: "s2", UpdatedAt: baseTime.Add(-2 * time.Hour),
		Relevance: 0.9, Topics: []string{"beta"},
	}

	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Less(t, strings.Index(summary, "beta"), strings.Index(summary, "alpha"),
		"within a day of each other the more relevant context leads")
}

func TestWelcomeBackRecencyWinsBeyondWindow(t *testing.T) {
	m, _, _ := newTestManager(t, Config{WelcomeSummaryMaxItems: 3})
	m.contexts["a"] = &types.SessionContext{
		ID: "a", SessionID: "s1", UpdatedAt: baseTime,
		Relevance: 0.2, Topics: []string{"alpha"},
	}
	m.contexts["b"] = &types.SessionContext{
		ID: "b", SessionID: "s2", UpdatedAt: baseTime.Add(-48 * time.Hour),
		Relevance: 1.0, Topics: []string{"beta"},
	}

	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Less(t, strings.Index(summary, "alpha"), strings.Index(summary, "beta"),
		"more than a day apart the newer context leads")
}

func TestWelcomeBackMentionsOpenItems(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.contexts["a"] = &types.SessionContext{
		ID: "a", SessionID: "s1", UpdatedAt: baseTime,
		Relevance: 0.9, Topics: []string{"travel"},
		PendingItems: []types.PendingItem{
			{ID: "p1", Description: "book the flight"},
			{ID: "p2", Description: "renew passport", Resolved: true},
		},
	}

	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "book the flight")
	assert.NotContains(t, summary, "renew passport")
}

func TestWelcomeBackIncludesFactsAndPreferences(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.contexts["a"] = &types.SessionContext{
		ID: "a", SessionID: "s1", UpdatedAt: baseTime,
		Relevance: 0.9, Topics: []string{"travel"},
		KeyFacts: []string{"flies to lisbon in may"},
		Preferences: []types.Preference{
			{Category: "food", Key: "diet", Value: "vegan", Confidence: 0.9},
		},
	}

	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "flies to lisbon in may")
	assert.Contains(t, summary, "diet: vegan")
}

func TestWelcomeBackExcludesActiveContext(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(context.Background(), Update{Topics: []string{"secret"}}))

	summary, err := m.GenerateWelcomeBackSummary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestStartStopFlushes(t *testing.T) {
	m, store, _ := newTestManager(t, Config{DecayInterval: time.Hour, AutoSaveInterval: time.Hour})
	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "second start rejected")

	_, err := m.StartContext(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, m.Stop())
	contexts, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, contexts, 1)
}
