package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Config controls decay, archival, linking and summaries.
type Config struct {
	// DecayRatePerDay is the daily geometric decay applied to ended
	// contexts (default: 0.1).
	DecayRatePerDay float64

	// MinRelevanceThreshold archives a context once relevance drops below
	// it (default: 0.2).
	MinRelevanceThreshold float64

	// MaxContextAgeDays archives a context once it is older than this
	// (default: 90).
	MaxContextAgeDays float64

	// TopicOverlapThreshold links two contexts when their topic overlap
	// exceeds it (default: 0.3).
	TopicOverlapThreshold float64

	// MaxRelatedSessions caps the related-session list per context;
	// oldest links are evicted first (default: 5).
	MaxRelatedSessions int

	// WelcomeSummaryMaxItems caps how many past contexts feed the welcome
	// back summary (default: 3).
	WelcomeSummaryMaxItems int

	// AutoSaveInterval is the period of the save tick (default: 30s).
	AutoSaveInterval time.Duration

	// DecayInterval is the period of the decay tick (default: 1h).
	DecayInterval time.Duration
}

// DefaultConfig returns the standard session manager configuration.
func DefaultConfig() Config {
	return Config{
		DecayRatePerDay:        0.1,
		MinRelevanceThreshold:  0.2,
		MaxContextAgeDays:      90,
		TopicOverlapThreshold:  0.3,
		MaxRelatedSessions:     5,
		WelcomeSummaryMaxItems: 3,
		AutoSaveInterval:       30 * time.Second,
		DecayInterval:          time.Hour,
	}
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.DecayRatePerDay < 0 || c.DecayRatePerDay >= 1 {
		return fmt.Errorf("session: DecayRatePerDay must be in [0, 1), got %v", c.DecayRatePerDay)
	}
	if c.MinRelevanceThreshold < 0 || c.MinRelevanceThreshold > 1 {
		return fmt.Errorf("session: MinRelevanceThreshold must be in [0, 1], got %v", c.MinRelevanceThreshold)
	}
	if c.MaxRelatedSessions < 1 {
		return fmt.Errorf("session: MaxRelatedSessions must be at least 1, got %d", c.MaxRelatedSessions)
	}
	return nil
}

// Update carries session material accreted during an exchange.
type Update struct {
	Topics      []string
	KeyFacts    []string
	Preferences []types.Preference

	// Exchanges is how many user/assistant exchanges this update covers.
	Exchanges int
}

// Manager owns all SessionContext records. It is the single writer; the
// store only persists what the manager hands it.
type Manager struct {
	cfg       Config
	store     ContextStore
	completer llm.Completer // nil means the collaborator is absent
	extractor *extract.Extractor

	mu             sync.RWMutex
	contexts       map[string]*types.SessionContext
	activeID       string
	dirty          map[string]bool
	pendingDeletes []string

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewManager creates a Manager and loads existing contexts from the store.
func NewManager(cfg Config, store ContextStore, completer llm.Completer, extractor *extract.Extractor) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session: context store is required")
	}
	d := DefaultConfig()
	if cfg.DecayRatePerDay == 0 {
		cfg.DecayRatePerDay = d.DecayRatePerDay
	}
	if cfg.MinRelevanceThreshold == 0 {
		cfg.MinRelevanceThreshold = d.MinRelevanceThreshold
	}
	if cfg.MaxContextAgeDays == 0 {
		cfg.MaxContextAgeDays = d.MaxContextAgeDays
	}
	if cfg.TopicOverlapThreshold == 0 {
		cfg.TopicOverlapThreshold = d.TopicOverlapThreshold
	}
	if cfg.MaxRelatedSessions == 0 {
		cfg.MaxRelatedSessions = d.MaxRelatedSessions
	}
	if cfg.WelcomeSummaryMaxItems == 0 {
		cfg.WelcomeSummaryMaxItems = d.WelcomeSummaryMaxItems
	}
	if cfg.AutoSaveInterval == 0 {
		cfg.AutoSaveInterval = d.AutoSaveInterval
	}
	if cfg.DecayInterval == 0 {
		cfg.DecayInterval = d.DecayInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = extract.NewExtractor(0)
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		completer: completer,
		extractor: extractor,
		contexts:  make(map[string]*types.SessionContext),
		dirty:     make(map[string]bool),
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	loaded, err := store.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("session: load contexts: %w", err)
	}
	for _, sc := range loaded {
		m.contexts[sc.ID] = sc
	}
	return m, nil
}

// Start launches the decay and auto-save tickers. The two ticks are
// independent: a decay change only reaches disk on the next save tick,
// which is an accepted bounded loss window if the process dies in between.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("session: manager already started")
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run()
	log.Printf("session: manager started (decay=%v, autosave=%v)", m.cfg.DecayInterval, m.cfg.AutoSaveInterval)
	return nil
}

func (m *Manager) run() {
	defer close(m.doneCh)
	decayTicker := time.NewTicker(m.cfg.DecayInterval)
	saveTicker := time.NewTicker(m.cfg.AutoSaveInterval)
	defer decayTicker.Stop()
	defer saveTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-decayTicker.C:
			m.DecayTick(m.now())
		case <-saveTicker.C:
			if err := m.SaveDirty(context.Background()); err != nil {
				log.Printf("session: auto-save failed: %v", err)
			}
		}
	}
}

// Stop halts the tickers and flushes unsaved state.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("session: manager not started")
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh
	return m.SaveDirty(context.Background())
}

// StartContext begins a new active context for sessionID. A previously
// active context is ended first (without a generated summary).
func (m *Manager) StartContext(ctx context.Context, sessionID string) (*types.SessionContext, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session: session ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.activeID != "" {
		if prev, ok := m.contexts[m.activeID]; ok && prev.EndedAt == nil {
			ended := now
			prev.EndedAt = &ended
			prev.Summary = templateSummary(prev)
			prev.UpdatedAt = now
			m.dirty[prev.ID] = true
		}
	}

	sc := &types.SessionContext{
		ID:        ulid.MustNew(ulid.Timestamp(now), m.entropy).String(),
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		Relevance: 1.0,
	}
	m.contexts[sc.ID] = sc
	m.activeID = sc.ID
	m.dirty[sc.ID] = true
	return cloneContext(sc), nil
}

// ActiveContext returns the current active context, or nil if none.
func (m *Manager) ActiveContext() *types.SessionContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.contexts[m.activeID]
	if !ok {
		return nil
	}
	return cloneContext(sc)
}

// Get returns the context with the given ID.
func (m *Manager) Get(id string) (*types.SessionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContext(sc), nil
}

// UpdateContext accretes topics, facts and preferences onto the active
// context, and links it to other contexts whose topics overlap enough.
func (m *Manager) UpdateContext(ctx context.Context, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.contexts[m.activeID]
	if !ok {
		return fmt.Errorf("session: no active context")
	}

	now := m.now()
	sc.Topics = appendUnique(sc.Topics, update.Topics)
	sc.KeyFacts = appendUnique(sc.KeyFacts, update.KeyFacts)
	for _, pref := range update.Preferences {
		mergePreference(sc, pref, now)
	}
	if update.Exchanges > 0 {
		sc.ExchangeCount += update.Exchanges
	}
	sc.UpdatedAt = now
	m.dirty[sc.ID] = true

	if len(update.Topics) > 0 {
		m.linkRelatedLocked(sc)
	}
	return nil
}

// AddPendingItem records an open follow-up on the active context.
func (m *Manager) AddPendingItem(ctx context.Context, description string) (*types.PendingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.contexts[m.activeID]
	if !ok {
		return nil, fmt.Errorf("session: no active context")
	}

	item := types.PendingItem{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   m.now(),
	}
	sc.PendingItems = append(sc.PendingItems, item)
	sc.UpdatedAt = item.CreatedAt
	m.dirty[sc.ID] = true
	return &item, nil
}

// ResolvePendingItem marks a pending item resolved. Resolution is one-way;
// resolving an already-resolved item is a no-op.
func (m *Manager) ResolvePendingItem(ctx context.Context, itemID, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sc := range m.contexts {
		for i := range sc.PendingItems {
			if sc.PendingItems[i].ID != itemID {
				continue
			}
			if sc.PendingItems[i].Resolved {
				return nil
			}
			now := m.now()
			sc.PendingItems[i].Resolved = true
			sc.PendingItems[i].ResolvedAt = &now
			sc.PendingItems[i].Resolution = resolution
			sc.UpdatedAt = now
			m.dirty[sc.ID] = true
			return nil
		}
	}
	return fmt.Errorf("session: pending item %s not found", itemID)
}

// EndContext ends the active context: stamps EndedAt, generates a closing
// summary (completion collaborator with template fallback) and deactivates.
func (m *Manager) EndContext(ctx context.Context) error {
	m.mu.Lock()
	sc, ok := m.contexts[m.activeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session: no active context")
	}
	snapshot := cloneContext(sc)
	m.mu.Unlock()

	summary := m.generateClosingSummary(ctx, snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok = m.contexts[snapshot.ID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	sc.EndedAt = &now
	sc.Summary = summary
	sc.UpdatedAt = now
	m.dirty[sc.ID] = true
	if m.activeID == sc.ID {
		m.activeID = ""
	}
	return nil
}

// generateClosingSummary asks the completion collaborator for a closing
// summary and falls back to the deterministic template on any failure.
func (m *Manager) generateClosingSummary(ctx context.Context, sc *types.SessionContext) string {
	if m.completer == nil {
		return templateSummary(sc)
	}
	prompt := fmt.Sprintf(
		"Summarize this assistant session in two sentences.\nTopics: %v\nKey facts: %v\nExchanges: %d\n",
		sc.Topics, sc.KeyFacts, sc.ExchangeCount,
	)
	summary, err := m.completer.Complete(ctx, prompt)
	if err != nil || summary == "" {
		if err != nil {
			log.Printf("session: closing summary completion failed, using template: %v", err)
		}
		return templateSummary(sc)
	}
	return summary
}

// DecayTick applies geometric decay to every non-active context and
// archives those below the relevance floor or past the age ceiling. The
// active context is exempt from both. Each context carries its own
// last-decayed watermark, so decay never recounts days that were already
// applied, even across a restart. State changes are marked dirty and
// persisted by the next save tick.
func (m *Manager) DecayTick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sc := range m.contexts {
		if id == m.activeID {
			continue
		}

		ref := sc.UpdatedAt
		if sc.LastDecayedAt.After(ref) {
			ref = sc.LastDecayedAt
		}
		days := now.Sub(ref).Hours() / 24.0
		if days > 0 {
			sc.Relevance *= math.Pow(1-m.cfg.DecayRatePerDay, days)
			if sc.Relevance < 0 {
				sc.Relevance = 0
			}
			sc.LastDecayedAt = now
			m.dirty[id] = true
		}

		if sc.Relevance < m.cfg.MinRelevanceThreshold || sc.AgeDays(now) > m.cfg.MaxContextAgeDays {
			delete(m.contexts, id)
			delete(m.dirty, id)
			m.pendingDeletes = append(m.pendingDeletes, id)
		}
	}
}

// SaveDirty persists every dirty context and applies pending archivals.
func (m *Manager) SaveDirty(ctx context.Context) error {
	m.mu.Lock()
	var toSave []*types.SessionContext
	for id := range m.dirty {
		if sc, ok := m.contexts[id]; ok {
			toSave = append(toSave, cloneContext(sc))
		}
	}
	toDelete := m.pendingDeletes
	m.dirty = make(map[string]bool)
	m.pendingDeletes = nil
	m.mu.Unlock()

	for _, sc := range toSave {
		if err := m.store.Put(ctx, sc); err != nil {
			return fmt.Errorf("session: save context %s: %w", sc.ID, err)
		}
	}
	for _, id := range toDelete {
		if err := m.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("session: delete context %s: %w", id, err)
		}
	}
	return nil
}

// linkRelatedLocked creates bidirectional links between sc and any other
// context whose topic overlap exceeds the threshold. Lists are capped;
// the oldest link is evicted first. Caller holds m.mu.
func (m *Manager) linkRelatedLocked(sc *types.SessionContext) {
	for id, other := range m.contexts {
		if id == sc.ID {
			continue
		}
		if extract.TopicOverlap(sc.Topics, other.Topics) <= m.cfg.TopicOverlapThreshold {
			continue
		}
		if addLink(sc, other.SessionID, m.cfg.MaxRelatedSessions) {
			m.dirty[sc.ID] = true
		}
		if addLink(other, sc.SessionID, m.cfg.MaxRelatedSessions) {
			m.dirty[other.ID] = true
		}
	}
}

// addLink appends sessionID to sc's related list unless already present,
// evicting the oldest entry when the cap is reached. Reports whether sc
// changed.
func addLink(sc *types.SessionContext, sessionID string, max int) bool {
	if sessionID == "" || sessionID == sc.SessionID {
		return false
	}
	for _, existing := range sc.RelatedSessionIDs {
		if existing == sessionID {
			return false
		}
	}
	sc.RelatedSessionIDs = append(sc.RelatedSessionIDs, sessionID)
	if len(sc.RelatedSessionIDs) > max {
		sc.RelatedSessionIDs = sc.RelatedSessionIDs[len(sc.RelatedSessionIDs)-max:]
	}
	return true
}

// mergePreference merges pref into sc, deduplicating by (category, key).
// Re-observation bumps confidence monotonically, bounded at 1.0.
func mergePreference(sc *types.SessionContext, pref types.Preference, now time.Time) {
	for i := range sc.Preferences {
		existing := &sc.Preferences[i]
		if existing.Category != pref.Category || existing.Key != pref.Key {
			continue
		}
		conf := existing.Confidence
		if pref.Confidence > conf {
			conf = pref.Confidence
		}
		conf += 0.1
		if conf > 1.0 {
			conf = 1.0
		}
		existing.Confidence = conf
		existing.Value = pref.Value
		existing.LastConfirmed = now
		existing.ConfirmationCount++
		return
	}

	if pref.Confidence <= 0 {
		pref.Confidence = 0.5
	}
	pref.LastConfirmed = now
	if pref.ConfirmationCount == 0 {
		pref.ConfirmationCount = 1
	}
	sc.Preferences = append(sc.Preferences, pref)
}

// RetrieveOptions filters RetrieveRelevantContext.
type RetrieveOptions struct {
	// From and To bound UpdatedAt; zero values mean unbounded.
	From time.Time
	To   time.Time

	// MinRelevance is the floor on stored relevance.
	MinRelevance float64

	// SessionIDs restricts to these sessions when non-empty.
	SessionIDs []string

	// CurrentTopics, when supplied, rescale each candidate's relevance by
	// 0.5 + 0.5*overlap at read time. Stored relevance is not mutated.
	CurrentTopics []string

	// Limit caps the result count (default: 5).
	Limit int
}

// ScoredContext pairs a context snapshot with its read-time score.
type ScoredContext struct {
	Context *types.SessionContext
	Score   float64
}

// RetrieveRelevantContext returns past contexts matching the filters,
// ranked by (topic-rescaled) relevance.
func (m *Manager) RetrieveRelevantContext(opts RetrieveOptions) []ScoredContext {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ScoredContext
	for _, sc := range m.contexts {
		if !opts.From.IsZero() && sc.UpdatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && sc.UpdatedAt.After(opts.To) {
			continue
		}
		if sc.Relevance < opts.MinRelevance {
			continue
		}
		if len(opts.SessionIDs) > 0 && !containsString(opts.SessionIDs, sc.SessionID) {
			continue
		}

		score := sc.Relevance
		if len(opts.CurrentTopics) > 0 {
			overlap := extract.TopicOverlap(opts.CurrentTopics, sc.Topics)
			score = sc.Relevance * (0.5 + 0.5*overlap)
		}
		results = append(results, ScoredContext{Context: cloneContext(sc), Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Context.ID < results[j].Context.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func appendUnique(dst []string, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if s != "" && !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
