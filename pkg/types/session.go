package types

import "time"

// SessionContext holds cross-session continuity state for one assistant
// session: topics discussed, facts learned, user preferences, open items,
// and a relevance score that decays over time once the session has ended.
//
// Lifecycle: created on session start, mutated during the session,
// finalized on session end, decayed by a periodic tick, and archived once
// its relevance falls below a floor or its age exceeds a ceiling. The
// currently active context is exempt from decay and archival.
type SessionContext struct {
	ID                string        `json:"id"`
	SessionID         string        `json:"session_id"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	Topics            []string      `json:"topics,omitempty"`
	KeyFacts          []string      `json:"key_facts,omitempty"`
	Preferences       []Preference  `json:"preferences,omitempty"`
	PendingItems      []PendingItem `json:"pending_items,omitempty"`
	Summary           string        `json:"summary,omitempty"`
	Relevance         float64       `json:"relevance"`
	LastDecayedAt     time.Time     `json:"last_decayed_at"`
	ExchangeCount     int           `json:"exchange_count"`
	RelatedSessionIDs []string      `json:"related_session_ids,omitempty"`
}

// Ended reports whether the session this context belongs to has ended.
func (c *SessionContext) Ended() bool {
	return c.EndedAt != nil
}

// AgeDays returns the context age in days at the given instant.
func (c *SessionContext) AgeDays(now time.Time) float64 {
	return now.Sub(c.CreatedAt).Hours() / 24.0
}

// UnresolvedPending returns the pending items that have not been resolved.
func (c *SessionContext) UnresolvedPending() []PendingItem {
	var out []PendingItem
	for _, p := range c.PendingItems {
		if !p.Resolved {
			out = append(out, p)
		}
	}
	return out
}

// Preference is a learned user preference, deduplicated by (Category, Key).
// Re-observing a preference raises its confidence monotonically rather than
// overwriting it.
type Preference struct {
	Category          string    `json:"category"`
	Key               string    `json:"key"`
	Value             string    `json:"value"`
	Confidence        float64   `json:"confidence"`
	LastConfirmed     time.Time `json:"last_confirmed"`
	ConfirmationCount int       `json:"confirmation_count"`
}

// PendingItem is an open follow-up noted during a session. The only state
// transition is unresolved -> resolved; there is no way back.
type PendingItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
}
