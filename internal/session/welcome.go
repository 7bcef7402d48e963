package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// recencyTieWindow decides the welcome-back ordering: contexts further
// apart than this are ordered by time, closer ones by relevance.
const recencyTieWindow = 24 * time.Hour

// GenerateWelcomeBackSummary builds a short orientation blurb from the most
// relevant recent contexts: what was discussed, what is still open. Uses
// the completion collaborator when available, the deterministic template
// otherwise.
func (m *Manager) GenerateWelcomeBackSummary(ctx context.Context) (string, error) {
	m.mu.RLock()
	var candidates []*types.SessionContext
	for id, sc := range m.contexts {
		if id == m.activeID {
			continue
		}
		candidates = append(candidates, cloneContext(sc))
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return "", nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		gap := a.UpdatedAt.Sub(b.UpdatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > recencyTieWindow {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		return a.ID < b.ID
	})
	if len(candidates) > m.cfg.WelcomeSummaryMaxItems {
		candidates = candidates[:m.cfg.WelcomeSummaryMaxItems]
	}

	template := welcomeTemplate(candidates)
	if m.completer == nil {
		return template, nil
	}

	prompt := buildWelcomePrompt(candidates)
	summary, err := m.completer.Complete(ctx, prompt)
	if err != nil || summary == "" {
		if err != nil {
			log.Printf("session: welcome summary completion failed, using template: %v", err)
		}
		return template, nil
	}
	return summary, nil
}

func buildWelcomePrompt(contexts []*types.SessionContext) string {
	var sb strings.Builder
	sb.WriteString("Write a brief welcome-back note for a returning user based on their recent sessions. Mention ongoing topics, what was learned about the user, and anything left unresolved.\n\n")
	for i, sc := range contexts {
		fmt.Fprintf(&sb, "Session %d (%s):\n", i+1, sc.UpdatedAt.Format("2006-01-02"))
		if len(sc.Topics) > 0 {
			fmt.Fprintf(&sb, "  Topics: %s\n", strings.Join(sc.Topics, ", "))
		}
		if sc.Summary != "" {
			fmt.Fprintf(&sb, "  Summary: %s\n", sc.Summary)
		}
		if len(sc.KeyFacts) > 0 {
			fmt.Fprintf(&sb, "  Facts: %s\n", strings.Join(sc.KeyFacts, "; "))
		}
		for _, pref := range sc.Preferences {
			fmt.Fprintf(&sb, "  Preference: %s %s = %s\n", pref.Category, pref.Key, pref.Value)
		}
		for _, item := range sc.UnresolvedPending() {
			fmt.Fprintf(&sb, "  Open: %s\n", item.Description)
		}
	}
	return sb.String()
}

// welcomeTemplate is the deterministic fallback blurb.
func welcomeTemplate(contexts []*types.SessionContext) string {
	var topics []string
	var facts []string
	var prefs []string
	var open []string
	seen := make(map[string]bool)
	prefSeen := make(map[string]bool)
	for _, sc := range contexts {
		for _, t := range sc.Topics {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
		for _, f := range sc.KeyFacts {
			if !seen[f] {
				seen[f] = true
				facts = append(facts, f)
			}
		}
		for _, p := range sc.Preferences {
			key := p.Category + "|" + p.Key
			if !prefSeen[key] {
				prefSeen[key] = true
				prefs = append(prefs, fmt.Sprintf("%s: %s", p.Key, p.Value))
			}
		}
		for _, item := range sc.UnresolvedPending() {
			open = append(open, item.Description)
		}
	}

	var sb strings.Builder
	sb.WriteString("Welcome back.")
	if len(topics) > 0 {
		if len(topics) > 5 {
			topics = topics[:5]
		}
		fmt.Fprintf(&sb, " Recently we discussed %s.", strings.Join(topics, ", "))
	}
	if len(facts) > 0 {
		if len(facts) > 3 {
			facts = facts[:3]
		}
		fmt.Fprintf(&sb, " Worth remembering: %s.", strings.Join(facts, "; "))
	}
	if len(prefs) > 0 {
		if len(prefs) > 3 {
			prefs = prefs[:3]
		}
		fmt.Fprintf(&sb, " Noted preferences: %s.", strings.Join(prefs, "; "))
	}
	if len(open) > 0 {
		if len(open) > 3 {
			open = open[:3]
		}
		fmt.Fprintf(&sb, " Still open: %s.", strings.Join(open, "; "))
	}
	return sb.String()
}

// templateSummary is the deterministic closing summary used when no
// completion collaborator is available or it fails.
func templateSummary(sc *types.SessionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session covered %d exchange(s)", sc.ExchangeCount)
	if len(sc.Topics) > 0 {
		topics := sc.Topics
		if len(topics) > 5 {
			topics = topics[:5]
		}
		fmt.Fprintf(&sb, " on %s", strings.Join(topics, ", "))
	}
	sb.WriteString(".")
	if n := len(sc.UnresolvedPending()); n > 0 {
		fmt.Fprintf(&sb, " %d item(s) left unresolved.", n)
	}
	return sb.String()
}
