// Package extract provides the pure scoring primitives shared by the rest
// of the system: keyword-based topic tagging, a heuristic importance score
// for arbitrary text, and Jaccard topic overlap.
//
// Everything here is deterministic and side-effect free.
package extract

import "strings"

// topicKeywords maps a topic category to the keyword list that triggers it.
// Matching is case-insensitive substring matching against the input text.
var topicKeywords = map[string][]string{
	"work":          {"work", "job", "office", "meeting", "project", "deadline", "boss", "colleague", "client"},
	"family":        {"family", "mom", "dad", "mother", "father", "sister", "brother", "kids", "children", "wife", "husband"},
	"health":        {"health", "doctor", "exercise", "workout", "sleep", "diet", "medication", "appointment", "gym"},
	"travel":        {"travel", "trip", "flight", "hotel", "vacation", "airport", "visit", "destination"},
	"food":          {"food", "dinner", "lunch", "breakfast", "restaurant", "recipe", "cook", "eat", "meal"},
	"technology":    {"computer", "software", "app", "phone", "code", "program", "website", "internet", "tech"},
	"finance":       {"money", "budget", "payment", "bank", "invest", "salary", "expense", "bill", "tax"},
	"entertainment": {"movie", "music", "game", "show", "book", "read", "watch", "play", "concert"},
	"education":     {"learn", "study", "course", "class", "school", "university", "exam", "lecture"},
	"home":          {"home", "house", "apartment", "garden", "repair", "furniture", "clean", "rent"},
	"weather":       {"weather", "rain", "snow", "sunny", "temperature", "forecast", "storm"},
	"schedule":      {"schedule", "calendar", "remind", "tomorrow", "tonight", "weekend", "appointment", "plan"},
}

// importanceKeywords boost the importance score regardless of topic.
// The boost contribution is capped so keyword stuffing cannot dominate.
var importanceKeywords = []string{
	"important", "critical", "urgent", "remember", "must", "never", "always",
	"deadline", "birthday", "anniversary", "emergency", "password", "allergic",
	"favorite", "hate", "love", "prefer",
}

const (
	baseImportance       = 0.3
	keywordBoost         = 0.1
	maxKeywordBoost      = 0.3
	questionBonus        = 0.05
	mediumLengthWords    = 10
	longLengthWords      = 30
	mediumLengthBonus    = 0.05
	longLengthBonus      = 0.05
)

// Topics returns the set of topic categories matched by text, in a stable
// order. An empty slice means no category keyword matched.
func Topics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, category := range topicCategories {
		for _, kw := range topicKeywords[category] {
			if strings.Contains(lower, kw) {
				topics = append(topics, category)
				break
			}
		}
	}
	return topics
}

// topicCategories is the fixed iteration order for Topics. Map iteration
// order is randomized in Go; scoring must stay deterministic.
var topicCategories = []string{
	"work", "family", "health", "travel", "food", "technology",
	"finance", "entertainment", "education", "home", "weather", "schedule",
}

// Importance computes a heuristic importance score for text in [0.0, 1.0].
//
// The score is additive: a base score, a capped boost per matched
// importance keyword, a small bonus when the text asks a question, and
// small bonuses when the word count crosses two length thresholds.
func Importance(text string) float64 {
	lower := strings.ToLower(text)
	score := baseImportance

	boost := 0.0
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			boost += keywordBoost
		}
	}
	if boost > maxKeywordBoost {
		boost = maxKeywordBoost
	}
	score += boost

	if strings.Contains(text, "?") {
		score += questionBonus
	}

	words := len(strings.Fields(text))
	if words > mediumLengthWords {
		score += mediumLengthBonus
	}
	if words > longLengthWords {
		score += longLengthBonus
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// TopicOverlap returns the Jaccard index of two topic sets: the size of
// the intersection divided by the size of the union. Two empty sets are
// defined as fully overlapping (1.0); exactly one empty set is 0.0.
func TopicOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}

	union := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		union[t] = true
	}
	intersection := 0
	for _, t := range b {
		if set[t] {
			intersection++
		}
		union[t] = true
	}

	return float64(intersection) / float64(len(union))
}

// MatchedTopics returns the intersection of two topic sets, preserving the
// order of a.
func MatchedTopics(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	var out []string
	for _, t := range a {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}
