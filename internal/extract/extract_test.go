package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportanceBounds(t *testing.T) {
	inputs := []string{
		"",
		"ok",
		"remember this: my doctor appointment is critical and urgent, never forget it!",
		"I always prefer my coffee black, that's important to me",
		strings.Repeat("this is a very long message about work and meetings ", 20),
		"what time is the flight to the airport tomorrow?",
		"remember remember remember important important critical urgent always never",
	}
	for _, text := range inputs {
		score := Importance(text)
		assert.GreaterOrEqual(t, score, 0.0, "input %q", text)
		assert.LessOrEqual(t, score, 1.0, "input %q", text)
	}
}

func TestImportanceKeywordsRaiseScore(t *testing.T) {
	plain := Importance("the sky looked nice today")
	marked := Importance("remember this, it is important and urgent")
	assert.Greater(t, marked, plain)
}

func TestTopics(t *testing.T) {
	topics := Topics("my doctor appointment conflicts with the team meeting at the office")
	assert.Contains(t, topics, "health")
	assert.Contains(t, topics, "work")

	assert.Empty(t, Topics("xyzzy plugh"))
}

func TestTopicOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 1.0},
		{"one empty", []string{"work"}, nil, 0.0},
		{"identical", []string{"work", "health"}, []string{"work", "health"}, 1.0},
		{"disjoint", []string{"work"}, []string{"travel"}, 0.0},
		{"partial", []string{"work", "health"}, []string{"work", "travel"}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TopicOverlap(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMatchedTopics(t *testing.T) {
	matched := MatchedTopics([]string{"work", "health", "travel"}, []string{"health", "work"})
	assert.ElementsMatch(t, []string{"work", "health"}, matched)
}

func TestExtractorCacheConsistency(t *testing.T) {
	e := NewExtractor(8)
	text := "remember my doctor appointment next week"

	require.Equal(t, Topics(text), e.Topics(text))
	require.Equal(t, Importance(text), e.Importance(text))

	// Second call is served from cache and must not change the answer.
	assert.Equal(t, Topics(text), e.Topics(text))
	assert.Equal(t, Importance(text), e.Importance(text))
}
