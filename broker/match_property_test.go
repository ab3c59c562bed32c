package broker

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func segmentGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{0,5}`)
}

func topicGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		n := rapid.IntRange(1, 5).Draw(t, "segments")
		parts := make([]string, n)
		for i := range parts {
			parts[i] = segmentGen().Draw(t, "segment")
		}
		return strings.Join(parts, "/")
	})
}

// A topic always matches itself, and a literal pattern matches nothing
// else.
func TestMatchExactIsReflexive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topic := topicGen().Draw(t, "topic")
		if !Matches(topic, topic) {
			t.Fatalf("topic %q does not match itself", topic)
		}
		other := topicGen().Draw(t, "other")
		if other != topic && Matches(topic, other) {
			t.Fatalf("literal pattern %q matched %q", topic, other)
		}
	})
}

// Replacing any single segment of a topic with '+' still matches it.
func TestMatchPlusCoversAnySegment(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topic := topicGen().Draw(t, "topic")
		parts := strings.Split(topic, "/")
		i := rapid.IntRange(0, len(parts)-1).Draw(t, "pos")
		patternParts := append([]string(nil), parts...)
		patternParts[i] = "+"
		pattern := strings.Join(patternParts, "/")
		if !Matches(pattern, topic) {
			t.Fatalf("pattern %q should match %q", pattern, topic)
		}
	})
}

// Truncating a topic at any depth and appending '#' matches the original
// topic; '#' anywhere except the final segment never matches.
func TestMatchHashCoversTails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topic := topicGen().Draw(t, "topic")
		parts := strings.Split(topic, "/")
		depth := rapid.IntRange(0, len(parts)-1).Draw(t, "depth")

		pattern := strings.Join(append(append([]string(nil), parts[:depth]...), "#"), "/")
		if !Matches(pattern, topic) {
			t.Fatalf("pattern %q should match %q", pattern, topic)
		}

		if depth < len(parts)-1 {
			inner := append([]string(nil), parts...)
			inner[depth] = "#"
			innerPattern := strings.Join(inner, "/")
			if Matches(innerPattern, topic) && innerPattern != topic {
				t.Fatalf("non-terminal '#' in %q must not match %q", innerPattern, topic)
			}
		}
	})
}
