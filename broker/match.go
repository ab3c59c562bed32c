package broker

import "strings"

// Matches reports whether a published topic matches a subscribed pattern.
// Exact equality always matches. Otherwise the pattern is walked segment by
// segment: '+' consumes exactly one published segment, '#' matches the
// remaining tail (of any length, including zero) and is only valid as the
// final segment, and a literal segment must be equal.
func Matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !IsWildcard(pattern) {
		return false
	}

	patParts := strings.Split(pattern, "/")
	topParts := strings.Split(topic, "/")

	i := 0
	for i < len(patParts) && i < len(topParts) {
		p := patParts[i]
		if p == "#" {
			return i == len(patParts)-1
		}
		if p != "+" && p != topParts[i] {
			return false
		}
		i++
	}

	if i == len(patParts) && i == len(topParts) {
		return true
	}
	// Pattern may have one trailing '#' beyond the published topic.
	if i == len(topParts) && len(patParts) == i+1 && patParts[i] == "#" {
		return true
	}
	return false
}

// IsWildcard reports whether a topic string contains the wildcards '+' or '#'.
func IsWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}
