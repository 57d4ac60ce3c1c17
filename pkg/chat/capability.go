package chat

import "strings"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds []EventKind
	// Sources restricts delivery to events produced by matching drivers.
	// An empty ID acts as a platform wildcard.
	Sources []EventSource
	// CallbackPrefixes restricts callback events to payloads starting with
	// one of the prefixes.
	CallbackPrefixes []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !matchesSource(i.Sources, event.Source) {
		return false
	}
	if len(i.CallbackPrefixes) > 0 {
		if event.Callback == nil {
			return false
		}
		if !hasAnyPrefix(event.Callback.Data, i.CallbackPrefixes) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		for _, kind := range filter.Kinds {
			if !containsKind(i.Kinds, kind) {
				return false
			}
		}
		if len(filter.Kinds) == 0 {
			return false
		}
	}
	if len(i.CallbackPrefixes) > 0 {
		if len(filter.CallbackPrefixes) == 0 {
			return false
		}
		for _, prefix := range filter.CallbackPrefixes {
			if !hasAnyPrefix(prefix, i.CallbackPrefixes) {
				return false
			}
		}
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func matchesSource(sources []EventSource, source EventSource) bool {
	for _, candidate := range sources {
		if candidate.Platform != "" && candidate.Platform != source.Platform {
			continue
		}
		if candidate.ID != "" && candidate.ID != source.ID {
			continue
		}
		return true
	}

	return false
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}
