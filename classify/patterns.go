package classify

import (
	"time"
)

// occurrence is one recorded classification for a subject.
type occurrence struct {
	Type ErrorType
	At   time.Time
}

// Pattern reports an error type recurring for a subject within a window.
type Pattern struct {
	Type       ErrorType
	Category   Category
	Count      int
	FirstSeen  time.Time
	LastSeen   time.Time
	Prevention []string
}

// preventionAdvice maps categories to proactive measures attached to
// detected patterns.
var preventionAdvice = map[Category][]string{
	CategoryAuthentication: {
		"refresh tokens proactively before they expire",
		"verify clock skew between client and authorization server",
	},
	CategoryPermission: {
		"request the needed permission level once instead of retrying the operation",
		"cache the granted level and gate operations client-side",
	},
	CategoryAvailability: {
		"spread request bursts with client-side throttling",
		"increase cache TTLs for frequently checked operations",
	},
	CategoryValidation: {
		"validate request parameters before submitting",
	},
	CategoryInternal: {
		"capture request identifiers and report them to the service owner",
	},
}

// record appends an occurrence to the subject's history, pruning records
// past the age bound and then the oldest records once the count bound is
// exceeded.
func (c *Classifier) record(subject string, t ErrorType) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[subject], occurrence{Type: t, At: now})
	if c.maxAge > 0 {
		cutoff := now.Add(-c.maxAge)
		kept := h[:0]
		for _, occ := range h {
			if occ.At.After(cutoff) {
				kept = append(kept, occ)
			}
		}
		h = kept
	}
	if len(h) > c.maxHistory {
		h = h[len(h)-c.maxHistory:]
	}
	c.history[subject] = h
}

// DetectPatterns reports every error type that recurred at least
// minFrequency times for the subject within the window ending now.
// Records older than the window are pruned from the history.
func (c *Classifier) DetectPatterns(subject string, window time.Duration, minFrequency int) []Pattern {
	if minFrequency < 1 {
		minFrequency = 1
	}
	now := c.clock.Now()
	cutoff := now.Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.history[subject]
	kept := h[:0]
	for _, occ := range h {
		if occ.At.After(cutoff) {
			kept = append(kept, occ)
		}
	}
	if len(kept) == 0 {
		delete(c.history, subject)
	} else {
		c.history[subject] = kept
	}

	byType := make(map[ErrorType][]occurrence)
	for _, occ := range kept {
		byType[occ.Type] = append(byType[occ.Type], occ)
	}

	var patterns []Pattern
	for t, occs := range byType {
		if len(occs) < minFrequency {
			continue
		}
		cl := c.Lookup(t)
		patterns = append(patterns, Pattern{
			Type:       t,
			Category:   cl.Category,
			Count:      len(occs),
			FirstSeen:  occs[0].At,
			LastSeen:   occs[len(occs)-1].At,
			Prevention: preventionAdvice[cl.Category],
		})
	}
	return patterns
}

// ResetHistory drops all recorded occurrences for a subject.
func (c *Classifier) ResetHistory(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, subject)
}
