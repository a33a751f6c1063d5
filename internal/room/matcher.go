// internal/room/matcher.go
package room

// matcher tracks like counts per media id and decides, incrementally,
// when a group agreement has been reached. It never reprocesses rating
// history: each like adjusts one counter.
//
// A media id produces at most one match. The users list returned for a
// match is frozen at match time; likes arriving afterwards neither
// re-emit the match nor amend the original record.
type matcher struct {
	threshold int
	likes     map[string][]string // media id -> users who currently like it, in like order
	matched   map[string]bool
}

func newMatcher(threshold int) *matcher {
	if threshold < 2 {
		threshold = 2
	}
	return &matcher{
		threshold: threshold,
		likes:     make(map[string][]string),
		matched:   make(map[string]bool),
	}
}

// like registers a like and reports whether it completes a new match.
// Re-liking an already-liked item is a no-op.
func (m *matcher) like(user, mediaID string) (users []string, matched bool) {
	for _, u := range m.likes[mediaID] {
		if u == user {
			return nil, false
		}
	}
	m.likes[mediaID] = append(m.likes[mediaID], user)

	if m.matched[mediaID] || len(m.likes[mediaID]) < m.threshold {
		return nil, false
	}

	m.matched[mediaID] = true
	users = make([]string, len(m.likes[mediaID]))
	copy(users, m.likes[mediaID])
	return users, true
}

// unlike withdraws a user's like, removing the item from match
// eligibility for them. A match already emitted stays emitted.
func (m *matcher) unlike(user, mediaID string) {
	likes := m.likes[mediaID]
	for i, u := range likes {
		if u == user {
			m.likes[mediaID] = append(likes[:i], likes[i+1:]...)
			return
		}
	}
}
