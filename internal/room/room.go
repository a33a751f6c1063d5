// internal/room/room.go
package room

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/media"
	"github.com/cinematch/cinematch/internal/protocol"
)

// Member is the room's handle to one connected session. Send must not
// block; a slow or disconnected member drops events, it never stalls the
// room.
type Member interface {
	User() protocol.User
	Send(ev protocol.Event)
}

// Room is the shared state machine for one named group: membership,
// ratings, match detection, and progress. All operations serialize on the
// room's mutex, so two concurrent rates can never both win the same
// match. Different rooms share nothing.
type Room struct {
	Name string
	Sort protocol.RoomSort

	// PasswordHash is the argon2id hash of the room password, empty when
	// the room is open.
	PasswordHash string

	// OnEmpty is invoked (outside the room lock) when the last member
	// leaves. The registry uses it to drop the room.
	OnEmpty func(name string)

	endOnFirstMatch bool
	logger          *logrus.Logger

	mu        sync.Mutex
	media     []media.Media
	mediaByID map[string]media.Media
	members   map[string]Member
	ratings   map[string]map[string]protocol.Rating
	matches   []media.Match
	matcher   *matcher
	ended     bool
	removed   bool
}

// New assembles a room around an already-resolved candidate media set.
// Media resolution happens in the registry, outside any room lock.
func New(name string, sortOrder protocol.RoomSort, options []protocol.RoomOption, threshold int, candidates []media.Media, logger *logrus.Logger) *Room {
	if sortOrder == "" {
		sortOrder = protocol.SortRandom
	}

	byID := make(map[string]media.Media, len(candidates))
	deduped := make([]media.Media, 0, len(candidates))
	for _, m := range candidates {
		if _, ok := byID[m.ID]; ok {
			continue
		}
		byID[m.ID] = m
		deduped = append(deduped, m)
	}

	endOnFirstMatch := false
	for _, opt := range options {
		if opt == protocol.RoomOptionEndOnFirstMatch {
			endOnFirstMatch = true
		}
	}

	return &Room{
		Name:            name,
		Sort:            sortOrder,
		endOnFirstMatch: endOnFirstMatch,
		logger:          logger,
		media:           deduped,
		mediaByID:       byID,
		members:         make(map[string]Member),
		ratings:         make(map[string]map[string]protocol.Rating),
		matcher:         newMatcher(threshold),
	}
}

// Snapshot is the catch-up state handed to a joining member.
type Snapshot struct {
	PreviousMatches []media.Match
	Media           []media.Media
	Users           []protocol.RoomUser
}

// Join registers a member under their display name and returns their
// snapshot. Fails with ErrUserAlreadyJoined when the name is taken by an
// active session and with ErrRoomNotFound when the registry retired the
// room between lookup and join. Other members are notified.
func (r *Room) Join(m Member) (Snapshot, error) {
	user := m.User()

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return Snapshot{}, ErrRoomNotFound
	}
	if _, taken := r.members[user.UserName]; taken {
		r.mu.Unlock()
		return Snapshot{}, ErrUserAlreadyJoined
	}
	r.members[user.UserName] = m

	snap := Snapshot{
		PreviousMatches: r.matchesLocked(user.UserName, false),
		Media:           r.mediaForUserLocked(user.UserName),
		Users:           r.usersLocked(),
	}
	joined := protocol.UserJoinedRoom{User: user, Progress: r.progressLocked(user.UserName)}

	r.broadcastLocked(joined, user.UserName)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"room": r.Name, "user": user.UserName}).Info("user joined room")
	return snap, nil
}

// Leave removes a member and notifies the rest. Ratings are kept so the
// same name can rejoin without losing progress while the room lives.
func (r *Room) Leave(userName string) error {
	r.mu.Lock()
	m, ok := r.members[userName]
	if !ok {
		r.mu.Unlock()
		return ErrNotJoined
	}
	delete(r.members, userName)

	r.broadcastLocked(protocol.UserLeftRoom(m.User()), userName)
	empty := len(r.members) == 0
	onEmpty := r.OnEmpty
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"room": r.Name, "user": userName}).Info("user left room")

	if empty && onEmpty != nil {
		onEmpty(r.Name)
	}
	return nil
}

// Rate records a like or dislike. Rating requires active membership;
// anything else is logged and dropped without touching room state. A
// repeat rating for the same item overwrites the earlier one. Effects
// surface as userProgress and match broadcasts, never a direct reply.
func (r *Room) Rate(userName, mediaID string, rating protocol.Rating, ts int64) {
	r.mu.Lock()

	m, ok := r.members[userName]
	if !ok {
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{"room": r.Name, "user": userName}).Warn("rate from non-member dropped")
		return
	}
	item, known := r.mediaByID[mediaID]
	if !known {
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{"room": r.Name, "user": userName, "media": mediaID}).Warn("rate for unknown media dropped")
		return
	}

	if r.ratings[userName] == nil {
		r.ratings[userName] = make(map[string]protocol.Rating)
	}
	previous, rated := r.ratings[userName][mediaID]
	r.ratings[userName][mediaID] = rating

	if rated && previous == protocol.RatingLike && rating == protocol.RatingDislike {
		r.matcher.unlike(userName, mediaID)
	}

	var matchedUsers []string
	matched := false
	if rating == protocol.RatingLike {
		matchedUsers, matched = r.matcher.like(userName, mediaID)
	}

	progress := protocol.UserProgress{User: m.User(), Progress: r.progressLocked(userName)}
	r.broadcastLocked(progress, "")

	if matched {
		match := media.Match{MatchedAt: ts, Media: item, Users: matchedUsers}
		r.matches = append(r.matches, match)
		r.broadcastLocked(protocol.MatchEvent(match), "")

		if r.endOnFirstMatch && !r.ended {
			r.ended = true
			// Remaining media dries up rather than disconnecting anyone.
			r.broadcastLocked(protocol.MediaEvent{}, "")
		}
		r.logger.WithFields(logrus.Fields{"room": r.Name, "media": item.Title, "users": matchedUsers}).Info("match")
	}
	r.mu.Unlock()
}

// MediaForUser returns the candidate media the user has not rated yet,
// in the room's sort order. Empty once an EndOnFirstMatch room has
// matched.
func (r *Room) MediaForUser(userName string) []media.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mediaForUserLocked(userName)
}

// Matches returns either the matches involving userName or, with
// includeAll, every match in the room.
func (r *Room) Matches(userName string, includeAll bool) []media.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchesLocked(userName, includeAll)
}

// Users lists current members with their progress.
func (r *Room) Users() []protocol.RoomUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked()
}

// retire marks a still-empty room as removed, atomically with the
// emptiness check, so a Join through a stale registry lookup cannot
// revive it. Reports whether the room was retired.
func (r *Room) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.removed = true
	return true
}

// MemberCount reports the number of active members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// HasMember reports whether a display name is currently joined.
func (r *Room) HasMember(userName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[userName]
	return ok
}

func (r *Room) mediaForUserLocked(userName string) []media.Media {
	if r.ended {
		return []media.Media{}
	}

	// Order the full candidate list first, then drop rated items, so the
	// relative order of what remains does not shift as ratings accumulate.
	ordered := make([]media.Media, len(r.media))
	copy(ordered, r.media)

	switch r.Sort {
	case protocol.SortRating:
		// Descending provider score, provider order for ties.
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Rating > ordered[j].Rating
		})
	default:
		// A per-user shuffle seeded by user+room, so the order is stable
		// across repeated calls within the room's lifetime.
		rng := rand.New(rand.NewSource(shuffleSeed(userName, r.Name)))
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	rated := r.ratings[userName]
	remaining := make([]media.Media, 0, len(ordered))
	for _, m := range ordered {
		if _, ok := rated[m.ID]; ok {
			continue
		}
		remaining = append(remaining, m)
	}
	return remaining
}

func (r *Room) matchesLocked(userName string, includeAll bool) []media.Match {
	out := make([]media.Match, 0, len(r.matches))
	for _, match := range r.matches {
		if includeAll {
			out = append(out, match)
			continue
		}
		for _, u := range match.Users {
			if u == userName {
				out = append(out, match)
				break
			}
		}
	}
	return out
}

func (r *Room) usersLocked() []protocol.RoomUser {
	users := make([]protocol.RoomUser, 0, len(r.members))
	for name, m := range r.members {
		users = append(users, protocol.RoomUser{User: m.User(), Progress: r.progressLocked(name)})
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].User.UserName < users[j].User.UserName
	})
	return users
}

// progressLocked is |ratings[user]| / |media|, clamped to [0,1].
func (r *Room) progressLocked(userName string) float64 {
	if len(r.media) == 0 {
		return 0
	}
	p := float64(len(r.ratings[userName])) / float64(len(r.media))
	if p > 1 {
		p = 1
	}
	return p
}

// broadcastLocked queues ev on every member except skipUser. Sends are
// non-blocking; delivery failure is the transport's concern.
func (r *Room) broadcastLocked(ev protocol.Event, skipUser string) {
	for name, m := range r.members {
		if name == skipUser {
			continue
		}
		m.Send(ev)
	}
}

func shuffleSeed(userName, roomName string) int64 {
	h := fnv.New64a()
	h.Write([]byte(userName))
	h.Write([]byte{0})
	h.Write([]byte(roomName))
	return int64(h.Sum64())
}
