// internal/room/registry_test.go
package room

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/media"
	"github.com/cinematch/cinematch/internal/protocol"
	"github.com/cinematch/cinematch/internal/provider"
)

// stubProvider serves a fixed media set.
type stubProvider struct {
	name  string
	items []media.Media
	err   error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) IsAvailable(context.Context) bool { return true }

func (p *stubProvider) GetFilters(context.Context) (media.Filters, error) {
	return media.Filters{}, nil
}

func (p *stubProvider) GetFilterValues(context.Context, string) ([]media.FilterValue, error) {
	return nil, nil
}

func (p *stubProvider) GetMedia(context.Context, []media.Filter) ([]media.Media, error) {
	return p.items, p.err
}

func (p *stubProvider) Login(context.Context, string, string) (provider.UserIdentity, error) {
	return provider.UserIdentity{}, provider.ErrInvalidLogin
}

func (p *stubProvider) GetArtwork(context.Context, string, int) (io.ReadCloser, http.Header, error) {
	return nil, nil, nil
}

func (p *stubProvider) GetCanonicalURL(context.Context, string) (string, error) {
	return "", nil
}

func newTestRegistry(items ...media.Media) *Registry {
	return NewRegistry([]provider.Provider{&stubProvider{name: "0", items: items}}, 2, testLogger())
}

func TestCreateAndGetRoom(t *testing.T) {
	reg := newTestRegistry(testMedia(3)...)

	rm, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	assert.Equal(t, "movie-night", rm.Name)
	assert.Equal(t, 1, reg.Count())

	got, err := reg.Get("movie-night", "", "alice")
	require.NoError(t, err)
	assert.Same(t, rm, got)
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	_, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)

	_, err = reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestCreateEmptyNameRejected(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	_, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "  "})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRoomExists)
}

func TestCreateWithNoCandidatesRejected(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "empty"})
	assert.ErrorIs(t, err, ErrNoMedia)
	assert.Zero(t, reg.Count(), "failed create must not publish a room")
}

func TestGetUnknownRoom(t *testing.T) {
	reg := newTestRegistry(testMedia(1)...)

	_, err := reg.Get("nope", "", "alice")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestGetPasswordProtectedRoom(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	_, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "secret", Password: "hunter2"})
	require.NoError(t, err)

	_, err = reg.Get("secret", "", "alice")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = reg.Get("secret", "wrong", "alice")
	assert.ErrorIs(t, err, ErrAccessDenied)

	rm, err := reg.Get("secret", "hunter2", "alice")
	require.NoError(t, err)
	assert.Equal(t, "secret", rm.Name)
}

func TestGetRejectsActiveDuplicateName(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	rm, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	join(t, rm, "alice")

	_, err = reg.Get("movie-night", "", "alice")
	assert.ErrorIs(t, err, ErrUserAlreadyJoined)

	_, err = reg.Get("movie-night", "", "bob")
	assert.NoError(t, err)
}

func TestEmptyRoomRemovedAndNameReusable(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	rm, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	join(t, rm, "alice")

	require.NoError(t, rm.Leave("alice"))
	assert.Zero(t, reg.Count(), "last leave must garbage-collect the room")

	fresh, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	assert.NotSame(t, rm, fresh, "a reused name starts a brand new room")
	assert.Empty(t, fresh.Matches("alice", true))
}

func TestJoinAfterRemovalFails(t *testing.T) {
	reg := newTestRegistry(testMedia(2)...)

	rm, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	join(t, rm, "alice")

	// Bob looks the room up while alice is still in it.
	stale, err := reg.Get("movie-night", "", "bob")
	require.NoError(t, err)

	// Alice leaves, the room empties, and the registry retires it
	// before bob's join lands.
	require.NoError(t, rm.Leave("alice"))
	require.Zero(t, reg.Count())

	_, err = stale.Join(newFakeMember("bob"))
	assert.ErrorIs(t, err, ErrRoomNotFound, "a retired room must not accept members")

	// The name is free again; a fresh room under it is the live one.
	fresh, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "movie-night"})
	require.NoError(t, err)
	bob := join(t, fresh, "bob")
	join(t, fresh, "carol")
	fresh.Rate("bob", "m1", protocol.RatingLike, 1)
	fresh.Rate("carol", "m1", protocol.RatingLike, 2)
	assert.Len(t, bob.eventsOfType("match"), 1, "members of the replacement room match each other")
}

func TestMediaDedupedAcrossProviders(t *testing.T) {
	shared := media.Media{ID: "dup", Title: "Shared"}
	providers := []provider.Provider{
		&stubProvider{name: "a", items: []media.Media{shared, {ID: "a1", Title: "A"}}},
		&stubProvider{name: "b", items: []media.Media{shared, {ID: "b1", Title: "B"}}},
	}
	reg := NewRegistry(providers, 2, testLogger())

	rm, err := reg.Create(context.Background(), protocol.CreateRoom{RoomName: "combined"})
	require.NoError(t, err)

	snap, err := rm.Join(newFakeMember("alice"))
	require.NoError(t, err)
	assert.Len(t, snap.Media, 3)
}
