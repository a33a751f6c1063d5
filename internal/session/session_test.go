// internal/session/session_test.go
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/auth"
	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/i18n"
	"github.com/cinematch/cinematch/internal/media"
	"github.com/cinematch/cinematch/internal/protocol"
	"github.com/cinematch/cinematch/internal/provider"
	"github.com/cinematch/cinematch/internal/room"
)

// fakeProvider stands in for a media server during protocol tests.
type fakeProvider struct {
	items      []media.Media
	filters    media.Filters
	filtersErr error
	values     []media.FilterValue
	valuesErr  error
}

func (p *fakeProvider) Name() string { return "0" }

func (p *fakeProvider) IsAvailable(context.Context) bool { return true }

func (p *fakeProvider) GetFilters(context.Context) (media.Filters, error) {
	return p.filters, p.filtersErr
}

func (p *fakeProvider) GetFilterValues(context.Context, string) ([]media.FilterValue, error) {
	return p.values, p.valuesErr
}

func (p *fakeProvider) GetMedia(context.Context, []media.Filter) ([]media.Media, error) {
	return p.items, nil
}

func (p *fakeProvider) Login(_ context.Context, token, _ string) (provider.UserIdentity, error) {
	if token != "valid-plex-token" {
		return provider.UserIdentity{}, provider.ErrInvalidLogin
	}
	return provider.UserIdentity{UserName: "plexuser", AvatarImage: "https://plex.tv/avatar.png"}, nil
}

func (p *fakeProvider) GetArtwork(context.Context, string, int) (io.ReadCloser, http.Header, error) {
	return nil, nil, nil
}

func (p *fakeProvider) GetCanonicalURL(context.Context, string) (string, error) {
	return "", nil
}

type fixture struct {
	deps     Deps
	reloaded int
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	logger := quietLogger()

	tokens, err := auth.NewTokenIssuer()
	require.NoError(t, err)
	translator, err := i18n.New()
	require.NoError(t, err)

	items := []media.Media{
		{ID: "m1", Type: media.LibraryTypeMovie, Title: "Movie 1"},
		{ID: "m2", Type: media.LibraryTypeMovie, Title: "Movie 2"},
	}
	providers := []provider.Provider{&fakeProvider{items: items}}

	f := &fixture{}
	f.deps = Deps{
		Config:        cfg,
		ConfigPath:    filepath.Join(t.TempDir(), "config.yaml"),
		Registry:      room.NewRegistry(providers, cfg.MatchThreshold, logger),
		Providers:     providers,
		Tokens:        tokens,
		Translator:    translator,
		RequestReload: func() { f.reloaded++ },
	}
	return f
}

func configuredConfig() *config.Config {
	cfg := config.Default()
	cfg.Servers = []config.Server{{URL: "http://localhost:32400", Token: "token"}}
	return cfg
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s := New(f.deps, quietLogger())
	// Discard the initial config event so tests see only their own replies.
	drain(s)
	return s
}

func handle(s *Session, frame string) {
	s.HandleMessage(context.Background(), []byte(frame))
}

// drain empties the session's outbound queue without blocking.
func drain(s *Session) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev, ok := <-s.out:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventOfType(t *testing.T, events []protocol.Event, eventType string) protocol.Event {
	t.Helper()
	for _, ev := range events {
		if ev.EventType() == eventType {
			return ev
		}
	}
	t.Fatalf("no %q event in %d events", eventType, len(events))
	return nil
}

func eventsOfType(events []protocol.Event, eventType string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func login(t *testing.T, s *Session, name string) protocol.LoginSuccess {
	t.Helper()
	handle(s, fmt.Sprintf(`{"type":"login","payload":{"userName":%q}}`, name))
	ev := eventOfType(t, drain(s), "loginSuccess")
	return ev.(protocol.LoginSuccess)
}

func TestInitialConfigEvent(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := New(f.deps, quietLogger())

	ev := eventOfType(t, drain(s), "config")
	cfgEv := ev.(protocol.AppConfig)
	assert.False(t, cfgEv.RequiresConfiguration)
	assert.False(t, cfgEv.RequirePlexLogin)
}

func TestInitialConfigEventBeforeSetup(t *testing.T) {
	f := newFixture(t, config.Default())
	s := New(f.deps, quietLogger())

	ev := eventOfType(t, drain(s), "config").(protocol.AppConfig)
	assert.True(t, ev.RequiresConfiguration)
	assert.NotEmpty(t, ev.InitialConfiguration)
}

func TestAnonymousLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	success := login(t, s, "alice")
	assert.Equal(t, "alice", success.UserName)
	assert.NotEmpty(t, success.Token, "a resume token is minted on every login")
	assert.NotNil(t, success.Permissions)
}

func TestResumeTokenLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	first := login(t, f.session(t), "alice")

	s := f.session(t)
	handle(s, fmt.Sprintf(`{"type":"login","payload":{"token":%q}}`, first.Token))
	success := eventOfType(t, drain(s), "loginSuccess").(protocol.LoginSuccess)
	assert.Equal(t, "alice", success.UserName)
}

func TestResumeTokenLoginRejectsGarbage(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"login","payload":{"token":"not.a.token"}}`)
	ev := eventOfType(t, drain(s), "loginError").(protocol.LoginError)
	assert.Equal(t, "MalformedMessage", ev.Name)
}

func TestAnonymousLoginRejectedWhenPlexRequired(t *testing.T) {
	cfg := configuredConfig()
	cfg.RequirePlexLogin = true
	f := newFixture(t, cfg)
	s := f.session(t)

	handle(s, `{"type":"login","payload":{"userName":"alice"}}`)
	ev := eventOfType(t, drain(s), "loginError").(protocol.LoginError)
	assert.Equal(t, "PlexLoginRequired", ev.Name)
}

func TestPlexLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"login","payload":{"plexToken":"valid-plex-token","plexClientId":"client"}}`)
	success := eventOfType(t, drain(s), "loginSuccess").(protocol.LoginSuccess)
	assert.Equal(t, "plexuser", success.UserName)
	assert.Equal(t, "https://plex.tv/avatar.png", success.AvatarImage)
}

func TestPlexLoginRejected(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"login","payload":{"plexToken":"bogus"}}`)
	ev := eventOfType(t, drain(s), "loginError").(protocol.LoginError)
	assert.Equal(t, "PlexLoginRequired", ev.Name)
}

func TestEmptyLoginRejected(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"login","payload":{}}`)
	ev := eventOfType(t, drain(s), "loginError").(protocol.LoginError)
	assert.Equal(t, "MalformedMessage", ev.Name)
}

func TestCreateRoomRequiresLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	ev := eventOfType(t, drain(s), "createRoomError").(protocol.CreateRoomError)
	assert.Equal(t, "NotLoggedInError", ev.Name)
}

func TestJoinRoomRequiresLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"joinRoom","payload":{"roomName":"movie-night"}}`)
	ev := eventOfType(t, drain(s), "joinRoomError").(protocol.JoinRoomError)
	assert.Equal(t, "NotLoggedInError", ev.Name)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)
	login(t, s, "alice")

	handle(s, `{"type":"joinRoom","payload":{"roomName":"nope"}}`)
	ev := eventOfType(t, drain(s), "joinRoomError").(protocol.JoinRoomError)
	assert.Equal(t, "RoomNotFoundError", ev.Name)
}

func TestCreateJoinRateMatchFlow(t *testing.T) {
	f := newFixture(t, configuredConfig())

	creator := f.session(t)
	login(t, creator, "alice")
	handle(creator, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	created := eventOfType(t, drain(creator), "createRoomSuccess").(protocol.CreateRoomSuccess)
	require.Len(t, created.Media, 2)
	require.Len(t, created.Users, 1)

	joiner := f.session(t)
	login(t, joiner, "bob")
	handle(joiner, `{"type":"joinRoom","payload":{"roomName":"movie-night"}}`)
	joined := eventOfType(t, drain(joiner), "joinRoomSuccess").(protocol.JoinRoomSuccess)
	require.Len(t, joined.Users, 2)

	creatorEvents := drain(creator)
	joinedEv := eventOfType(t, creatorEvents, "userJoinedRoom").(protocol.UserJoinedRoom)
	assert.Equal(t, "bob", joinedEv.User.UserName)

	handle(creator, `{"type":"rate","payload":{"rating":"like","mediaId":"m1"}}`)
	handle(joiner, `{"type":"rate","payload":{"rating":"like","mediaId":"m1"}}`)

	for name, s := range map[string]*Session{"alice": creator, "bob": joiner} {
		events := drain(s)
		matches := eventsOfType(events, "match")
		require.Len(t, matches, 1, "%s should see one match", name)
		match := matches[0].(protocol.MatchEvent)
		assert.Equal(t, "m1", match.Media.ID)
		assert.ElementsMatch(t, []string{"alice", "bob"}, match.Users)
		assert.NotEmpty(t, eventsOfType(events, "userProgress"))
	}
}

func TestCreateDuplicateRoom(t *testing.T) {
	f := newFixture(t, configuredConfig())

	first := f.session(t)
	login(t, first, "alice")
	handle(first, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	drain(first)

	second := f.session(t)
	login(t, second, "bob")
	handle(second, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	ev := eventOfType(t, drain(second), "createRoomError").(protocol.CreateRoomError)
	assert.Equal(t, "RoomExistsError", ev.Name)
}

func TestRateWithoutRoomIsDropped(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)
	login(t, s, "alice")

	handle(s, `{"type":"rate","payload":{"rating":"like","mediaId":"m1"}}`)
	assert.Empty(t, drain(s), "rating outside a room produces no reply")
}

func TestLeaveRoomWithoutRoom(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)
	login(t, s, "alice")

	handle(s, `{"type":"leaveRoom"}`)
	ev := eventOfType(t, drain(s), "leaveRoomError").(protocol.LeaveRoomError)
	assert.Equal(t, "NOT_JOINED", ev.ErrorType)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)
	login(t, s, "alice")
	handle(s, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	drain(s)

	handle(s, `{"type":"leaveRoom"}`)
	eventOfType(t, drain(s), "leaveRoomSuccess")
	assert.Zero(t, f.deps.Registry.Count(), "last leave frees the room")
}

func TestLogoutWithoutLogin(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"logout"}`)
	ev := eventOfType(t, drain(s), "logoutError").(protocol.LogoutError)
	assert.Equal(t, "NotLoggedIn", ev.Name)
}

func TestLogoutLeavesRoom(t *testing.T) {
	f := newFixture(t, configuredConfig())

	alice := f.session(t)
	login(t, alice, "alice")
	handle(alice, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	drain(alice)

	bob := f.session(t)
	login(t, bob, "bob")
	handle(bob, `{"type":"joinRoom","payload":{"roomName":"movie-night"}}`)
	drain(bob)
	drain(alice)

	handle(bob, `{"type":"logout"}`)
	eventOfType(t, drain(bob), "logoutSuccess")

	left := eventsOfType(drain(alice), "userLeftRoom")
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].(protocol.UserLeftRoom).UserName)
}

func TestMalformedFramesIgnored(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `not json at all`)
	handle(s, `{"type":"warp"}`)
	handle(s, `{"type":"rate","payload":"wrong shape"}`)
	assert.Empty(t, drain(s))

	// The connection stays usable afterwards.
	success := login(t, s, "alice")
	assert.Equal(t, "alice", success.UserName)
}

func TestCloseSynthesizesSingleLeave(t *testing.T) {
	f := newFixture(t, configuredConfig())

	alice := f.session(t)
	login(t, alice, "alice")
	handle(alice, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	drain(alice)

	bob := f.session(t)
	login(t, bob, "bob")
	handle(bob, `{"type":"joinRoom","payload":{"roomName":"movie-night"}}`)
	drain(alice)

	bob.Close()
	bob.Close() // idempotent

	left := eventsOfType(drain(alice), "userLeftRoom")
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].(protocol.UserLeftRoom).UserName)
	assert.Equal(t, 1, f.deps.Registry.Count(), "alice still holds the room")

	alice.Close()
	assert.Zero(t, f.deps.Registry.Count())
}

func TestSendAfterCloseIsSafe(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)
	s.Close()

	assert.NotPanics(t, func() {
		s.Send(protocol.LogoutSuccess{})
	})
}

func TestReloginEvictsPreviousIdentity(t *testing.T) {
	f := newFixture(t, configuredConfig())

	alice := f.session(t)
	login(t, alice, "alice")
	handle(alice, `{"type":"createRoom","payload":{"roomName":"movie-night"}}`)
	drain(alice)

	bob := f.session(t)
	login(t, bob, "bob")
	handle(bob, `{"type":"joinRoom","payload":{"roomName":"movie-night"}}`)
	drain(alice)

	login(t, bob, "robert")

	left := eventsOfType(drain(alice), "userLeftRoom")
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].(protocol.UserLeftRoom).UserName)
}

func TestSetLocale(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"setLocale","payload":{"language":"de"}}`)
	translations := eventOfType(t, drain(s), "translations").(protocol.Translations)
	assert.Equal(t, "Raum erstellen", translations["CREATE_ROOM"])

	handle(s, `{"type":"setLocale","payload":{"language":"zz"}}`)
	translations = eventOfType(t, drain(s), "translations").(protocol.Translations)
	assert.Equal(t, "Create Room", translations["CREATE_ROOM"], "unknown locales fall back to English")
}

func TestSetupRejectedWhenConfigured(t *testing.T) {
	f := newFixture(t, configuredConfig())
	s := f.session(t)

	handle(s, `{"type":"setup","payload":{"servers":[{"url":"http://localhost:32400","token":"t"}]}}`)
	ev := eventOfType(t, drain(s), "setupError").(protocol.SetupError)
	assert.Equal(t, "ALREADY_SETUP", ev.Type)
	assert.Zero(t, f.reloaded)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, config.Default())
	s := f.session(t)

	handle(s, `{"type":"setup","payload":{"servers":[{"url":"not a url","token":""}]}}`)
	ev := eventOfType(t, drain(s), "setupError").(protocol.SetupError)
	assert.Equal(t, "INVALID_CONFIG", ev.Type)
	assert.Zero(t, f.reloaded)
}

func TestSetupWritesConfigAndRequestsReload(t *testing.T) {
	f := newFixture(t, config.Default())
	s := f.session(t)

	handle(s, `{"type":"setup","payload":{"servers":[{"type":"plex","url":"http://localhost:32400","token":"secret"}]}}`)
	success := eventOfType(t, drain(s), "setupSuccess").(protocol.SetupSuccess)
	assert.Equal(t, "0.0.0.0", success.Hostname)
	assert.Equal(t, 8000, success.Port)
	assert.Equal(t, 1, f.reloaded)

	written, err := os.ReadFile(f.deps.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(written), "http://localhost:32400")

	saved, err := config.Load(f.deps.ConfigPath)
	require.NoError(t, err)
	assert.False(t, saved.RequiresSetup())
}

func TestRequestFilters(t *testing.T) {
	f := newFixture(t, configuredConfig())
	fake := f.deps.Providers[0].(*fakeProvider)
	fake.filters = media.Filters{
		Filters: []media.FilterField{{Key: "genre", Title: "Genre", Type: "string"}},
	}
	s := f.session(t)

	handle(s, `{"type":"requestFilters"}`)
	ev := eventOfType(t, drain(s), "requestFiltersSuccess").(protocol.FiltersSuccess)
	require.Len(t, ev.Filters, 1)
	assert.Equal(t, "genre", ev.Filters[0].Key)
}

func TestRequestFiltersError(t *testing.T) {
	f := newFixture(t, configuredConfig())
	f.deps.Providers[0].(*fakeProvider).filtersErr = fmt.Errorf("upstream down")
	s := f.session(t)

	handle(s, `{"type":"requestFilters"}`)
	eventOfType(t, drain(s), "requestFiltersError")
}

func TestRequestFilterValues(t *testing.T) {
	f := newFixture(t, configuredConfig())
	f.deps.Providers[0].(*fakeProvider).values = []media.FilterValue{{Title: "Comedy", Value: "comedy"}}
	s := f.session(t)

	handle(s, `{"type":"requestFilterValues","payload":{"key":"genre"}}`)
	ev := eventOfType(t, drain(s), "requestFilterValuesSuccess").(protocol.FilterValuesSuccess)
	assert.Equal(t, "genre", ev.Request.Key)
	require.Len(t, ev.Values, 1)
	assert.Equal(t, "comedy", ev.Values[0].Value)
}
