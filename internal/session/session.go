// internal/session/session.go
//
// Package session implements the per-connection protocol front end: it
// decodes inbound commands, tracks the connection's login identity, and
// forwards room-scoped commands to the room the session is a member of.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/auth"
	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/i18n"
	"github.com/cinematch/cinematch/internal/protocol"
	"github.com/cinematch/cinematch/internal/provider"
	"github.com/cinematch/cinematch/internal/room"
)

// outBuffer is the per-session event queue depth. A member that falls
// further behind than this drops events rather than stalling a room.
const outBuffer = 32

// Deps carries the collaborators a session needs. The config here is the
// snapshot the app was started with; a reload constructs new sessions.
type Deps struct {
	Config     *config.Config
	ConfigPath string
	Registry   *room.Registry
	Providers  []provider.Provider
	Tokens     *auth.TokenIssuer
	Translator *i18n.Translator

	// RequestReload is invoked after a successful first-run setup. May
	// be nil.
	RequestReload func()
}

// Session is one live connection's protocol state. It is driven by its
// transport's read loop (HandleMessage) and drained by the transport's
// write loop (Events).
type Session struct {
	ID     uuid.UUID
	deps   Deps
	logger *logrus.Logger

	out       chan protocol.Event
	closeOnce sync.Once

	mu          sync.Mutex
	closed      bool
	loggedIn    bool
	userName    string
	avatarImage string
	locale      string
	room        *room.Room
}

// New builds a session and queues the initial config event the client
// expects immediately after connecting.
func New(deps Deps, logger *logrus.Logger) *Session {
	s := &Session{
		ID:     uuid.New(),
		deps:   deps,
		logger: logger,
		out:    make(chan protocol.Event, outBuffer),
	}
	s.sendConfig()
	return s
}

// Events is the outbound queue the transport's write loop drains. It is
// closed by Close.
func (s *Session) Events() <-chan protocol.Event {
	return s.out
}

// User implements room.Member.
func (s *Session) User() protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.User{UserName: s.userName, AvatarImage: s.avatarImage}
}

// Send implements room.Member. It never blocks: when the buffer is full
// the event is dropped and logged, so a slow member cannot stall a room.
func (s *Session) Send(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- ev:
	default:
		s.logger.WithFields(logrus.Fields{"session": s.ID, "event": ev.EventType()}).Warn("outbound buffer full, event dropped")
	}
}

// HandleMessage decodes and dispatches one inbound frame. Malformed
// frames are logged and dropped without touching session or room state;
// they never terminate the session.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("undecodable message")
		return
	}

	switch cmd := cmd.(type) {
	case protocol.Login:
		s.handleLogin(ctx, cmd)
	case protocol.Logout:
		s.handleLogout()
	case protocol.CreateRoom:
		s.handleCreateRoom(ctx, cmd)
	case protocol.JoinRoom:
		s.handleJoinRoom(cmd)
	case protocol.LeaveRoom:
		s.handleLeaveRoom()
	case protocol.Rate:
		s.handleRate(cmd)
	case protocol.SetLocale:
		s.handleSetLocale(cmd)
	case protocol.Setup:
		s.handleSetup(cmd)
	case protocol.RequestFilters:
		s.handleRequestFilters(ctx)
	case protocol.RequestFilterValues:
		s.handleRequestFilterValues(ctx, cmd)
	}
}

// Close releases the session exactly once. A session still in a room
// synthesizes a single leave so remaining members get their broadcast.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		rm, userName := s.room, s.userName
		s.room = nil
		s.mu.Unlock()

		if rm != nil && userName != "" {
			if err := rm.Leave(userName); err != nil && !errors.Is(err, room.ErrNotJoined) {
				s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("leave on close failed")
			}
		}

		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
		s.logger.WithField("session", s.ID).Debug("session closed")
	})
}

func (s *Session) sendConfig() {
	cfg := s.deps.Config
	ev := protocol.AppConfig{
		RequiresConfiguration: cfg.RequiresSetup(),
		RequirePlexLogin:      cfg.RequirePlexLogin,
	}
	if ev.RequiresConfiguration {
		if initial, err := json.Marshal(cfg); err == nil {
			ev.InitialConfiguration = initial
		}
	}
	s.Send(ev)
}

func (s *Session) handleLogin(ctx context.Context, login protocol.Login) {
	switch {
	case login.ResumeToken != "":
		id, err := s.deps.Tokens.Verify(login.ResumeToken)
		if err != nil {
			s.Send(protocol.LoginError{Name: "MalformedMessage", Message: "The login token is invalid or expired."})
			return
		}
		s.completeLogin(id.UserName, id.AvatarImage)

	case login.PlexToken != "":
		if len(s.deps.Providers) == 0 {
			s.Send(protocol.LoginError{Name: "MalformedMessage", Message: "No media server is configured for Plex login."})
			return
		}
		id, err := s.deps.Providers[0].Login(ctx, login.PlexToken, login.PlexClientID)
		if err != nil {
			msg := "Plex sign-in failed."
			if errors.Is(err, provider.ErrInvalidLogin) {
				msg = "The Plex token was rejected. Please sign in again."
			}
			s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("plex login failed")
			s.Send(protocol.LoginError{Name: "PlexLoginRequired", Message: msg})
			return
		}
		s.completeLogin(id.UserName, id.AvatarImage)

	case login.UserName != "":
		if s.deps.Config.RequirePlexLogin {
			s.Send(protocol.LoginError{Name: "PlexLoginRequired", Message: "Anonymous logins are not allowed. Please sign in with Plex."})
			return
		}
		s.completeLogin(login.UserName, "")

	default:
		s.Send(protocol.LoginError{Name: "MalformedMessage", Message: "The login message was not formed correctly."})
	}
}

// completeLogin installs the identity. Logging in again under a different
// name evicts the old name from the current room before the switch.
func (s *Session) completeLogin(userName, avatarImage string) {
	s.mu.Lock()
	previous := s.userName
	rm := s.room
	if s.loggedIn && previous != userName {
		s.room = nil
	} else {
		rm = nil
	}
	s.loggedIn = true
	s.userName = userName
	s.avatarImage = avatarImage
	s.mu.Unlock()

	if rm != nil {
		if err := rm.Leave(previous); err != nil && !errors.Is(err, room.ErrNotJoined) {
			s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("evicting previous identity failed")
		}
	}

	user := protocol.User{UserName: userName, AvatarImage: avatarImage, Permissions: []string{}}
	if token, err := s.deps.Tokens.Mint(auth.Identity{UserName: userName, AvatarImage: avatarImage}); err == nil {
		user.Token = token
	} else {
		s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("resume token mint failed")
	}

	s.logger.WithFields(logrus.Fields{"session": s.ID, "user": userName}).Info("logged in")
	s.Send(protocol.LoginSuccess(user))
}

func (s *Session) handleLogout() {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		s.Send(protocol.LogoutError{Name: "NotLoggedIn", Message: "This connection does not have a logged in user associated."})
		return
	}
	userName := s.userName
	rm := s.room
	s.loggedIn = false
	s.userName = ""
	s.avatarImage = ""
	s.room = nil
	s.mu.Unlock()

	if rm != nil {
		if err := rm.Leave(userName); err != nil && !errors.Is(err, room.ErrNotJoined) {
			s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("leave on logout failed")
		}
	}
	s.Send(protocol.LogoutSuccess{})
}

func (s *Session) handleCreateRoom(ctx context.Context, req protocol.CreateRoom) {
	userName, ok := s.identity()
	if !ok {
		s.Send(protocol.CreateRoomError{Name: "NotLoggedInError", Message: "You must be logged in to create a room."})
		return
	}

	rm, err := s.deps.Registry.Create(ctx, req)
	if err != nil {
		s.Send(protocol.CreateRoomError{Name: createErrorName(err), Message: err.Error()})
		return
	}

	snap, err := rm.Join(s)
	if err != nil {
		s.Send(protocol.CreateRoomError{Name: createErrorName(err), Message: err.Error()})
		return
	}

	s.setRoom(rm)
	s.logger.WithFields(logrus.Fields{"session": s.ID, "user": userName, "room": rm.Name}).Info("room created")
	s.Send(protocol.CreateRoomSuccess{
		PreviousMatches: snap.PreviousMatches,
		Media:           snap.Media,
		Users:           snap.Users,
	})
}

func (s *Session) handleJoinRoom(req protocol.JoinRoom) {
	userName, ok := s.identity()
	if !ok {
		s.Send(protocol.JoinRoomError{Name: "NotLoggedInError", Message: "You must log in before trying to join a room."})
		return
	}

	rm, err := s.deps.Registry.Get(req.RoomName, req.Password, userName)
	if err != nil {
		s.Send(protocol.JoinRoomError{Name: joinErrorName(err), Message: err.Error()})
		return
	}

	snap, err := rm.Join(s)
	if err != nil {
		s.Send(protocol.JoinRoomError{Name: joinErrorName(err), Message: err.Error()})
		return
	}

	s.setRoom(rm)
	s.Send(protocol.JoinRoomSuccess(snap))
}

func (s *Session) handleLeaveRoom() {
	s.mu.Lock()
	rm, userName := s.room, s.userName
	s.room = nil
	s.mu.Unlock()

	if rm == nil || userName == "" {
		s.Send(protocol.LeaveRoomError{ErrorType: "NOT_JOINED"})
		return
	}
	if err := rm.Leave(userName); err != nil {
		s.Send(protocol.LeaveRoomError{ErrorType: "NOT_JOINED"})
		return
	}
	s.Send(protocol.LeaveRoomSuccess{})
}

func (s *Session) handleRate(rate protocol.Rate) {
	s.mu.Lock()
	rm, userName := s.room, s.userName
	s.mu.Unlock()

	// Rating requires active membership. No reply either way; effects
	// surface as userProgress/match broadcasts.
	if rm == nil || userName == "" {
		s.logger.WithFields(logrus.Fields{"session": s.ID, "media": rate.MediaID}).Warn("rate without a room dropped")
		return
	}
	rm.Rate(userName, rate.MediaID, rate.Rating, time.Now().UnixMilli())
}

func (s *Session) handleSetLocale(cmd protocol.SetLocale) {
	s.mu.Lock()
	s.locale = cmd.Language
	s.mu.Unlock()
	s.Send(protocol.Translations(s.deps.Translator.Translations(cmd.Language)))
}

func (s *Session) handleSetup(cmd protocol.Setup) {
	if !s.deps.Config.RequiresSetup() {
		s.Send(protocol.SetupError{Message: "This server has already been set up.", Type: "ALREADY_SETUP"})
		s.logger.WithField("session", s.ID).Warn("setup attempted on a configured server")
		return
	}

	cfg, err := config.Parse(cmd.Config)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.Send(protocol.SetupError{Message: err.Error(), Type: "INVALID_CONFIG"})
		s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("setup rejected")
		return
	}

	if err := cfg.Save(s.deps.ConfigPath); err != nil {
		s.Send(protocol.SetupError{Message: err.Error(), Type: "INVALID_CONFIG"})
		s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Error("setup save failed")
		return
	}

	s.Send(protocol.SetupSuccess{Hostname: cfg.Host, Port: cfg.Port})
	s.logger.WithField("session", s.ID).Info("first-run setup complete, requesting reload")
	if s.deps.RequestReload != nil {
		s.deps.RequestReload()
	}
}

func (s *Session) handleRequestFilters(ctx context.Context) {
	if len(s.deps.Providers) == 0 {
		s.Send(protocol.FiltersError{})
		return
	}
	filters, err := s.deps.Providers[0].GetFilters(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"session": s.ID, "error": err}).Warn("filters request failed")
		s.Send(protocol.FiltersError{})
		return
	}
	s.Send(protocol.FiltersSuccess(filters))
}

func (s *Session) handleRequestFilterValues(ctx context.Context, req protocol.RequestFilterValues) {
	if len(s.deps.Providers) == 0 {
		s.Send(protocol.FilterValuesError{})
		return
	}
	values, err := s.deps.Providers[0].GetFilterValues(ctx, req.Key)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"session": s.ID, "key": req.Key, "error": err}).Warn("filter values request failed")
		s.Send(protocol.FilterValuesError{})
		return
	}
	s.Send(protocol.FilterValuesSuccess{Request: req, Values: values})
}

func (s *Session) identity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName, s.loggedIn && s.userName != ""
}

func (s *Session) setRoom(rm *room.Room) {
	s.mu.Lock()
	s.room = rm
	s.mu.Unlock()
}

func createErrorName(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomExists):
		return "RoomExistsError"
	case errors.Is(err, room.ErrNoMedia):
		return "NoMedia"
	case errors.Is(err, room.ErrUserAlreadyJoined):
		return "UnauthorizedError"
	default:
		return "UnknownError"
	}
}

func joinErrorName(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "RoomNotFoundError"
	case errors.Is(err, room.ErrAccessDenied):
		return "AccessDeniedError"
	case errors.Is(err, room.ErrUserAlreadyJoined):
		return "UserAlreadyJoinedError"
	default:
		return "UnknownError"
	}
}
