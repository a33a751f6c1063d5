// internal/protocol/events.go
package protocol

import (
	"github.com/goccy/go-json"

	"github.com/cinematch/cinematch/internal/media"
)

// Event is any outbound message. EventType is the wire discriminator.
type Event interface {
	EventType() string
}

// Encode frames an event for the wire.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Payload Event  `json:"payload,omitempty"`
	}{Type: ev.EventType(), Payload: ev})
}

// User identifies a logged-in connection to other clients.
type User struct {
	UserName    string   `json:"userName"`
	Permissions []string `json:"permissions"`
	AvatarImage string   `json:"avatarImage,omitempty"`

	// Token lets the client re-login as the same identity after a
	// reconnect. Only present on loginSuccess.
	Token string `json:"token,omitempty"`
}

// RoomUser pairs a member with their rating progress through the room.
type RoomUser struct {
	User     User    `json:"user"`
	Progress float64 `json:"progress"`
}

// Login

type LoginError struct {
	Name    string `json:"name"` // MalformedMessage | PlexLoginRequired
	Message string `json:"message"`
}

type LoginSuccess User

type LogoutError struct {
	Name    string `json:"name"` // NotLoggedIn
	Message string `json:"message"`
}

type LogoutSuccess struct{}

// Rooms

type CreateRoomError struct {
	Name    string `json:"name"` // RoomExistsError | UnauthorizedError | NotLoggedInError | NoMedia
	Message string `json:"message"`
}

type JoinRoomError struct {
	Name    string `json:"name"` // UserAlreadyJoinedError | AccessDeniedError | RoomNotFoundError | NotLoggedInError | UnknownError
	Message string `json:"message"`
}

// JoinRoomSuccess answers both createRoom and joinRoom: the caller's
// catch-up snapshot of the room.
type JoinRoomSuccess struct {
	PreviousMatches []media.Match `json:"previousMatches"`
	Media           []media.Media `json:"media"`
	Users           []RoomUser    `json:"users"`
}

// CreateRoomSuccess shares the joinRoomSuccess payload shape.
type CreateRoomSuccess JoinRoomSuccess

type LeaveRoomSuccess struct{}

type LeaveRoomError struct {
	ErrorType string `json:"errorType"` // NOT_JOINED
}

// In-room broadcasts

type MatchEvent media.Match

// MediaEvent replaces the client's remaining media list.
type MediaEvent []media.Media

type UserJoinedRoom RoomUser

type UserLeftRoom User

type UserProgress RoomUser

// Setup and config

// AppConfig is pushed to every connection as soon as it opens.
type AppConfig struct {
	RequiresConfiguration bool `json:"requiresConfiguration"`
	RequirePlexLogin      bool `json:"requirePlexLogin"`

	// InitialConfiguration seeds the first-run setup form. Only present
	// when RequiresConfiguration is true.
	InitialConfiguration json.RawMessage `json:"initialConfiguration,omitempty"`
}

type SetupSuccess struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

type SetupError struct {
	Message string `json:"message"`
	Type    string `json:"type"` // INVALID_CONFIG | ALREADY_SETUP
}

// Translations maps UI translation keys to localized strings.
type Translations map[string]string

// Filters

type FiltersSuccess media.Filters

type FiltersError struct{}

type FilterValuesSuccess struct {
	Request RequestFilterValues `json:"request"`
	Values  []media.FilterValue `json:"values"`
}

type FilterValuesError struct{}

func (LoginError) EventType() string          { return "loginError" }
func (LoginSuccess) EventType() string        { return "loginSuccess" }
func (LogoutError) EventType() string         { return "logoutError" }
func (LogoutSuccess) EventType() string       { return "logoutSuccess" }
func (CreateRoomError) EventType() string     { return "createRoomError" }
func (CreateRoomSuccess) EventType() string   { return "createRoomSuccess" }
func (JoinRoomError) EventType() string       { return "joinRoomError" }
func (JoinRoomSuccess) EventType() string     { return "joinRoomSuccess" }
func (LeaveRoomSuccess) EventType() string    { return "leaveRoomSuccess" }
func (LeaveRoomError) EventType() string      { return "leaveRoomError" }
func (MatchEvent) EventType() string          { return "match" }
func (MediaEvent) EventType() string          { return "media" }
func (AppConfig) EventType() string           { return "config" }
func (Translations) EventType() string        { return "translations" }
func (SetupSuccess) EventType() string        { return "setupSuccess" }
func (SetupError) EventType() string          { return "setupError" }
func (FiltersSuccess) EventType() string      { return "requestFiltersSuccess" }
func (FiltersError) EventType() string        { return "requestFiltersError" }
func (FilterValuesSuccess) EventType() string { return "requestFilterValuesSuccess" }
func (FilterValuesError) EventType() string   { return "requestFilterValuesError" }
func (UserJoinedRoom) EventType() string      { return "userJoinedRoom" }
func (UserLeftRoom) EventType() string        { return "userLeftRoom" }
func (UserProgress) EventType() string        { return "userProgress" }
