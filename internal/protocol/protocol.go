// internal/protocol/protocol.go
//
// Package protocol defines the websocket message surface shared with the
// UI: a closed set of inbound commands and a closed set of outbound
// events, each carried in a {"type": ..., "payload": ...} envelope.
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/cinematch/cinematch/internal/media"
)

// Rating is a user's verdict on a single media item.
type Rating string

const (
	RatingLike    Rating = "like"
	RatingDislike Rating = "dislike"
)

// RoomOption toggles optional room behavior.
type RoomOption string

const (
	// RoomOptionEndOnFirstMatch stops serving remaining media to all
	// members once the room has produced its first match.
	RoomOptionEndOnFirstMatch RoomOption = "EndOnFirstMatch"
)

// RoomSort selects the candidate media ordering for a room.
type RoomSort string

const (
	SortRandom RoomSort = "random"
	SortRating RoomSort = "rating"
)

// Command is any inbound message. The concrete type identifies the
// command; Decode returns exactly one of the types below.
type Command interface {
	commandType() string
}

// Login establishes the connection's identity. Exactly one of the three
// forms is expected: an anonymous user name, a Plex token pair, or a
// resume token minted by a previous loginSuccess.
type Login struct {
	UserName     string `json:"userName,omitempty"`
	PlexToken    string `json:"plexToken,omitempty"`
	PlexClientID string `json:"plexClientId,omitempty"`
	ResumeToken  string `json:"token,omitempty"`
}

// Logout clears the connection's identity.
type Logout struct{}

// CreateRoom creates and joins a new room.
type CreateRoom struct {
	RoomName string         `json:"roomName"`
	Password string         `json:"password,omitempty"`
	Options  []RoomOption   `json:"options,omitempty"`
	Filters  []media.Filter `json:"filters,omitempty"`
	Sort     RoomSort       `json:"sort,omitempty"`
}

// JoinRoom joins an existing room.
type JoinRoom struct {
	RoomName string `json:"roomName"`
	Password string `json:"password,omitempty"`
}

// LeaveRoom leaves the current room.
type LeaveRoom struct{}

// Rate records a like or dislike for one media item.
type Rate struct {
	Rating  Rating `json:"rating"`
	MediaID string `json:"mediaId"`
}

// SetLocale selects the client's language; the server answers with a
// translations event.
type SetLocale struct {
	Language string `json:"language"`
}

// Setup submits a first-run configuration. The payload is handed to the
// config package verbatim for validation.
type Setup struct {
	Config json.RawMessage
}

// RequestFilters asks for the provider's filter metadata.
type RequestFilters struct{}

// RequestFilterValues asks for the selectable values of one filter key.
type RequestFilterValues struct {
	Key string `json:"key"`
}

func (Login) commandType() string               { return "login" }
func (Logout) commandType() string              { return "logout" }
func (CreateRoom) commandType() string          { return "createRoom" }
func (JoinRoom) commandType() string            { return "joinRoom" }
func (LeaveRoom) commandType() string           { return "leaveRoom" }
func (Rate) commandType() string                { return "rate" }
func (SetLocale) commandType() string           { return "setLocale" }
func (Setup) commandType() string               { return "setup" }
func (RequestFilters) commandType() string      { return "requestFilters" }
func (RequestFilterValues) commandType() string { return "requestFilterValues" }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one inbound frame into its command. An unknown type or a
// payload that does not unmarshal is an error; callers report it to the
// sender without closing the connection.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case "login":
		var cmd Login
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case "logout":
		return Logout{}, nil
	case "createRoom":
		var cmd CreateRoom
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case "joinRoom":
		var cmd JoinRoom
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case "leaveRoom":
		return LeaveRoom{}, nil
	case "rate":
		var cmd Rate
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case "setLocale":
		var cmd SetLocale
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case "setup":
		return Setup{Config: env.Payload}, nil
	case "requestFilters":
		return RequestFilters{}, nil
	case "requestFilterValues":
		var cmd RequestFilterValues
		if err := unmarshalPayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
