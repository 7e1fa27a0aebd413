package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commi8/internal/models"
)

// Inbound events.
const (
	EventJoinServer   = "join_server"
	EventJoinChannel  = "join_channel"
	EventLeaveChannel = "leave_channel"
	EventMessage      = "message"
	EventTyping       = "typing"
	EventVoiceSignal  = "voice_signal"
)

// Outbound events.
const (
	EventUserStatusChange = "user_status_change"
	EventVoiceUserJoined  = "voice_user_joined"
	EventVoiceUserLeft    = "voice_user_left"
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventError            = "error"
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{event, data})
}

func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := decodeStrict(raw, &frame); err != nil {
		return Frame{}, err
	}
	if frame.Event == "" {
		return Frame{}, errors.New("missing event name")
	}
	return frame, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}

// ID accepts both JSON strings and JSON numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type command interface {
	credential() string
	validate() error
}

var (
	errMissingToken   = errors.New("missing token")
	errMissingField   = errors.New("missing required field")
	errEmptyContent   = errors.New("empty content")
	errMissingSignal  = errors.New("missing signal")
	errSignalToSender = errors.New("signal target is the sender")
)

type credentials struct {
	Token string `json:"token"`
}

func (c credentials) credential() string { return c.Token }

func (c credentials) validate() error {
	if c.Token == "" {
		return errMissingToken
	}
	return nil
}

type JoinServer struct {
	credentials
	ServerID ID `json:"server_id"`
}

func (c JoinServer) validate() error {
	if err := c.credentials.validate(); err != nil {
		return err
	}
	if c.ServerID == "" {
		return errMissingField
	}
	return nil
}

// ChannelCommand is the payload of join_channel, leave_channel and typing.
type ChannelCommand struct {
	credentials
	ChannelID ID `json:"channel_id"`
}

func (c ChannelCommand) validate() error {
	if err := c.credentials.validate(); err != nil {
		return err
	}
	if c.ChannelID == "" {
		return errMissingField
	}
	return nil
}

type SendMessage struct {
	credentials
	ChannelID ID     `json:"channel_id"`
	Content   string `json:"content"`
}

func (c SendMessage) validate() error {
	if err := c.credentials.validate(); err != nil {
		return err
	}
	if c.ChannelID == "" {
		return errMissingField
	}
	if c.Content == "" {
		return errEmptyContent
	}
	return nil
}

type VoiceSignal struct {
	credentials
	ChannelID    ID              `json:"channel_id"`
	Signal       json.RawMessage `json:"signal"`
	TargetUserID ID              `json:"target_user_id"`
}

func (c VoiceSignal) validate() error {
	if err := c.credentials.validate(); err != nil {
		return err
	}
	if c.ChannelID == "" || c.TargetUserID == "" {
		return errMissingField
	}
	if emptySignal(c.Signal) {
		return errMissingSignal
	}
	return nil
}

// emptySignal reports whether a signal payload carries nothing to relay:
// absent, null, false, zero, or an empty string, object or array.
func emptySignal(raw json.RawMessage) bool {
	var value any
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil {
		return true
	}

	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

type UserStatusChange struct {
	UserID string        `json:"user_id"`
	Status models.Status `json:"status"`
}

type VoiceUserJoined struct {
	ChannelID string        `json:"channel_id"`
	User      models.Author `json:"user"`
}

type VoiceUserLeft struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type MessagePayload struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	ChannelID string        `json:"channel_id"`
	Author    models.Author `json:"author"`
}

type NewMessage struct {
	Message MessagePayload `json:"message"`
}

func newMessage(m models.Message) NewMessage {
	return NewMessage{Message: MessagePayload{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		ChannelID: m.ChannelID,
		Author:    m.Author,
	}}
}

type TypingUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type UserTyping struct {
	ChannelID string     `json:"channel_id"`
	User      TypingUser `json:"user"`
}

type RelayedSignal struct {
	ChannelID  string          `json:"channel_id"`
	FromUserID string          `json:"from_user_id"`
	Signal     json.RawMessage `json:"signal"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
