package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names used on the wire.
const (
	EventConnect           = "connect"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventReceiveMessage    = "receive_message"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
)

var (
	// ErrMalformedEvent is returned when a frame is not a valid envelope
	// or its payload has the wrong shape.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for an event name the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMissingRoom is returned when the room identifier is empty.
	ErrMissingRoom = errors.New("missing conversation id")
	// ErrEmptyText is returned when a message body is empty after trimming.
	ErrEmptyText = errors.New("empty message text")
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a validated client event. The concrete types are Join,
// Leave, Send and Typing.
type Inbound interface {
	inbound()
}

// Join asks to add the connection to a room.
type Join struct {
	RoomID string
}

// Leave asks to remove the connection from a room.
type Leave struct {
	RoomID string
}

// Send carries a chat message for a room.
type Send struct {
	RoomID   string
	Text     string
	SenderID string
}

// Typing carries a typing or stop-typing signal.
type Typing struct {
	RoomID string
	UserID string
	Active bool
}

func (Join) inbound()   {}
func (Leave) inbound()  {}
func (Send) inbound()   {}
func (Typing) inbound() {}

type sendPayload struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	SenderID       string `json:"senderId"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagePayload is the data of an outbound receive_message event.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
}

// TypingPayload is the data of outbound typing and stop_typing events.
type TypingPayload struct {
	UserID string `json:"userId"`
}

// ConnectPayload is the data of the outbound connect event.
type ConnectPayload struct {
	ID string `json:"id"`
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Event {
	case EventJoinConversation:
		roomID, err := decodeRoomID(env.Data)
		if err != nil {
			return nil, err
		}
		return Join{RoomID: roomID}, nil

	case EventLeaveConversation:
		roomID, err := decodeRoomID(env.Data)
		if err != nil {
			return nil, err
		}
		return Leave{RoomID: roomID}, nil

	case EventSendMessage:
		var p sendPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.ConversationID) == "" {
			return nil, ErrMissingRoom
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, ErrEmptyText
		}
		return Send{RoomID: p.ConversationID, Text: p.Text, SenderID: p.SenderID}, nil

	case EventTyping, EventStopTyping:
		var p typingPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.ConversationID) == "" {
			return nil, ErrMissingRoom
		}
		return Typing{RoomID: p.ConversationID, UserID: p.UserID, Active: env.Event == EventTyping}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func decodeRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := decodeData(data, &roomID); err != nil {
		return "", err
	}
	if strings.TrimSpace(roomID) == "" {
		return "", ErrMissingRoom
	}
	return roomID, nil
}

// EncodeEvent builds an outbound frame.
func EncodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func messagePayload(m Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt.UTC().Format(TimestampLayout),
	}
}
