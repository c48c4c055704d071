// Package ws is the websocket face of the relay: it decodes inbound events,
// runs them against the services and fans the results out.
package ws

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	SendMessageEvent        = "sendMessage"
	CreateGroupEvent        = "createGroup"
	TypingEvent             = "typing"
	FetchMessagesEvent      = "fetchMessages"
	DeleteChatEvent         = "deleteChat"
	WebRTCOfferEvent        = "webrtc-offer"
	WebRTCAnswerEvent       = "webrtc-answer"
	WebRTCIceCandidateEvent = "webrtc-ice-candidate"
)

// Inbound is the closed set of events a client can emit. Every variant
// dispatches to its own Handlers method, so a new variant does not compile
// until the gateway handles it.
type Inbound interface {
	Name() string
	failure() event.Name
	dispatch(ctx context.Context, h Handlers, s *Session) error
}

type Handlers interface {
	SendMessage(ctx context.Context, s *Session, in SendMessage) error
	CreateGroup(ctx context.Context, s *Session, in CreateGroup) error
	Typing(ctx context.Context, s *Session, in Typing) error
	FetchMessages(ctx context.Context, s *Session, in FetchMessages) error
	DeleteChat(ctx context.Context, s *Session, in DeleteChat) error
	Signal(ctx context.Context, s *Session, in Signal) error
}

// ParticipantRef accepts a participant either as a bare id or as a user
// object carrying an "id" field.
type ParticipantRef domain.UserID

func (p *ParticipantRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var user struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}
		data = []byte(user.ID)
	}
	id, err := strconv.ParseInt(string(bytes.Trim(data, `"`)), 10, 64)
	if err != nil {
		return fmt.Errorf("participant %s: %w", data, err)
	}
	*p = ParticipantRef(id)
	return nil
}

func participantIDs(refs []ParticipantRef) []domain.UserID {
	ids := make([]domain.UserID, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, domain.UserID(ref))
	}
	return ids
}

type SendMessage struct {
	SenderID     domain.UserID    `json:"senderId" validate:"required"`
	Content      string           `json:"content" validate:"max=10000"`
	ChatID       domain.ChatID    `json:"chatId"`
	ReceiverID   domain.UserID    `json:"receiverId"`
	MsgType      string           `json:"msgType" validate:"omitempty,oneof=one-to-one group"`
	Image        *string          `json:"image"`
	Participants []ParticipantRef `json:"participants"`
}

func (SendMessage) Name() string { return SendMessageEvent }
func (SendMessage) failure() event.Name { return event.MessageError }
func (in SendMessage) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.SendMessage(ctx, s, in)
}

type CreateGroup struct {
	GroupName    string           `json:"name" validate:"max=100"`
	Participants []ParticipantRef `json:"participants"`
}

func (CreateGroup) Name() string { return CreateGroupEvent }
func (CreateGroup) failure() event.Name { return event.GroupCreationError }
func (in CreateGroup) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.CreateGroup(ctx, s, in)
}

type Typing struct {
	UserID       domain.UserID    `json:"userId" validate:"required"`
	ChatID       domain.ChatID    `json:"chatId"`
	Typing       bool             `json:"typing"`
	ReceiverID   domain.UserID    `json:"receiverId"`
	Participants []ParticipantRef `json:"participants"`
}

func (Typing) Name() string { return TypingEvent }
func (Typing) failure() event.Name { return event.TypingError }
func (in Typing) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.Typing(ctx, s, in)
}

// FetchMessages targets either a chat id or the direct chat of two users.
type FetchMessages struct {
	LoggedInUserID domain.UserID `json:"loggedInUserId"`
	OtherUserID    domain.UserID `json:"otherUserId"`
	ChatID         domain.ChatID `json:"chatId"`
}

func (FetchMessages) Name() string { return FetchMessagesEvent }
func (FetchMessages) failure() event.Name { return event.ErrorFetchingMessages }
func (in FetchMessages) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.FetchMessages(ctx, s, in)
}

type DeleteChat struct {
	ChatID domain.ChatID `json:"chatId" validate:"required"`
}

func (DeleteChat) Name() string { return DeleteChatEvent }
func (DeleteChat) failure() event.Name { return event.ChatDeletionError }
func (in DeleteChat) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.DeleteChat(ctx, s, in)
}

// Signal is a webrtc negotiation message. Payload is relayed untouched.
type Signal struct {
	Kind         event.Name      `json:"-"`
	TargetUserID domain.UserID   `json:"targetUserId" validate:"required"`
	Payload      json.RawMessage `json:"payload"`
}

func (in Signal) Name() string { return string(in.Kind) }
func (Signal) failure() event.Name { return event.SignalingError }
func (in Signal) dispatch(ctx context.Context, h Handlers, s *Session) error {
	return h.Signal(ctx, s, in)
}

// frame is the envelope of every message, in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decoder turns raw frames into Inbound events.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

// Decode returns the event of a frame. When the frame names a known event but
// its payload is invalid, the zero value of that event is returned along with
// the error so the failure can be reported under the right name.
func (d *Decoder) Decode(raw []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}

	var in Inbound
	var err error
	switch f.Event {
	case SendMessageEvent:
		in, err = decodeAs[SendMessage](d, f.Data)
	case CreateGroupEvent:
		in, err = decodeAs[CreateGroup](d, f.Data)
	case TypingEvent:
		in, err = decodeAs[Typing](d, f.Data)
	case FetchMessagesEvent:
		in, err = decodeAs[FetchMessages](d, f.Data)
	case DeleteChatEvent:
		in, err = decodeAs[DeleteChat](d, f.Data)
	case WebRTCOfferEvent, WebRTCAnswerEvent, WebRTCIceCandidateEvent:
		var signal Signal
		signal, err = decodeAs[Signal](d, f.Data)
		signal.Kind = event.Name(f.Event)
		in = signal
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, f.Event)
	}
	return in, err
}

func decodeAs[T any](d *Decoder, data json.RawMessage) (T, error) {
	var in T
	if len(data) == 0 {
		return in, fmt.Errorf("%w: missing data", errors.ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	if err := d.validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	return in, nil
}
