// Package event defines what travels from the gateway to connected sessions.
package event

import "chat-relay/domain"

// Name is an outbound wire event name.
type Name string

const (
	MessageSent           Name = "messageSent"
	NewMessage            Name = "newMessage"
	MessageError          Name = "messageError"
	GroupCreatedAck       Name = "groupCreatedAck"
	GroupCreated          Name = "groupCreated"
	GroupCreationError    Name = "groupCreationError"
	ReceiveTyping         Name = "recievetyping"
	TypingError           Name = "typingError"
	MessagesFetched       Name = "messagesFetched"
	ErrorFetchingMessages Name = "errorFetchingMessages"
	ChatDeletedAck        Name = "chatDeletedAck"
	ChatDeleted           Name = "chatDeleted"
	ChatDeletionError     Name = "chatDeletionError"
	WebRTCOffer           Name = "webrtc-offer"
	WebRTCAnswer          Name = "webrtc-answer"
	WebRTCIceCandidate    Name = "webrtc-ice-candidate"
	SignalingError        Name = "signalingError"
	Connected             Name = "connected"
	GenericError          Name = "error"
)

// Outbound is one event pushed to a session. Payload must be JSON-encodable.
type Outbound struct {
	Name    Name `json:"event"`
	Payload any  `json:"data"`
}

func New(name Name, payload any) Outbound {
	return Outbound{Name: name, Payload: payload}
}

// Delivery addresses an Outbound to every session of a user channel.
// ExceptSession, when set, is skipped.
type Delivery struct {
	Channel       domain.Channel `json:"channel"`
	Event         Outbound       `json:"event"`
	ExceptSession string         `json:"exceptSession,omitempty"`
}

func To(userID domain.UserID, evt Outbound) Delivery {
	return Delivery{Channel: domain.ChannelFor(userID), Event: evt}
}
