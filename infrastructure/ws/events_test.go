package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParticipantRef_Forms(t *testing.T) {
	req := require.New(t)

	var refs []ParticipantRef
	err := json.Unmarshal([]byte(`[2, "3", {"id": 4, "name": "four"}, {"id": "5"}]`), &refs)

	req.NoError(err)
	req.Equal([]domain.UserID{2, 3, 4, 5}, participantIDs(refs))
}

func TestParticipantRef_Rejects_Garbage(t *testing.T) {
	req := require.New(t)

	for _, raw := range []string{`["abc"]`, `[{"name": "nobody"}]`, `[true]`} {
		var refs []ParticipantRef
		req.Error(json.Unmarshal([]byte(raw), &refs), raw)
	}
}

func TestDecoder_Decode(t *testing.T) {
	decoder := NewDecoder()

	testCases := []struct {
		name     string
		raw      string
		expected Inbound
	}{
		{
			name:     "direct message",
			raw:      `{"event":"sendMessage","data":{"senderId":1,"receiverId":2,"content":"hi","msgType":"one-to-one"}}`,
			expected: SendMessage{SenderID: 1, ReceiverID: 2, Content: "hi", MsgType: "one-to-one"},
		},
		{
			name:     "group creation with mixed participants",
			raw:      `{"event":"createGroup","data":{"name":"team","participants":[2,{"id":3}]}}`,
			expected: CreateGroup{GroupName: "team", Participants: []ParticipantRef{2, 3}},
		},
		{
			name:     "typing",
			raw:      `{"event":"typing","data":{"userId":1,"chatId":7,"typing":true}}`,
			expected: Typing{UserID: 1, ChatID: 7, Typing: true},
		},
		{
			name:     "history of a pair",
			raw:      `{"event":"fetchMessages","data":{"loggedInUserId":1,"otherUserId":2}}`,
			expected: FetchMessages{LoggedInUserID: 1, OtherUserID: 2},
		},
		{
			name:     "chat deletion",
			raw:      `{"event":"deleteChat","data":{"chatId":7}}`,
			expected: DeleteChat{ChatID: 7},
		},
		{
			name:     "webrtc answer keeps its kind",
			raw:      `{"event":"webrtc-answer","data":{"targetUserId":2,"payload":{"sdp":"x"}}}`,
			expected: Signal{Kind: event.WebRTCAnswer, TargetUserID: 2, Payload: json.RawMessage(`{"sdp":"x"}`)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)

			// When
			in, err := decoder.Decode([]byte(tc.raw))

			// Then
			req.NoError(err)
			req.Equal(tc.expected, in)
		})
	}
}

func TestDecoder_Failures(t *testing.T) {
	decoder := NewDecoder()

	testCases := []struct {
		name    string
		raw     string
		failure event.Name
		err     error
	}{
		{name: "not json", raw: `{`, failure: event.GenericError, err: errors.ErrMalformedPayload},
		{name: "unknown event", raw: `{"event":"joinRoom","data":{}}`, failure: event.GenericError, err: errors.ErrUnknownEvent},
		{name: "missing data", raw: `{"event":"sendMessage"}`, failure: event.MessageError, err: errors.ErrMalformedPayload},
		{name: "missing sender", raw: `{"event":"sendMessage","data":{"content":"hi"}}`, failure: event.MessageError, err: errors.ErrMalformedPayload},
		{name: "unknown message type", raw: `{"event":"sendMessage","data":{"senderId":1,"msgType":"broadcast"}}`, failure: event.MessageError, err: errors.ErrMalformedPayload},
		{name: "bad participant", raw: `{"event":"createGroup","data":{"name":"g","participants":["x"]}}`, failure: event.GroupCreationError, err: errors.ErrMalformedPayload},
		{name: "typing without user", raw: `{"event":"typing","data":{"typing":true}}`, failure: event.TypingError, err: errors.ErrMalformedPayload},
		{name: "chat id as text", raw: `{"event":"deleteChat","data":{"chatId":"abc"}}`, failure: event.ChatDeletionError, err: errors.ErrMalformedPayload},
		{name: "signal without target", raw: `{"event":"webrtc-offer","data":{"payload":{}}}`, failure: event.SignalingError, err: errors.ErrMalformedPayload},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)

			in, err := decoder.Decode([]byte(tc.raw))

			req.ErrorIs(err, tc.err)
			req.Equal(errors.CodeInvalidInput, errors.CodeOf(err))
			failure := event.GenericError
			if in != nil {
				failure = in.failure()
			}
			req.Equal(tc.failure, failure)
		})
	}
}

func TestErrorPayload_Hides_Internal_Causes(t *testing.T) {
	req := require.New(t)

	internal := toErrorPayload(errors.ErrWorkerPanic)
	notFound := toErrorPayload(errors.ErrChatNotFound)

	req.Equal(ErrorPayload{Error: "internal error", Code: errors.CodeInternal}, internal)
	req.Equal(ErrorPayload{Error: "chat not found", Code: errors.CodeNotFound}, notFound)
}
