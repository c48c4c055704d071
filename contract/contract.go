//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and restart metrics.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the egress of one session.
// Consume must not block longer than ctx allows.
type EventSink interface {
	Consume(ctx context.Context, e event.Outbound) error
	Close()
}

// IRegistry binds live sessions to user channels.
type IRegistry interface {
	Bind(sessionID string, userID domain.UserID, sink EventSink) error
	Unbind(sessionID string)
	ChannelFor(userID domain.UserID) domain.Channel
	UserOf(sessionID string) (domain.UserID, bool)
	SinksFor(channel domain.Channel, exceptSession string) []EventSink
	CloseUser(userID domain.UserID) int
}

// Backplane carries deliveries to the instance(s) holding the sessions.
// Publish is fire-and-forget: an error only means the delivery was dropped.
type Backplane interface {
	Publish(ctx context.Context, delivery event.Delivery) error
}
