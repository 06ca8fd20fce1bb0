// Package action is the closed registry of event actions and their handlers.
package action

import (
	"context"
	"errors"
	"fmt"

	"relay/internal/event/models"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
)

// Action is a supported event action. The set is closed: adding one means
// adding a constant, a handler and a case in Registry.Resolve.
type Action string

const (
	NotifyUser Action = "notify_user"
	SendMail   Action = "send_mail"
	SendSMS    Action = "send_sms"
)

// All lists the supported actions.
func All() []Action {
	return []Action{NotifyUser, SendMail, SendSMS}
}

func (a Action) String() string { return string(a) }

// ErrUnknownAction matches every UnknownActionError.
var ErrUnknownAction = errors.New("unknown action")

// UnknownActionError is a configuration error: it is never retried.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Name)
}

func (e *UnknownActionError) Is(target error) bool { return target == ErrUnknownAction }

func (e *UnknownActionError) ErrorType() string { return "UnknownActionError" }

// ParseAction maps a wire name to an Action.
func ParseAction(name string) (Action, error) {
	switch Action(name) {
	case NotifyUser, SendMail, SendSMS:
		return Action(name), nil
	}
	return "", dErrors.Wrap(&UnknownActionError{Name: name}, dErrors.CodeConfiguration, fmt.Sprintf("unknown action %q", name))
}

// Invocation carries everything a handler needs as named fields.
type Invocation struct {
	EventID      domain.EventID
	Owner        domain.UserID
	Body         models.Body
	Notification models.NotificationConfig
	Attempt      int
}

// Payload is the action-specific part of the body.
func (i Invocation) Payload() map[string]any {
	if i.Body.Payload == nil {
		return map[string]any{}
	}
	return i.Body.Payload
}

// Target is the user a notify_user invocation addresses: the body's user,
// falling back to the event owner.
func (i Invocation) Target() domain.UserID {
	if i.Body.User != "" {
		return domain.UserID(i.Body.User)
	}
	return i.Owner
}

// Result describes a successful execution.
type Result struct {
	Detail string
}

// Handler executes one action. Any returned error is treated as transient
// by the dispatch engine.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}
