package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Action names a request kind.
type Action string

const (
	ActionNewInstance Action = "new-instance"
	ActionSynchronize Action = "synchronize"
	ActionTerminate   Action = "terminate"
)

// legacyActions maps the action names used by older clients.
var legacyActions = map[string]Action{
	"new instance": ActionNewInstance,
	"kill":         ActionTerminate,
}

// ParseAction resolves an action name, accepting legacy spellings.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionNewInstance, ActionSynchronize, ActionTerminate:
		return a, true
	}
	a, ok := legacyActions[s]
	return a, ok
}

// Form field names.
const (
	FieldAction     = "action"
	FieldClient     = "client"
	FieldEvents     = "events"
	FieldLastUpdate = "lastUpdate"
)

// ErrUnknownAction is returned by ParseForm for unrecognised actions.
var ErrUnknownAction = errors.New("unknown action")

// Request is one client-to-server message.
type Request struct {
	Action     Action  `json:"action"`
	Client     string  `json:"client,omitempty"`
	Events     []Event `json:"events,omitempty"`
	LastUpdate string  `json:"lastUpdate,omitempty"`
}

// NewInstance builds a bootstrap request.
func NewInstance() Request {
	return Request{Action: ActionNewInstance}
}

// Synchronize builds a synchronization request. A nil events slice is sent
// as an empty array.
func Synchronize(client string, events []Event, lastUpdate string) Request {
	if events == nil {
		events = []Event{}
	}
	return Request{Action: ActionSynchronize, Client: client, Events: events, LastUpdate: lastUpdate}
}

// Terminate builds a teardown request.
func Terminate(client string) Request {
	return Request{Action: ActionTerminate, Client: client}
}

// Form encodes the request as HTTP form values.
func (r Request) Form() (url.Values, error) {
	form := url.Values{}
	form.Set(FieldAction, string(r.Action))
	if r.Client != "" {
		form.Set(FieldClient, r.Client)
	}
	if r.Action == ActionSynchronize {
		events := r.Events
		if events == nil {
			events = []Event{}
		}
		data, err := json.Marshal(events)
		if err != nil {
			return nil, fmt.Errorf("encode events: %w", err)
		}
		form.Set(FieldEvents, string(data))
	}
	if r.LastUpdate != "" {
		form.Set(FieldLastUpdate, r.LastUpdate)
	}
	return form, nil
}

// ParseForm decodes a request from HTTP form values.
func ParseForm(form url.Values) (Request, error) {
	action, ok := ParseAction(form.Get(FieldAction))
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownAction, form.Get(FieldAction))
	}

	req := Request{
		Action:     action,
		Client:     form.Get(FieldClient),
		LastUpdate: form.Get(FieldLastUpdate),
	}
	if raw := form.Get(FieldEvents); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Events); err != nil {
			return Request{}, fmt.Errorf("decode events: %w", err)
		}
	}
	return req, nil
}
