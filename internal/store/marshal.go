package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// requestValue converts a request into the object hashed for the exchange id
// and stored in the request column. Field names match the HTTP form.
func requestValue(req wire.Request) value.Object {
	obj := value.Object{wire.FieldAction: value.String(req.Action)}
	if req.Client != "" {
		obj[wire.FieldClient] = value.String(req.Client)
	}
	if req.Action == wire.ActionSynchronize {
		events := make(value.Array, len(req.Events))
		for i, ev := range req.Events {
			events[i] = eventValue(ev)
		}
		obj[wire.FieldEvents] = events
	}
	if req.LastUpdate != "" {
		obj[wire.FieldLastUpdate] = value.String(req.LastUpdate)
	}
	return obj
}

func eventValue(ev wire.Event) value.Object {
	obj := value.Object{
		"id":     value.String(ev.ID),
		"widget": value.String(ev.Target),
		"type":   value.String(ev.Kind),
	}
	if ev.Payload != nil {
		obj["data"] = ev.Payload
	}
	return obj
}

// marshalObject converts an object to canonical JSON TEXT for storage.
func marshalObject(obj value.Object) (string, error) {
	if obj == nil {
		obj = value.Object{}
	}
	data, err := value.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// nullableObject is marshalObject for optional columns: nil stores NULL.
func nullableObject(obj value.Object) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(obj)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// marshalResponse returns the response column text and its digest.
//
// A body that parses as JSON is stored canonically. Anything else is kept
// verbatim and digested as a JSON string, so garbage from a misbehaving
// server is still recorded.
func marshalResponse(ok bool, raw []byte) (text, digest sql.NullString, err error) {
	if !ok {
		return sql.NullString{}, sql.NullString{}, nil
	}

	var body value.Value = value.String(string(raw))
	stored := string(raw)
	if parsed, perr := value.Parse(raw); perr == nil {
		canonical, cerr := value.MarshalCanonical(parsed)
		if cerr == nil {
			body = parsed
			stored = string(canonical)
		}
	}

	d, err := value.Digest(value.DomainResponse, body)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal response: %w", err)
	}
	return sql.NullString{String: stored, Valid: true}, sql.NullString{String: d, Valid: true}, nil
}

// exchangeID computes the content-addressed id of one exchange.
func exchangeID(runToken string, seq int64, request value.Object) (string, error) {
	id, err := value.Digest(value.DomainRequest, value.Object{
		"run_token": value.String(runToken),
		"seq":       value.Int(seq),
		"request":   request,
	})
	if err != nil {
		return "", fmt.Errorf("exchange id: %w", err)
	}
	return id, nil
}

// unmarshalObject parses canonical JSON TEXT back into an object.
func unmarshalObject(data string) (value.Object, error) {
	if data == "" || data == "{}" {
		return value.Object{}, nil
	}
	var obj value.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}
