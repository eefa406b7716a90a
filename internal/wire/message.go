package wire

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tether/internal/value"
)

// Event is a client-side interaction reported to the server.
type Event struct {
	ID      string       `json:"id"`
	Target  string       `json:"widget"`
	Kind    string       `json:"type"`
	Payload value.Object `json:"data,omitempty"`
}

// Instruction is a server-emitted change to apply to the presentation.
type Instruction struct {
	ID      string
	Kind    string
	Payload value.Object
}

// Target returns the "target" field of the payload, if any.
func (in Instruction) Target() string {
	s, _ := in.Payload.String("target")
	return s
}

// MarshalJSON flattens the instruction back into a single object.
func (in Instruction) MarshalJSON() ([]byte, error) {
	obj := make(value.Object, len(in.Payload)+2)
	for k, v := range in.Payload {
		obj[k] = v
	}
	obj["id"] = value.String(in.ID)
	obj["action"] = value.String(in.Kind)
	return obj.MarshalJSON()
}

// UnmarshalJSON lifts id and action out of a flat instruction object.
//
// A non-string id is kept as its JSON text so that identifier decoding
// reports it as malformed instead of failing the whole batch.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	var obj value.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("instruction: %w", err)
	}

	in.ID = scalarText(obj["id"])
	in.Kind = scalarText(obj["action"])
	in.Payload = obj.Without("id", "action")
	return nil
}

func scalarText(v value.Value) string {
	switch val := v.(type) {
	case nil:
		return ""
	case value.String:
		return string(val)
	default:
		data, err := value.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Result is the outcome of a server response decode.
type Result int

const (
	// ResultUpdates carries instructions and an acknowledgment.
	ResultUpdates Result = iota
	// ResultUnknownClient means the server no longer knows the identity.
	ResultUnknownClient
)

// BootstrapResponse is the reply to new-instance.
type BootstrapResponse struct {
	ID string `json:"id"`
}

// SyncResponse is the reply to synchronize.
//
// The reference server always writes result:false and overwrites it with
// updates on success, so the presence of updates decides the outcome.
type SyncResponse struct {
	Updates   []Instruction `json:"updates,omitempty"`
	LastEvent string        `json:"lastEvent,omitempty"`
	Result    *bool         `json:"result,omitempty"`

	hasUpdates bool
}

// UnmarshalJSON records whether the updates field was present.
func (r *SyncResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Updates   *[]Instruction `json:"updates"`
		LastEvent *string        `json:"lastEvent"`
		Result    *bool          `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = SyncResponse{Result: raw.Result}
	if raw.Updates != nil {
		r.Updates = *raw.Updates
		r.hasUpdates = true
	}
	if raw.LastEvent != nil {
		r.LastEvent = *raw.LastEvent
	}
	return nil
}

// Outcome classifies the response.
func (r SyncResponse) Outcome() Result {
	if !r.hasUpdates && r.Result != nil && !*r.Result {
		return ResultUnknownClient
	}
	return ResultUpdates
}

// NewSyncResponse builds a successful reply.
func NewSyncResponse(updates []Instruction, lastEvent string) SyncResponse {
	if updates == nil {
		updates = []Instruction{}
	}
	return SyncResponse{Updates: updates, LastEvent: lastEvent, hasUpdates: true}
}

// UnknownClientResponse builds the reply for an identity the server does not
// recognise.
func UnknownClientResponse() SyncResponse {
	f := false
	return SyncResponse{Result: &f}
}

// MarshalJSON always writes updates for successful replies, even when empty.
func (r SyncResponse) MarshalJSON() ([]byte, error) {
	if r.Outcome() == ResultUnknownClient {
		return []byte(`{"result":false}`), nil
	}
	updates := r.Updates
	if updates == nil {
		updates = []Instruction{}
	}
	out := struct {
		Updates   []Instruction `json:"updates"`
		LastEvent string        `json:"lastEvent"`
	}{updates, r.LastEvent}
	return json.Marshal(out)
}

// DecodeBootstrap parses a new-instance reply. The id must be present.
func DecodeBootstrap(raw []byte) (BootstrapResponse, error) {
	var resp BootstrapResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return BootstrapResponse{}, fmt.Errorf("decode bootstrap response: %w", err)
	}
	if resp.ID == "" {
		return BootstrapResponse{}, fmt.Errorf("decode bootstrap response: missing id")
	}
	return resp, nil
}

// DecodeSync parses a synchronize reply.
func DecodeSync(raw []byte) (SyncResponse, error) {
	var resp SyncResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SyncResponse{}, fmt.Errorf("decode sync response: %w", err)
	}
	return resp, nil
}
