package ws

import "encoding/json"

// Envelope is the wire format for gateway traffic in both directions.
// ID is an optional client correlation id echoed in the ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}
