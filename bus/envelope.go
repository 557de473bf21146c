package bus

import (
	"encoding/json"
	"fmt"
)

// FanoutEnvelope is the wire wrapper carried by every queued message:
// an outer object whose single Message field holds the JSON-encoded
// inner payload as a string. It mirrors the pub/sub fan-out format, so
// messages published through Publish and messages enqueued directly by
// the ingress router look identical to consumers.
type FanoutEnvelope struct {
	Message string `json:"Message"`
}

// Wrap encodes payload into a FanoutEnvelope body ready for Send.
func Wrap(payload []byte) ([]byte, error) {
	body, err := json.Marshal(FanoutEnvelope{Message: string(payload)})
	if err != nil {
		return nil, fmt.Errorf("bus: wrap envelope: %w", err)
	}
	return body, nil
}

// Unwrap parses an envelope body and returns the inner payload bytes.
// The inner string is returned verbatim; callers parse it as JSON.
func Unwrap(body []byte) ([]byte, error) {
	var env FanoutEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bus: unwrap envelope: %w", err)
	}
	if env.Message == "" {
		return nil, fmt.Errorf("bus: unwrap envelope: empty Message field")
	}
	return []byte(env.Message), nil
}
