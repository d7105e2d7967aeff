package protocol

import (
	"bytes"
	"encoding/json"
)

// DecodeFrames splits one transport delivery into envelopes. The server
// coalesces queued frames into a single websocket message joined by newlines,
// so a delivery may hold any number of envelopes. Each line is parsed
// independently; a malformed line is skipped and counted so its siblings still
// get through. Blank lines are ignored.
func DecodeFrames(data []byte) (envelopes []Envelope, malformed int) {
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			malformed++
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, malformed
}

// EncodeOutgoing serializes an outbound envelope as one frame.
func EncodeOutgoing(out Outgoing) ([]byte, error) {
	return json.Marshal(out)
}

// DecodePayload decodes an envelope payload into the given struct.
func DecodePayload(env Envelope, v any) error {
	return json.Unmarshal(env.Data, v)
}
