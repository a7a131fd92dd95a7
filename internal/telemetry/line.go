package telemetry

import (
	"encoding/json"
	"fmt"
)

// ParseLine parses one JSON-encoded telemetry line from the live text
// protocol. A line qualifies as telemetry when it is a single {...} JSON
// object; anything else on the link is terminal output.
func ParseLine(line string) (Packet, error) {
	var p Packet
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return Packet{}, fmt.Errorf("malformed telemetry line: %w", err)
	}
	return p, nil
}
