// Package beacon defines the liveness payload and the loop that publishes it.
package beacon

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload is the liveness message published on every beat. Only SentAt and
// StartedAt are part of the base protocol; the rest is diagnostic.
type Payload struct {
	SentAt     int64  `msgpack:"time"`
	StartedAt  int64  `msgpack:"beating_since"`
	InstanceID string `msgpack:"id,omitempty"`
	Hostname   string `msgpack:"host,omitempty"`
	BootTime   int64  `msgpack:"boot_time,omitempty"`
}

// Marshal encodes the payload as MessagePack.
func (p Payload) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a MessagePack payload.
func Unmarshal(data []byte) (Payload, error) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return p, nil
}

// RestartedSince reports whether p comes from a different run of the beacon
// than prev.
func (p Payload) RestartedSince(prev Payload) bool {
	if p.InstanceID != "" && prev.InstanceID != "" && p.InstanceID != prev.InstanceID {
		return true
	}
	return p.StartedAt != prev.StartedAt
}
