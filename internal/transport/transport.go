// Package transport provides the publish/subscribe primitive used by beacons
// and observers. A publisher fans frames out to every connected subscriber
// without waiting on any of them; a subscriber delivers frames for exactly one
// topic and reports a receive timeout as ErrTimeout.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout is returned by Receive when nothing arrived within the
	// subscriber's timeout. It is the expected outcome when a beacon is
	// silent, not a failure of the transport.
	ErrTimeout = errors.New("receive timed out")

	// ErrClosed is returned after Close has been called on a handle.
	ErrClosed = errors.New("transport closed")

	// ErrInvalidTopic rejects topics that are empty or contain whitespace.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrUnknownKind is returned by the factory for an unsupported backend.
	ErrUnknownKind = errors.New("unknown transport kind")

	// ErrInvalidName rejects beacon names that cannot form a broker subject.
	ErrInvalidName = errors.New("invalid beacon name")
)

// BindError reports that a publisher could not bind its port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Publisher sends payloads under a topic. Publish never blocks waiting for a
// subscriber and gets no acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber receives payloads published on a single topic.
type Subscriber interface {
	// Receive blocks until a payload arrives, the subscriber's timeout
	// elapses (ErrTimeout), ctx is cancelled (ctx.Err()) or the handle is
	// closed (ErrClosed).
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ValidateTopic checks that a topic can be used as a frame prefix.
func ValidateTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateName checks that a beacon name can be appended to a broker
// subject: no whitespace and no NATS wildcards.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n*>") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// brokerSubject is the broker channel on which the beacon called name
// publishes topic. Beacons sharing a broker and a topic stay apart.
func brokerSubject(topic, name string) string {
	return topic + "." + name
}

// encodeFrame prefixes payload with "topic ".
func encodeFrame(topic string, payload []byte) []byte {
	frame := make([]byte, 0, len(topic)+1+len(payload))
	frame = append(frame, topic...)
	frame = append(frame, ' ')
	return append(frame, payload...)
}

// decodeFrame splits a frame into its topic and payload.
func decodeFrame(frame []byte) (string, []byte, bool) {
	i := bytes.IndexByte(frame, ' ')
	if i <= 0 {
		return "", nil, false
	}
	return string(frame[:i]), frame[i+1:], true
}

// matchFrame returns the payload of frame if it was published on topic.
func matchFrame(frame []byte, topic string) ([]byte, bool) {
	t, payload, ok := decodeFrame(frame)
	if !ok || t != topic {
		return nil, false
	}
	return payload, true
}
