package queue

import (
	"strconv"
	"strings"
)

// Transport header names understood by the pipeline
const (
	HeaderSendTimestampNs = "send_timestamp_ns"
	HeaderMessageID       = "message_id"
	HeaderSource          = "source"
)

// UnknownSource is reported when a message carries no source header.
const UnknownSource = "unknown"

func (m Message) header(key string) string {
	return strings.TrimSpace(m.Headers[key])
}

// SendTimestampNs returns the producer send time in nanoseconds. Missing or
// malformed values yield nil.
func (m Message) SendTimestampNs() *int64 {
	raw := m.header(HeaderSendTimestampNs)
	if raw == "" {
		return nil
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ns <= 0 {
		return nil
	}
	return &ns
}

// MessageID returns the message_id header, falling back to the record key.
func (m Message) MessageID() string {
	if id := m.header(HeaderMessageID); id != "" {
		return id
	}
	return m.Key
}

// Source returns the source header or UnknownSource.
func (m Message) Source() string {
	if source := m.header(HeaderSource); source != "" {
		return source
	}
	return UnknownSource
}
