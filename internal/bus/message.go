package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Field names of every stream entry written by this package.
const (
	fieldID        = "id"
	fieldTimestamp = "timestamp"
	fieldData      = "data"
)

// Envelope is the wire shape of a published message before it is assigned a stream position.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Data      json.RawMessage
}

// Message is a stream entry delivered to a consumer.
type Message struct {
	Stream     string
	ID         string // stream position, used for Ack
	EnvelopeID string
	Timestamp  time.Time
	Data       []byte
	Fields     map[string]interface{}
}

// DeadLetter is an entry read back from the dead-letter stream.
type DeadLetter struct {
	ID             string    `json:"id"`
	OriginalStream string    `json:"original_stream"`
	OriginalID     string    `json:"original_id"`
	OriginalData   string    `json:"original_data"`
	Error          string    `json:"error"`
	FailedAt       time.Time `json:"failed_at"`
	Agent          string    `json:"agent"`
}

// Decode unmarshals the message payload into v.
func Decode(msg Message, v any) error {
	if len(msg.Data) == 0 {
		return &DeserializationError{Stream: msg.Stream, ID: msg.ID, Err: errors.New("missing data field")}
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return &DeserializationError{Stream: msg.Stream, ID: msg.ID, Err: err}
	}
	return nil
}

func toMessage(stream string, x redis.XMessage) Message {
	msg := Message{
		Stream: stream,
		ID:     x.ID,
		Fields: x.Values,
	}
	msg.EnvelopeID = stringField(x.Values, fieldID)
	if ts := stringField(x.Values, fieldTimestamp); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.Timestamp = parsed
		}
	}
	if data := stringField(x.Values, fieldData); data != "" {
		msg.Data = []byte(data)
	}
	return msg
}

func toDeadLetter(x redis.XMessage) DeadLetter {
	dl := DeadLetter{
		ID:             x.ID,
		OriginalStream: stringField(x.Values, "original_stream"),
		OriginalID:     stringField(x.Values, "original_id"),
		OriginalData:   stringField(x.Values, "original_data"),
		Error:          stringField(x.Values, "error"),
		Agent:          stringField(x.Values, "agent"),
	}
	if ts := stringField(x.Values, "failed_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			dl.FailedAt = parsed
		}
	}
	return dl
}

func stringField(values map[string]interface{}, key string) string {
	raw, ok := values[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
