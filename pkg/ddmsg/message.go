// Package ddmsg defines the on-disk representation of a ddmq message.
package ddmsg

import (
	"encoding/json"
	"fmt"
	"time"
)

// Requeue captures the three states a message's requeue policy can be in:
// disabled, enabled at the message's own priority, or enabled at an
// explicit priority. On the wire it is either absent/false, true, or an
// integer priority, matching the original tool's bool-or-int field.
type Requeue struct {
	Enabled  bool
	Priority int
	HasPrio  bool
}

// Off reports whether requeueing is disabled.
func (r Requeue) Off() bool { return !r.Enabled }

func (r Requeue) MarshalJSON() ([]byte, error) {
	switch {
	case !r.Enabled:
		return json.Marshal(false)
	case r.HasPrio:
		return json.Marshal(r.Priority)
	default:
		return json.Marshal(true)
	}
}

func (r *Requeue) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		r.Enabled = asBool
		r.HasPrio = false
		r.Priority = 0
		return nil
	}

	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		r.Enabled = true
		r.HasPrio = true
		r.Priority = asInt
		return nil
	}

	return fmt.Errorf("ddmsg: requeue field must be a bool or an integer priority")
}

// Message is the JSON document stored in every ddmq message file.
type Message struct {
	Message        string    `json:"message"`
	Queue          string    `json:"queue"`
	Published      time.Time `json:"published"`
	Timeout        int       `json:"timeout"`
	ID             string    `json:"id"`
	Priority       int       `json:"priority"`
	Seq            int       `json:"queue_number"`
	Filename       string    `json:"filename"`
	Requeue        Requeue   `json:"requeue"`
	RequeueCounter int       `json:"requeue_counter"`
	RequeueLimit   *int      `json:"requeue_limit,omitempty"`
}

// Encode serializes a message to its on-disk JSON form.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a message file's contents. Unknown fields are ignored,
// matching the forward-compatible decode semantics of the original format.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ddmsg: decode: %w", err)
	}
	return &m, nil
}

// Update merges fields present in a partial JSON document into m, the same
// dict-merge semantics the broker uses when relabeling a message on requeue.
func (m *Message) Update(partial map[string]any) error {
	raw, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("ddmsg: update: %w", err)
	}
	return json.Unmarshal(raw, m)
}

// String renders the message as one line of key=value pairs in a fixed
// field order, for human-readable CLI output.
func (m *Message) String() string {
	return fmt.Sprintf(
		"id=%s queue=%s priority=%d queue_number=%d timeout=%d published=%s requeue=%v message=%s",
		m.ID, m.Queue, m.Priority, m.Seq, m.Timeout,
		m.Published.Format(time.RFC3339), m.Requeue, m.Message,
	)
}
