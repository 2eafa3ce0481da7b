package ddmsg

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRequeueRoundTrip(t *testing.T) {
	cases := []Requeue{
		{Enabled: false},
		{Enabled: true},
		{Enabled: true, HasPrio: true, Priority: 3},
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		var got Requeue
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}

		if got != want {
			t.Errorf("round trip mismatch: got %+v, want %+v (wire %s)", got, want, data)
		}
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"message":"hi","queue":"q1","priority":5,"queue_number":2,"id":"abc","future_field":"xyz"}`)

	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Message != "hi" || m.Queue != "q1" || m.Priority != 5 || m.Seq != 2 {
		t.Errorf("unexpected decode result: %+v", m)
	}
}

func TestUpdateMergesPartial(t *testing.T) {
	m := &Message{Message: "old", Queue: "q1", Priority: 1, Published: time.Now()}

	if err := m.Update(map[string]any{"message": "new", "priority": 9}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if m.Message != "new" || m.Priority != 9 || m.Queue != "q1" {
		t.Errorf("update did not merge as expected: %+v", m)
	}
}
