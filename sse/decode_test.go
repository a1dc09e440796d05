package sse

import (
	"testing"

	"github.com/justapithecus/sluice/types"
)

func TestDecode_TextSnapshot(t *testing.T) {
	msg, err := Decode(Event{Data: []byte(`{"text":"Hello world"}`), Seq: 1})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.HasText() {
		t.Fatal("HasText() = false, want true")
	}
	if got := msg.Snapshot(); got != "Hello world" {
		t.Errorf("Snapshot() = %q, want %q", got, "Hello world")
	}
	if msg.Terminal {
		t.Error("Terminal = true, want false")
	}
}

func TestDecode_EmptyTextIsPresent(t *testing.T) {
	// An empty string snapshot is valid: the stream has started but
	// produced no text yet. Must not be collapsed into "absent".
	msg, err := Decode(Event{Data: []byte(`{"text":""}`), Seq: 1})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg == nil {
		t.Fatal("empty text snapshot decoded to nil message")
	}
	if !msg.HasText() {
		t.Error("HasText() = false for empty string snapshot, want true")
	}
}

func TestDecode_DoneSentinel(t *testing.T) {
	msg, err := Decode(Event{Data: []byte("[DONE]"), Seq: 5})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.Terminal {
		t.Error("Terminal = false for [DONE], want true")
	}
	if msg.HasText() {
		t.Error("HasText() = true for [DONE], want false")
	}
}

func TestDecode_DoneField(t *testing.T) {
	msg, err := Decode(Event{Data: []byte(`{"text":"final","done":true}`), Seq: 3})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.Terminal {
		t.Error("Terminal = false, want true")
	}
	if got := msg.Snapshot(); got != "final" {
		t.Errorf("Snapshot() = %q, want %q", got, "final")
	}
}

func TestDecode_Heartbeat(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty object", `{}`},
		{"whitespace only", "  \t "},
		{"empty payload", ""},
		{"unknown fields only", `{"model":"x","usage":{"tokens":3}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(Event{Data: []byte(tt.payload), Seq: 1})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if msg != nil {
				t.Errorf("heartbeat decoded to %+v, want nil", msg)
			}
		})
	}
}

func TestDecode_Artifacts(t *testing.T) {
	payload := `{
		"text": "Here is your chart",
		"artifacts": [
			{"name": "chart.png", "content_type": "image/png", "data": "aGVsbG8="},
			{"name": "photo", "content_type": "image/jpeg", "url": "https://cdn.example.com/p.jpg"},
			{"name": "empty-entry", "content_type": "image/png"}
		]
	}`

	msg, err := Decode(Event{Data: []byte(payload), Seq: 2})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msg.Artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2 (empty entry skipped)", len(msg.Artifacts))
	}

	inline := msg.Artifacts[0]
	if inline.Kind != types.ArtifactInline {
		t.Errorf("artifact 0 Kind = %q, want inline", inline.Kind)
	}
	if inline.Data != "aGVsbG8=" {
		t.Errorf("artifact 0 Data = %q", inline.Data)
	}

	deferred := msg.Artifacts[1]
	if deferred.Kind != types.ArtifactDeferred {
		t.Errorf("artifact 1 Kind = %q, want deferred", deferred.Kind)
	}
	if deferred.URL != "https://cdn.example.com/p.jpg" {
		t.Errorf("artifact 1 URL = %q", deferred.URL)
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(Event{Data: []byte(`{"text": "unterminated`), Seq: 7})
	if err == nil {
		t.Fatal("malformed payload decoded without error")
	}
	if !IsDecodeError(err) {
		t.Errorf("IsDecodeError(%v) = false, want true", err)
	}
	if IsFatalFrameError(err) {
		t.Error("decode error must never be a fatal frame error")
	}
}
