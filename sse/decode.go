package sse

import (
	"bytes"
	"encoding/json"

	"github.com/justapithecus/sluice/types"
)

// doneSentinel is the literal payload some upstreams emit as an explicit
// end-of-stream marker instead of a structured terminal field.
var doneSentinel = []byte("[DONE]")

// wirePayload is the upstream event document. The schema is owned by the
// agent runtime; only the fields this engine consumes are declared, and
// unknown fields are ignored.
type wirePayload struct {
	Text      *string        `json:"text"`
	Done      bool           `json:"done"`
	Artifacts []wireArtifact `json:"artifacts"`
}

// wireArtifact is one entry of the well-known artifacts field. Exactly one
// of Data (inline base64) or URL (deferred locator) is expected.
type wireArtifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	URL         string `json:"url"`
}

// Decode parses one event's payload into an agent message.
//
// Returns (nil, nil) for heartbeat events that carry no text, no artifacts,
// and no terminal marker. Returns a *DecodeError for a malformed payload;
// each event is an independent unit of failure and a decode error must not
// stop processing of subsequent events.
func Decode(ev Event) (*types.AgentMessage, error) {
	payload := bytes.TrimSpace(ev.Data)
	if len(payload) == 0 {
		return nil, nil
	}

	if bytes.Equal(payload, doneSentinel) {
		return &types.AgentMessage{Terminal: true}, nil
	}

	var wire wirePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, &DecodeError{Seq: ev.Seq, Msg: "malformed event payload", Err: err}
	}

	msg := &types.AgentMessage{
		Text:     wire.Text,
		Terminal: wire.Done,
	}
	for _, a := range wire.Artifacts {
		ref, ok := toArtifactRef(a)
		if !ok {
			continue
		}
		msg.Artifacts = append(msg.Artifacts, ref)
	}

	if msg.IsHeartbeat() {
		return nil, nil
	}
	return msg, nil
}

// toArtifactRef converts a wire artifact entry into a typed reference.
// Entries with neither inline data nor a locator carry nothing fetchable
// and are skipped.
func toArtifactRef(a wireArtifact) (types.ArtifactRef, bool) {
	switch {
	case a.Data != "":
		return types.ArtifactRef{
			Kind:      types.ArtifactInline,
			Name:      a.Name,
			MediaType: a.ContentType,
			Data:      a.Data,
		}, true
	case a.URL != "":
		return types.ArtifactRef{
			Kind:      types.ArtifactDeferred,
			Name:      a.Name,
			MediaType: a.ContentType,
			URL:       a.URL,
		}, true
	default:
		return types.ArtifactRef{}, false
	}
}
