package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoSessions is returned when no session records match a query.
var ErrNoSessions = errors.New("no session records found")

// Query filters session history. Empty fields match everything.
type Query struct {
	// Day restricts results to one day partition (YYYY-MM-DD).
	Day string
	// SessionID restricts results to one session.
	SessionID string
	// State restricts results to one terminal state name.
	State string
	// Limit caps the number of returned records, newest first. Zero
	// means no limit.
	Limit int
}

// Sessions returns session records matching the query, newest first.
func (l *Ledger) Sessions(ctx context.Context, q Query) ([]*SessionRecord, error) {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, DatasetID+"/snapshots")
	}

	var out []*SessionRecord
	// Snapshots are ordered by creation time. Iterate in reverse so the
	// newest sessions come out first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]

		// Hive path segments give a coarse pre-filter. Record fields are
		// authoritative below.
		if !snapshotMatches(snap, "day", q.Day) {
			continue
		}
		if !snapshotMatches(snap, "session_id", q.SessionID) {
			continue
		}

		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", DatasetID, snap.ID))
		}

		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindSession {
				continue
			}
			rec := sessionRecordFromMap(record)
			if q.Day != "" && rec.Day != q.Day {
				continue
			}
			if q.SessionID != "" && rec.SessionID != q.SessionID {
				continue
			}
			if q.State != "" && rec.State != q.State {
				continue
			}
			out = append(out, rec)
		}

		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}

	// Records inside one snapshot carry no ordering guarantee, so sort
	// the full result set by end time, newest first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndedAt > out[j].EndedAt
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// LatestSession returns the most recent session record matching the
// query, or ErrNoSessions.
func (l *Ledger) LatestSession(ctx context.Context, q Query) (*SessionRecord, error) {
	q.Limit = 1
	recs, err := l.Sessions(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoSessions
	}
	return recs[0], nil
}

// Artifacts returns the artifact records of one session.
func (l *Ledger) Artifacts(ctx context.Context, sessionID string) ([]*ArtifactRecord, error) {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, DatasetID+"/snapshots")
	}

	var out []*ArtifactRecord
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "session_id", sessionID) {
			continue
		}
		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", DatasetID, snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindArtifact {
				continue
			}
			if toString(record["session_id"]) != sessionID {
				continue
			}
			out = append(out, artifactRecordFromMap(record))
		}
	}
	return out, nil
}

// sessionRecordFromMap rebuilds a session record from its stored map form.
func sessionRecordFromMap(m map[string]any) *SessionRecord {
	return &SessionRecord{
		RecordKind:         toString(m["record_kind"]),
		SchemaVersion:      toString(m["schema_version"]),
		SessionID:          toString(m["session_id"]),
		ConversationID:     toString(m["conversation_id"]),
		Transport:          toString(m["transport"]),
		Endpoint:           toString(m["endpoint"]),
		State:              toString(m["state"]),
		Error:              toString(m["error"]),
		Day:                toString(m["day"]),
		EndedAt:            toString(m["ended_at"]),
		DurationMs:         toInt64(m["duration_ms"]),
		FinalText:          toString(m["final_text"]),
		UpdatesEmitted:     toInt64(m["updates_emitted"]),
		MessageBoundaries:  toInt64(m["message_boundaries"]),
		ArtifactsCollected: toInt64(m["artifacts_collected"]),
		ArtifactsResolved:  toInt64(m["artifacts_resolved"]),
		ArtifactsFailed:    toInt64(m["artifacts_failed"]),
		CapturePath:        toString(m["capture_path"]),
	}
}

// artifactRecordFromMap rebuilds an artifact record from its stored map form.
func artifactRecordFromMap(m map[string]any) *ArtifactRecord {
	return &ArtifactRecord{
		RecordKind:  toString(m["record_kind"]),
		SessionID:   toString(m["session_id"]),
		Day:         toString(m["day"]),
		Name:        toString(m["name"]),
		MediaType:   toString(m["media_type"]),
		Kind:        toString(m["kind"]),
		URL:         toString(m["url"]),
		SizeBytes:   toInt64(m["size_bytes"]),
		StoragePath: toString(m["storage_path"]),
		Error:       toString(m["error"]),
	}
}

// snapshotMatches checks whether any file path in the snapshot manifest
// carries an exact key=value Hive partition segment. An empty value
// matches everything.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded JSON number to int64. JSONL decoding yields
// float64 for all numbers.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
