// Package ledger persists finished sessions to a Lode dataset.
//
// Each terminal session appends one session record, plus one artifact
// record per resolved reference, into a Hive-partitioned dataset keyed
// by day and session id. The ledger is the queryable history behind
// `sluice sessions`; raw artifact bytes live in the store, referenced
// here by storage path.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/sluice/session"
	"github.com/justapithecus/sluice/types"
)

// DatasetID is the fixed Lode dataset identifier.
const DatasetID = "sluice"

// SchemaVersion is the record schema version.
const SchemaVersion = "1"

// Record kind discriminators.
const (
	RecordKindSession  = "session"
	RecordKindArtifact = "artifact"
)

// DeriveDay computes the day partition key (YYYY-MM-DD, UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SessionRecord is the storage form of one finished session.
type SessionRecord struct {
	RecordKind     string `json:"record_kind"`
	SchemaVersion  string `json:"schema_version"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Transport      string `json:"transport"`
	Endpoint       string `json:"endpoint,omitempty"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	Day            string `json:"day"`
	EndedAt        string `json:"ended_at"` // RFC 3339
	DurationMs     int64  `json:"duration_ms"`

	FinalText         string `json:"final_text"`
	UpdatesEmitted    int64  `json:"updates_emitted"`
	MessageBoundaries int64  `json:"message_boundaries"`

	ArtifactsCollected int64 `json:"artifacts_collected"`
	ArtifactsResolved  int64 `json:"artifacts_resolved"`
	ArtifactsFailed    int64 `json:"artifacts_failed"`

	CapturePath string `json:"capture_path,omitempty"`
}

// ArtifactRecord is the storage form of one resolved artifact reference.
// Bytes live in the store; StoragePath points at them.
type ArtifactRecord struct {
	RecordKind  string `json:"record_kind"`
	SessionID   string `json:"session_id"`
	Day         string `json:"day"`
	Name        string `json:"name"`
	MediaType   string `json:"media_type,omitempty"`
	Kind        string `json:"kind"` // inline or deferred
	URL         string `json:"url,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	StoragePath string `json:"storage_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewSessionRecord builds a session record from a report.
func NewSessionRecord(report *session.Report, finalText string, endedAt time.Time) *SessionRecord {
	rec := &SessionRecord{
		RecordKind:     RecordKindSession,
		SchemaVersion:  SchemaVersion,
		SessionID:      report.SessionID,
		ConversationID: report.ConversationID,
		Transport:      report.Transport,
		Endpoint:       report.Endpoint,
		State:          report.State,
		Error:          report.Error,
		Day:            DeriveDay(endedAt),
		EndedAt:        endedAt.UTC().Format(time.RFC3339),
		DurationMs:     report.DurationMs,
		FinalText:      finalText,
		CapturePath:    report.CapturePath,
	}
	if report.Reconciler != nil {
		rec.UpdatesEmitted = report.Reconciler.Emitted
		rec.MessageBoundaries = report.Reconciler.Boundaries
	}
	if report.Artifacts != nil {
		rec.ArtifactsCollected = report.Artifacts.Collected
	}
	if report.Metrics != nil {
		rec.ArtifactsResolved = report.Metrics.ArtifactsResolved
		rec.ArtifactsFailed = report.Metrics.ArtifactsFailed
	}
	return rec
}

// NewArtifactRecord builds an artifact record from a resolved artifact.
func NewArtifactRecord(sessionID, day, storagePath string, ra types.ResolvedArtifact) *ArtifactRecord {
	rec := &ArtifactRecord{
		RecordKind:  RecordKindArtifact,
		SessionID:   sessionID,
		Day:         day,
		Name:        ra.Ref.Name,
		MediaType:   ra.MediaType,
		Kind:        string(ra.Ref.Kind),
		URL:         ra.Ref.URL,
		SizeBytes:   int64(len(ra.Data)),
		StoragePath: storagePath,
	}
	if ra.Err != nil {
		rec.Error = ra.Err.Error()
	}
	return rec
}

// Ledger appends and queries session history.
type Ledger struct {
	dataset lode.Dataset
}

// New creates a ledger over the given store factory.
// Use lode.NewMemoryFactory() for testing.
func New(factory lode.StoreFactory) (*Ledger, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout("day", "session_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, DatasetID)
	}
	return &Ledger{dataset: ds}, nil
}

// NewFS creates a ledger with filesystem storage rooted at rootPath.
func NewFS(rootPath string) (*Ledger, error) {
	return New(lode.NewFSFactory(rootPath))
}

// Append writes one session record and its artifact records in a single
// snapshot.
func (l *Ledger) Append(ctx context.Context, rec *SessionRecord, artifacts []*ArtifactRecord) error {
	records := make([]any, 0, 1+len(artifacts))
	records = append(records, sessionRecordMap(rec))
	for _, ar := range artifacts {
		records = append(records, artifactRecordMap(ar))
	}

	if _, err := l.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/day=%s/session_id=%s", DatasetID, rec.Day, rec.SessionID))
	}
	return nil
}

// sessionRecordMap converts a session record to the map form the Lode
// HiveLayout requires.
func sessionRecordMap(rec *SessionRecord) map[string]any {
	m := map[string]any{
		"record_kind":         rec.RecordKind,
		"schema_version":      rec.SchemaVersion,
		"session_id":          rec.SessionID,
		"conversation_id":     rec.ConversationID,
		"transport":           rec.Transport,
		"state":               rec.State,
		"day":                 rec.Day,
		"ended_at":            rec.EndedAt,
		"duration_ms":         rec.DurationMs,
		"final_text":          rec.FinalText,
		"updates_emitted":     rec.UpdatesEmitted,
		"message_boundaries":  rec.MessageBoundaries,
		"artifacts_collected": rec.ArtifactsCollected,
		"artifacts_resolved":  rec.ArtifactsResolved,
		"artifacts_failed":    rec.ArtifactsFailed,
	}
	if rec.Endpoint != "" {
		m["endpoint"] = rec.Endpoint
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	if rec.CapturePath != "" {
		m["capture_path"] = rec.CapturePath
	}
	return m
}

// artifactRecordMap converts an artifact record to map form.
func artifactRecordMap(rec *ArtifactRecord) map[string]any {
	m := map[string]any{
		"record_kind": rec.RecordKind,
		"session_id":  rec.SessionID,
		"day":         rec.Day,
		"name":        rec.Name,
		"kind":        rec.Kind,
		"size_bytes":  rec.SizeBytes,
	}
	if rec.MediaType != "" {
		m["media_type"] = rec.MediaType
	}
	if rec.URL != "" {
		m["url"] = rec.URL
	}
	if rec.StoragePath != "" {
		m["storage_path"] = rec.StoragePath
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	return m
}
