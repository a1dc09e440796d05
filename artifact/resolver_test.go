package artifact

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/sluice/types"
)

func TestResolver_InlineBase64(t *testing.T) {
	r := NewResolver(ResolverConfig{})

	ref := types.ArtifactRef{
		Kind:      types.ArtifactInline,
		MediaType: "image/png",
		Data:      base64.StdEncoding.EncodeToString([]byte("png-bytes")),
	}

	results := r.ResolveAll(context.Background(), []types.ArtifactRef{ref})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Resolved() {
		t.Fatalf("inline resolution failed: %v", results[0].Err)
	}
	if string(results[0].Data) != "png-bytes" {
		t.Errorf("Data = %q", results[0].Data)
	}
	if results[0].MediaType != "image/png" {
		t.Errorf("MediaType = %q", results[0].MediaType)
	}
}

func TestResolver_InlineDataURI(t *testing.T) {
	r := NewResolver(ResolverConfig{})

	ref := types.ArtifactRef{
		Kind: types.ArtifactInline,
		Data: "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("webp")),
	}

	results := r.ResolveAll(context.Background(), []types.ArtifactRef{ref})
	if !results[0].Resolved() {
		t.Fatalf("data URI resolution failed: %v", results[0].Err)
	}
	if results[0].MediaType != "image/webp" {
		t.Errorf("MediaType = %q, want image/webp from data URI", results[0].MediaType)
	}
	if string(results[0].Data) != "webp" {
		t.Errorf("Data = %q", results[0].Data)
	}
}

func TestResolver_InlineMalformed(t *testing.T) {
	r := NewResolver(ResolverConfig{})

	results := r.ResolveAll(context.Background(), []types.ArtifactRef{
		{Kind: types.ArtifactInline, Data: "!!! not base64 !!!"},
	})
	if results[0].Resolved() {
		t.Error("malformed base64 resolved successfully, want per-artifact error")
	}
	if results[0].Data != nil {
		t.Error("failed artifact carries data")
	}
}

func TestResolver_DeferredFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	r := NewResolver(ResolverConfig{Client: server.Client()})
	results := r.ResolveAll(context.Background(), []types.ArtifactRef{
		{Kind: types.ArtifactDeferred, MediaType: "image/png", URL: server.URL + "/a.jpg"},
	})

	if !results[0].Resolved() {
		t.Fatalf("fetch failed: %v", results[0].Err)
	}
	if string(results[0].Data) != "jpeg-bytes" {
		t.Errorf("Data = %q", results[0].Data)
	}
	// Response-declared content type wins over the stream-declared one.
	if results[0].MediaType != "image/jpeg" {
		t.Errorf("MediaType = %q, want image/jpeg", results[0].MediaType)
	}
}

func TestResolver_PerArtifactFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.png" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	r := NewResolver(ResolverConfig{Client: server.Client(), Retries: 0})
	results := r.ResolveAll(context.Background(), []types.ArtifactRef{
		{Kind: types.ArtifactDeferred, URL: server.URL + "/ok.png"},
		{Kind: types.ArtifactDeferred, URL: server.URL + "/missing.png"},
	})

	if !results[0].Resolved() {
		t.Errorf("first artifact failed: %v", results[0].Err)
	}
	if results[1].Resolved() {
		t.Error("missing artifact resolved, want per-artifact error")
	}
}

func TestResolver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("eventually"))
	}))
	defer server.Close()

	r := NewResolver(ResolverConfig{Client: server.Client(), Retries: 2})
	results := r.ResolveAll(context.Background(), []types.ArtifactRef{
		{Kind: types.ArtifactDeferred, URL: server.URL},
	})

	if !results[0].Resolved() {
		t.Fatalf("fetch after retries failed: %v", results[0].Err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestResolver_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	r := NewResolver(ResolverConfig{Client: server.Client(), Retries: 3})
	results := r.ResolveAll(context.Background(), []types.ArtifactRef{
		{Kind: types.ArtifactDeferred, URL: server.URL},
	})

	if results[0].Resolved() {
		t.Error("4xx fetch resolved, want failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (4xx is non-retriable)", got)
	}
}

func TestResolver_CancelledContext(t *testing.T) {
	blockCh := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-blockCh:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(blockCh)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewResolver(ResolverConfig{Client: server.Client(), Retries: 0})

	resultCh := make(chan []types.ResolvedArtifact, 1)
	go func() {
		resultCh <- r.ResolveAll(ctx, []types.ArtifactRef{
			{Kind: types.ArtifactDeferred, URL: server.URL},
		})
	}()

	cancel()

	select {
	case results := <-resultCh:
		if results[0].Resolved() {
			t.Error("cancelled fetch resolved successfully")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ResolveAll did not return after context cancellation")
	}
}

func TestResolver_OrderPreserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	refs := []types.ArtifactRef{
		{Kind: types.ArtifactDeferred, URL: server.URL + "/0"},
		{Kind: types.ArtifactInline, Data: base64.StdEncoding.EncodeToString([]byte("/1"))},
		{Kind: types.ArtifactDeferred, URL: server.URL + "/2"},
		{Kind: types.ArtifactDeferred, URL: server.URL + "/3"},
	}

	r := NewResolver(ResolverConfig{Client: server.Client(), Parallel: 2})
	results := r.ResolveAll(context.Background(), refs)

	for i, res := range results {
		if !res.Resolved() {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
		want := "/" + string(rune('0'+i))
		if string(res.Data) != want {
			t.Errorf("result %d Data = %q, want %q", i, res.Data, want)
		}
	}
}
