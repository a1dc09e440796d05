package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/transport"
	"github.com/justapithecus/sluice/types"
)

// DefaultParallel is the default number of concurrent deferred fetches.
const DefaultParallel = 4

// DefaultFetchTimeout is the default per-attempt fetch timeout.
const DefaultFetchTimeout = 30 * time.Second

// DefaultRetries is the default number of retries per deferred fetch.
const DefaultRetries = 2

// MaxArtifactSize caps a single fetched artifact (64 MiB).
const MaxArtifactSize = 64 * 1024 * 1024

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Parallel is the maximum concurrent fetches (default 4).
	Parallel int
	// FetchTimeout is the per-attempt timeout (default 30s).
	FetchTimeout time.Duration
	// Retries is the number of retry attempts per artifact (default 2).
	// 4xx responses are non-retriable.
	Retries int
	// Client overrides the HTTP client (for testing).
	Client *http.Client
	// Logger is an optional logger for fetch observability.
	Logger *log.Logger
}

// Resolver materializes collected references after streaming ends.
type Resolver struct {
	config ResolverConfig
	client *http.Client
	logger *log.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Parallel <= 0 {
		cfg.Parallel = DefaultParallel
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{config: cfg, client: client, logger: cfg.Logger}
}

// ResolveAll materializes every reference. Inline references decode in
// place; deferred references fetch concurrently with bounded parallelism.
// The call waits for all fetches unless ctx is cancelled. Each failure is
// carried in the per-artifact Err; a failed artifact never fails the
// response it belongs to.
//
// Results preserve the input order.
func (r *Resolver) ResolveAll(ctx context.Context, refs []types.ArtifactRef) []types.ResolvedArtifact {
	if len(refs) == 0 {
		return nil
	}

	results := make([]types.ResolvedArtifact, len(refs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.config.Parallel)

	for i, ref := range refs {
		switch ref.Kind {
		case types.ArtifactInline:
			results[i] = resolveInline(ref)
		case types.ArtifactDeferred:
			wg.Add(1)
			go func(i int, ref types.ArtifactRef) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = failedArtifact(ref, ctx.Err())
					return
				}
				results[i] = r.fetch(ctx, ref)
			}(i, ref)
		default:
			results[i] = failedArtifact(ref, fmt.Errorf("unknown artifact kind %q", ref.Kind))
		}
	}

	wg.Wait()
	return results
}

// resolveInline decodes an inline base64 payload in place. Data-URI
// prefixes ("data:image/png;base64,...") are tolerated; the embedded media
// type wins over the declared one when present.
func resolveInline(ref types.ArtifactRef) types.ResolvedArtifact {
	encoded := ref.Data
	mediaType := ref.MediaType

	if strings.HasPrefix(encoded, "data:") {
		head, rest, found := strings.Cut(encoded, ",")
		if !found {
			return failedArtifact(ref, errors.New("malformed data URI"))
		}
		if mt := strings.TrimSuffix(strings.TrimPrefix(head, "data:"), ";base64"); mt != "" {
			mediaType = mt
		}
		encoded = rest
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some producers omit padding.
		data, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return failedArtifact(ref, fmt.Errorf("decode inline artifact: %w", err))
	}

	return types.ResolvedArtifact{Ref: ref, MediaType: mediaType, Data: data}
}

// fetch retrieves one deferred artifact with retry and backoff.
// 4xx responses are non-retriable and fail immediately.
func (r *Resolver) fetch(ctx context.Context, ref types.ArtifactRef) types.ResolvedArtifact {
	var lastErr error
	attempts := 1 + r.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return failedArtifact(ref, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return failedArtifact(ref, ctx.Err())
			case <-time.After(backoff):
			}
		}

		data, mediaType, err := r.fetchOnce(ctx, ref)
		if err == nil {
			if mediaType == "" {
				mediaType = ref.MediaType
			}
			return types.ResolvedArtifact{Ref: ref, MediaType: mediaType, Data: data}
		}
		lastErr = err

		if statusErr, ok := transport.IsStatusError(err); ok && !statusErr.Retriable() {
			break
		}
		if r.logger != nil {
			r.logger.Warn("artifact fetch attempt failed", map[string]any{
				"url":     ref.URL,
				"attempt": i + 1,
				"error":   err.Error(),
			})
		}
	}

	return failedArtifact(ref, fmt.Errorf("fetch artifact: %w", lastErr))
}

// fetchOnce performs a single GET attempt with the per-attempt timeout.
func (r *Resolver) fetchOnce(ctx context.Context, ref types.ArtifactRef) ([]byte, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &transport.StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxArtifactSize {
		return nil, "", fmt.Errorf("artifact exceeds %d bytes", MaxArtifactSize)
	}

	mediaType := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	return data, strings.TrimSpace(mediaType), nil
}

func failedArtifact(ref types.ArtifactRef, err error) types.ResolvedArtifact {
	return types.ResolvedArtifact{Ref: ref, MediaType: ref.MediaType, Err: err}
}
