package species

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/i474232898/birdnet-display/internal/common"
)

const (
	// ListPath is the BirdNET-Go range filter species list endpoint.
	ListPath = "/api/v2/range/species/list"

	// ReadyPath is polled to see whether BirdNET-Go is serving its API.
	ReadyPath = "/api/v2/detections/recent"

	DefaultBaseURL = "http://localhost:8080"
)

// ErrFetch covers every way the species list request can fail.
var ErrFetch = errors.New("species list fetch failed")

// Set is an ordered list of species identifiers.
type Set []string

// Equal reports whether both sets hold the same identifiers in the same order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// entry accepts either a bare string or a BirdNET-Go species object.
type entry struct {
	id string
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.id = strings.TrimSpace(s)
		return nil
	}
	var obj struct {
		ScientificName string `json:"scientificName"`
		CommonName     string `json:"commonName"`
		Label          string `json:"label"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	// Nameless entries keep an empty id and are skipped by Fetch.
	for _, v := range []string{obj.ScientificName, obj.CommonName, obj.Label} {
		if v = strings.TrimSpace(v); v != "" {
			e.id = v
			break
		}
	}
	return nil
}

// Fetcher reads the species list for the configured location from BirdNET-Go.
type Fetcher struct {
	baseURL string
	httpCfg common.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewFetcher(client *http.Client, baseURL string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: common.HTTPClientConfig{
			Client:  client,
			Backoff: common.DefaultBackoff,
		},
		circuit: common.NewBreaker("birdnet-species"),
	}
}

// Fetch issues one GET against ListPath. Every failure is wrapped in ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context) (Set, error) {
	u := f.baseURL + ListPath
	resp, err := common.DoRequest(ctx, f.httpCfg, f.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, u, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Species *[]entry `json:"species"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrFetch, err)
	}
	if payload.Species == nil {
		return nil, fmt.Errorf("%w: response has no species field", ErrFetch)
	}

	seen := make(map[string]bool, len(*payload.Species))
	set := make(Set, 0, len(*payload.Species))
	for _, e := range *payload.Species {
		if e.id == "" || seen[e.id] {
			continue
		}
		seen[e.id] = true
		set = append(set, e.id)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty species list", ErrFetch)
	}

	log.Info().Int("count", len(set)).Msg("species: fetched list")
	return set, nil
}

// WaitReady polls BirdNET-Go once per interval until it answers 200 or maxWait
// elapses. It reports whether the API became available.
func (f *Fetcher) WaitReady(ctx context.Context, maxWait, interval time.Duration) bool {
	if maxWait <= 0 {
		return true
	}
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if f.ready(ctx) {
			log.Info().Dur("waited", time.Since(start)).Msg("species: BirdNET-Go is available")
			return true
		}
		select {
		case <-ctx.Done():
			log.Warn().Dur("max_wait", maxWait).Msg("species: BirdNET-Go did not become available")
			return false
		case <-ticker.C:
		}
	}
}

func (f *Fetcher) ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+ReadyPath, nil)
	if err != nil {
		return false
	}
	resp, err := f.httpCfg.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
