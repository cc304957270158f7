package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const maxHTTPBody = 8 << 20

// HTTPProber fetches query_parameters.url and reports a change whenever the body
// fingerprint moves. JSON array bodies count their elements as data points.
//
// Recognised parameters: url (required), method, expected_status.
type HTTPProber struct {
	client *http.Client

	mu           sync.Mutex
	fingerprints map[string]string
	counts       map[string]int
}

// NewHTTPProber builds a prober with the given client timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client:       &http.Client{Timeout: timeout},
		fingerprints: make(map[string]string),
		counts:       make(map[string]int),
	}
}

func (p *HTTPProber) Probe(ctx context.Context, src models.Source) (models.ProbeResult, error) {
	url := src.StringParam("url", "")
	if url == "" {
		return models.ProbeResult{}, fmt.Errorf("source %s: query_parameters.url is required", src.ID)
	}
	method := src.StringParam("method", http.MethodGet)

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if !statusAccepted(resp.StatusCode, src.StringParam("expected_status", "")) {
		return models.ProbeResult{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("read body: %w", err)
	}

	sum := sha256.Sum256(body)
	fingerprint := hex.EncodeToString(sum[:])
	points := 1
	var items []json.RawMessage
	if json.Unmarshal(body, &items) == nil {
		points = len(items)
	}

	p.mu.Lock()
	previous, seen := p.fingerprints[src.ID]
	previousCount := p.counts[src.ID]
	p.fingerprints[src.ID] = fingerprint
	p.counts[src.ID] = points
	p.mu.Unlock()

	changes := 0
	if seen && previous != fingerprint {
		changes = abs(points - previousCount)
		if changes == 0 {
			changes = 1
		}
	}

	return models.ProbeResult{
		DataPoints:      points,
		ChangesDetected: changes,
		Success:         true,
		ConfidenceScore: 1,
	}, nil
}

func statusAccepted(code int, expected string) bool {
	if expected == "" {
		return code >= 200 && code < 300
	}
	want, err := strconv.Atoi(expected)
	if err != nil {
		return code >= 200 && code < 300
	}
	return code == want
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
