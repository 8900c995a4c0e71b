package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Source produces raw people counts for one sensor. Where the count comes
// from (camera inference, a sidecar, a simulation) is opaque to the loop.
type Source interface {
	ID() string
	Observe(ctx context.Context) (int, error)
}

// SimulatedSource produces a bounded random walk, standing in for a camera
// when no inference feed is available.
type SimulatedSource struct {
	id   string
	last int
}

// NewSimulatedSource creates a simulated source with the given ID.
func NewSimulatedSource(id string) *SimulatedSource {
	return &SimulatedSource{id: id, last: rand.IntN(40)}
}

// ID returns the source identifier.
func (s *SimulatedSource) ID() string { return s.id }

// Observe returns the next simulated count.
func (s *SimulatedSource) Observe(_ context.Context) (int, error) {
	s.last += rand.IntN(25) - 10
	if s.last < 0 {
		s.last = 0
	}
	if s.last > 120 {
		s.last = 120
	}
	return s.last, nil
}

// LiveSource polls an inference sidecar over HTTP for the current count.
// The sidecar owns the camera and the detection model; this process only
// consumes its integer output.
type LiveSource struct {
	id     string
	url    string
	client *http.Client
}

// NewLiveSource creates a live source polling url for counts.
func NewLiveSource(id, url string, timeout time.Duration) *LiveSource {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &LiveSource{
		id:     id,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// ID returns the source identifier.
func (s *LiveSource) ID() string { return s.id }

// Observe fetches the current count from the inference feed.
func (s *LiveSource) Observe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query inference feed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("inference feed returned HTTP %d", resp.StatusCode)
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode inference feed response: %w", err)
	}
	if payload.Count < 0 {
		return 0, fmt.Errorf("inference feed returned negative count %d", payload.Count)
	}
	return payload.Count, nil
}

// SelectSource returns a live source when mode is "live" and the feed
// answers a probe, otherwise a simulated source. Falling back is explicit
// and logged as a warning rather than happening inside a failure handler.
func SelectSource(ctx context.Context, mode, id, feedURL string, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	if mode != "live" {
		return NewSimulatedSource(id)
	}

	live := NewLiveSource(id, feedURL, 3*time.Second)
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := live.Observe(probeCtx); err != nil {
		logger.Warn("live feed unavailable, falling back to simulated source",
			slog.String("source_id", id),
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return NewSimulatedSource(id)
	}
	return live
}
