package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ProviderSynthesia = "synthesia"
	ProviderHeyGen    = "heygen"
)

// VideoRenderer turns a blueprint into a hosted video URL.
type VideoRenderer interface {
	Name() string
	Render(ctx context.Context, blueprint *VideoBlueprint, projectID string) (string, error)
}

// SimulatedRenderer stands in for a third-party rendering API: it waits for
// its configured latency and returns a fabricated storage URL.
type SimulatedRenderer struct {
	name    string
	delay   time.Duration
	baseURL string
}

func NewSimulatedRenderer(name string, delay time.Duration, baseURL string) *SimulatedRenderer {
	return &SimulatedRenderer{name: name, delay: delay, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// DefaultRenderers returns Synthesia then HeyGen with latencies scaled by factor.
// A factor of 0 disables the wait.
func DefaultRenderers(baseURL string, factor float64) []VideoRenderer {
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * factor) }
	return []VideoRenderer{
		NewSimulatedRenderer(ProviderSynthesia, scale(2000*time.Millisecond), baseURL),
		NewSimulatedRenderer(ProviderHeyGen, scale(1500*time.Millisecond), baseURL),
	}
}

func (r *SimulatedRenderer) Name() string { return r.name }

func (r *SimulatedRenderer) Render(ctx context.Context, blueprint *VideoBlueprint, projectID string) (string, error) {
	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	videoID := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	url := fmt.Sprintf("%s/videos/%s_%s.mp4", r.baseURL, r.name, videoID)
	log.Debugf("SimulatedRenderer.Render: %s rendered project %s (%d scenes) to %s", r.name, projectID, len(blueprint.Scenes), url)
	return url, nil
}
