package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/types"
)

// Sink forwards newly stored posts to an external HTTP endpoint. Delivery
// is best effort: failures are logged and never fail the collection pass.
type Sink struct {
	url    string
	client *http.Client
}

// New creates a sink from config, or nil when no sink is configured
func New(cfg *config.SinkConfig) *Sink {
	if cfg == nil || cfg.Host == "" {
		return nil
	}
	return &Sink{
		url: fmt.Sprintf("http://%s:%d%s", cfg.Host, cfg.Port, cfg.Path),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// URL returns the sink endpoint
func (s *Sink) URL() string {
	return s.url
}

type payload struct {
	Platform string        `json:"platform"`
	TaskName string        `json:"task_name,omitempty"`
	Posts    []*types.Post `json:"posts"`
}

// Send posts a batch to the sink endpoint. Empty batches are skipped.
func (s *Sink) Send(ctx context.Context, platform, taskName string, posts []*types.Post) error {
	if len(posts) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{Platform: platform, TaskName: taskName, Posts: posts})
	if err != nil {
		return fmt.Errorf("failed to encode sink payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}

	logger := log.WithComponent("sink")
	logger.Debug().
		Str("platform", platform).
		Int("posts", len(posts)).
		Msg("forwarded posts to sink")
	return nil
}
