package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magpielab/magpie/pkg/types"
)

func init() {
	Register("stub", NewStub)
}

// stubQuery is the stub's provider request: a canonical projection of the
// abstract config. Marshaling it is deterministic, so the serializable
// projection is a one-step fixed point.
type stubQuery struct {
	Query           string `json:"query,omitempty"`
	MaxItems        int    `json:"max_items"`
	PublishedAfter  string `json:"published_after,omitempty"`
	PublishedBefore string `json:"published_before,omitempty"`
	Language        string `json:"language,omitempty"`
}

// Stub is an in-process adapter that never touches the network. It serves
// test-mode tasks and synthesizes deterministic items, so the full task
// lifecycle can run without provider credentials.
type Stub struct {
	cfg Config
}

// NewStub constructs the stub adapter
func NewStub(cfg Config) (ClientAdapter, error) {
	return &Stub{cfg: cfg}, nil
}

func (s *Stub) PlatformName() string {
	return s.cfg.Platform
}

func (s *Stub) Setup() error {
	return nil
}

func (s *Stub) TransformConfig(cfg types.CollectConfig) (any, error) {
	query, err := s.buildQuery(cfg)
	if err != nil {
		return nil, err
	}
	return query, nil
}

func (s *Stub) TransformConfigToSerializable(cfg types.CollectConfig) (json.RawMessage, error) {
	query, err := s.buildQuery(cfg)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize stub query: %w", err)
	}
	return data, nil
}

func (s *Stub) buildQuery(cfg types.CollectConfig) (*stubQuery, error) {
	if cfg.Query == "" && len(cfg.TestData) == 0 {
		return nil, &InvalidConfigError{Platform: s.cfg.Platform, Reason: "query or test_data required"}
	}
	for field, value := range map[string]string{"from_time": cfg.FromTime, "to_time": cfg.ToTime} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return nil, &InvalidConfigError{Platform: s.cfg.Platform, Reason: fmt.Sprintf("%s is not RFC3339: %q", field, value)}
		}
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	return &stubQuery{
		Query:           cfg.Query,
		MaxItems:        limit,
		PublishedAfter:  cfg.FromTime,
		PublishedBefore: cfg.ToTime,
		Language:        cfg.Language,
	}, nil
}

func (s *Stub) ExecuteTask(ctx context.Context, task *types.Task) (*types.CollectionResult, error) {
	start := time.Now()

	query, err := s.buildQuery(task.CollectionConfig)
	if err != nil {
		return nil, err
	}

	items := task.CollectionConfig.TestData
	if len(items) == 0 {
		items = s.synthesize(query)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	posts := make([]*types.Post, 0, len(items))
	for _, item := range items {
		posts = append(posts, s.CreatePostEntry(item, task))
	}

	return &types.CollectionResult{
		Task:           task,
		Posts:          posts,
		CollectedItems: len(items),
		Duration:       time.Since(start).Milliseconds(),
	}, nil
}

// synthesize produces deterministic items keyed by query and index, so
// re-running the same query yields the same platform ids.
func (s *Stub) synthesize(query *stubQuery) []map[string]any {
	created := time.Now().UTC()
	if query.PublishedAfter != "" {
		if t, err := time.Parse(time.RFC3339, query.PublishedAfter); err == nil {
			created = t
		}
	}
	items := make([]map[string]any, 0, query.MaxItems)
	for i := 0; i < query.MaxItems; i++ {
		id := fmt.Sprintf("%s:%d", query.Query, i)
		items = append(items, map[string]any{
			"id":         id,
			"url":        fmt.Sprintf("stub://%s/%s", s.cfg.Platform, id),
			"text":       fmt.Sprintf("synthetic item %d for %q", i, query.Query),
			"created_at": created.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		})
	}
	return items
}

func (s *Stub) CreatePostEntry(item map[string]any, task *types.Task) *types.Post {
	post := &types.Post{
		Platform:      s.cfg.Platform,
		PostType:      types.PostTypeRegular,
		Content:       item,
		DateCollected: time.Now().UTC(),
	}
	if task.ID != 0 {
		id := task.ID
		post.CollectionTaskID = &id
	}
	if v, ok := item["id"].(string); ok {
		post.PlatformID = v
	}
	if v, ok := item["url"].(string); ok {
		post.PostURL = v
	}
	if v, ok := item["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			post.DateCreated = t
		}
	}
	if post.DateCreated.IsZero() {
		post.DateCreated = post.DateCollected
	}
	return post
}
