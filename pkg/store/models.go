package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/magpielab/magpie/pkg/types"
)

// taskModel represents the database row for the collection_task table.
// Structured fields are JSON encoded; time values are Unix timestamps.
type taskModel struct {
	ID                 int64
	TaskName           string
	Platform           string
	CollectionConfig   string  // JSON
	PlatformConfig     *string // JSON, nullable
	Status             string
	FoundItems         *int64 // nullable
	AddedItems         *int64 // nullable
	CollectionDuration *int64 // milliseconds, nullable
	Transient          bool
	Test               bool
	Overwrite          bool
	TimeAdded          int64  // Unix timestamp
	ExecutionTS        *int64 // Unix timestamp, nullable
}

func toTaskModel(t *types.Task) (*taskModel, error) {
	configJSON, err := json.Marshal(t.CollectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection config: %w", err)
	}

	m := &taskModel{
		ID:               t.ID,
		TaskName:         t.TaskName,
		Platform:         t.Platform,
		CollectionConfig: string(configJSON),
		Status:           string(t.Status),
		Transient:        t.Transient,
		Test:             t.Test,
		Overwrite:        t.Overwrite,
		TimeAdded:        t.TimeAdded.Unix(),
	}
	if t.TimeAdded.IsZero() {
		m.TimeAdded = time.Now().Unix()
	}
	if len(t.PlatformConfig) > 0 {
		platformConfig := string(t.PlatformConfig)
		m.PlatformConfig = &platformConfig
	}
	if t.FoundItems != 0 {
		found := int64(t.FoundItems)
		m.FoundItems = &found
	}
	if t.AddedItems != 0 {
		added := int64(t.AddedItems)
		m.AddedItems = &added
	}
	if t.CollectionDuration != 0 {
		duration := t.CollectionDuration
		m.CollectionDuration = &duration
	}
	if t.ExecutionTS != nil {
		ts := t.ExecutionTS.Unix()
		m.ExecutionTS = &ts
	}
	return m, nil
}

func (m *taskModel) toDomain() (*types.Task, error) {
	t := &types.Task{
		ID:        m.ID,
		TaskName:  m.TaskName,
		Platform:  m.Platform,
		Status:    types.TaskStatus(m.Status),
		Transient: m.Transient,
		Test:      m.Test,
		Overwrite: m.Overwrite,
		TimeAdded: time.Unix(m.TimeAdded, 0).UTC(),
	}
	if err := json.Unmarshal([]byte(m.CollectionConfig), &t.CollectionConfig); err != nil {
		return nil, fmt.Errorf("corrupt collection config on task %d: %w", m.ID, err)
	}
	if m.PlatformConfig != nil {
		t.PlatformConfig = json.RawMessage(*m.PlatformConfig)
	}
	if m.FoundItems != nil {
		t.FoundItems = int(*m.FoundItems)
	}
	if m.AddedItems != nil {
		t.AddedItems = int(*m.AddedItems)
	}
	if m.CollectionDuration != nil {
		t.CollectionDuration = *m.CollectionDuration
	}
	if m.ExecutionTS != nil {
		ts := time.Unix(*m.ExecutionTS, 0).UTC()
		t.ExecutionTS = &ts
	}
	return t, nil
}

// postModel represents the database row for the post table
type postModel struct {
	ID               int64
	Platform         string
	PlatformID       string
	PostURL          *string // nullable
	DateCreated      int64   // Unix timestamp
	DateCollected    int64   // Unix timestamp
	PostType         string
	Content          *string // JSON, nullable
	MetadataContent  *string // JSON, nullable
	CollectionTaskID *int64  // nullable
}

func toPostModel(p *types.Post) (*postModel, error) {
	m := &postModel{
		ID:               p.ID,
		Platform:         p.Platform,
		PlatformID:       p.PlatformID,
		DateCreated:      p.DateCreated.Unix(),
		DateCollected:    p.DateCollected.Unix(),
		PostType:         string(p.PostType),
		CollectionTaskID: p.CollectionTaskID,
	}
	if p.DateCollected.IsZero() {
		m.DateCollected = time.Now().Unix()
	}
	if m.PostType == "" {
		m.PostType = string(types.PostTypeRegular)
	}
	if p.PostURL != "" {
		url := p.PostURL
		m.PostURL = &url
	}
	if len(p.Content) > 0 {
		contentJSON, err := json.Marshal(p.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode post content: %w", err)
		}
		content := string(contentJSON)
		m.Content = &content
	}
	if len(p.MetadataContent) > 0 {
		metadataJSON, err := json.Marshal(p.MetadataContent)
		if err != nil {
			return nil, fmt.Errorf("failed to encode post metadata: %w", err)
		}
		metadata := string(metadataJSON)
		m.MetadataContent = &metadata
	}
	return m, nil
}

func (m *postModel) toDomain() (*types.Post, error) {
	p := &types.Post{
		ID:               m.ID,
		Platform:         m.Platform,
		PlatformID:       m.PlatformID,
		DateCreated:      time.Unix(m.DateCreated, 0).UTC(),
		DateCollected:    time.Unix(m.DateCollected, 0).UTC(),
		PostType:         types.PostType(m.PostType),
		CollectionTaskID: m.CollectionTaskID,
	}
	if m.PostURL != nil {
		p.PostURL = *m.PostURL
	}
	if m.Content != nil {
		if err := json.Unmarshal([]byte(*m.Content), &p.Content); err != nil {
			return nil, fmt.Errorf("corrupt content on post %d: %w", m.ID, err)
		}
	}
	if m.MetadataContent != nil {
		if err := json.Unmarshal([]byte(*m.MetadataContent), &p.MetadataContent); err != nil {
			return nil, fmt.Errorf("corrupt metadata on post %d: %w", m.ID, err)
		}
	}
	return p, nil
}
