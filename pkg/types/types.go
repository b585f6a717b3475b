package types

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a collection task
type TaskStatus string

const (
	// TaskStatusInit is the initial state of an accepted task
	TaskStatusInit TaskStatus = "INIT"
	// TaskStatusActive marks a task that was started but is not currently running
	TaskStatusActive TaskStatus = "ACTIVE"
	// TaskStatusRunning marks the single in-flight task of a platform
	TaskStatusRunning TaskStatus = "RUNNING"
	// TaskStatusPaused marks a task excluded from the queue unless explicitly included
	TaskStatusPaused TaskStatus = "PAUSED"
	// TaskStatusAborted marks a task that failed with a non-quota collection error
	TaskStatusAborted TaskStatus = "ABORTED"
	// TaskStatusDone marks a successfully completed task
	TaskStatusDone TaskStatus = "DONE"
	// TaskStatusInvalidConf marks a task whose abstract config failed adapter
	// validation. Terminal until the operator edits the task.
	TaskStatusInvalidConf TaskStatus = "INVALID_CONF"
)

// PendingStatuses are the states a task can be queued from, in FIFO order by id.
var PendingStatuses = []TaskStatus{TaskStatusInit, TaskStatusActive}

// PostType classifies a collected post
type PostType string

const (
	PostTypeRegular PostType = "REGULAR"
)

// CollectConfig is the provider-agnostic collection configuration accepted at
// the system boundary. Adapters translate it into their provider query.
type CollectConfig struct {
	Query        string           `json:"query,omitempty"`
	Limit        int              `json:"limit,omitempty"`
	FromTime     string           `json:"from_time,omitempty"` // ISO 8601
	ToTime       string           `json:"to_time,omitempty"`   // ISO 8601
	Language     string           `json:"language,omitempty"`
	LocationBase string           `json:"location_base,omitempty"`
	LocationMod  string           `json:"location_mod,omitempty"`
	// TestData bypasses the external API: items here are synthesized into a
	// collection result without an adapter call.
	TestData []map[string]any `json:"test_data,omitempty"`
	// Extra holds additional keys passed through to the adapter untouched.
	Extra map[string]any `json:"extra,omitempty"`
}

// Task is the unit of work: one query to one provider covering one time
// window / parameter point.
type Task struct {
	ID       int64  `json:"id"`
	TaskName string `json:"task_name"`
	Platform string `json:"platform"`

	// CollectionConfig is the abstract, provider-agnostic request.
	CollectionConfig CollectConfig `json:"collection_config"`
	// PlatformConfig is the adapter-serialized provider request. Empty when
	// the abstract config failed adapter validation.
	PlatformConfig json.RawMessage `json:"platform_config,omitempty"`

	Status TaskStatus `json:"status"`

	// Filled on completion
	FoundItems         int   `json:"found_items,omitempty"`
	AddedItems         int   `json:"added_items,omitempty"`
	CollectionDuration int64 `json:"collection_duration,omitempty"` // milliseconds

	// Transient tasks are deleted together with their posts' back-reference
	// on successful completion.
	Transient bool `json:"transient,omitempty"`
	Test      bool `json:"test,omitempty"`
	Overwrite bool `json:"overwrite,omitempty"`

	TimeAdded   time.Time  `json:"time_added,omitempty"`
	ExecutionTS *time.Time `json:"execution_ts,omitempty"`
}

// Post is one collected item, owned by exactly one platform store.
type Post struct {
	ID         int64  `json:"id"`
	Platform   string `json:"platform"`
	PlatformID string `json:"platform_id"`
	PostURL    string `json:"post_url"`

	DateCreated   time.Time `json:"date_created"`
	DateCollected time.Time `json:"date_collected"`

	PostType PostType `json:"post_type"`

	// Content is the structured raw record from the provider.
	Content map[string]any `json:"content,omitempty"`
	// MetadataContent is caller-owned structured metadata; may be empty.
	MetadataContent map[string]any `json:"metadata_content,omitempty"`

	// CollectionTaskID references the owning task; nulled when the task is
	// deleted, unless the task is transient (then posts keep no reference).
	CollectionTaskID *int64 `json:"collection_task_id,omitempty"`
}

// User is an auxiliary entity for collected account data
type User struct {
	ID               int64  `json:"id"`
	Platform         string `json:"platform"`
	PlatformUsername string `json:"platform_username"`
}

// Comment is an auxiliary entity attached to a post
type Comment struct {
	ID            int64     `json:"id"`
	PostID        int64     `json:"post_id"`
	Content       string    `json:"content"`
	DateCreated   time.Time `json:"date_created"`
	DateCollected time.Time `json:"date_collected"`
}

// CollectionResult is the outcome of one successful task execution
type CollectionResult struct {
	Task  *Task   `json:"task"`
	Posts []*Post `json:"posts"`
	Users []*User `json:"users,omitempty"`

	// CollectedItems is the number of raw items the provider returned,
	// before deduplication.
	CollectedItems int `json:"collected_items"`
	// Duration is the collection wall time in milliseconds.
	Duration int64 `json:"duration"`
}

// PlatformCatalogEntry maps a platform symbol to its store location
type PlatformCatalogEntry struct {
	Platform  string    `json:"platform"`
	DBPath    string    `json:"db_path"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusRow is one row of the meta store's general status report. Err is set
// instead of counts when the underlying store could not be opened.
type StatusRow struct {
	Platform    string             `json:"platform"`
	DBPath      string             `json:"db_path"`
	TotalPosts  int                `json:"total_posts"`
	SizeBytes   int64              `json:"size_bytes"`
	StateCounts map[TaskStatus]int `json:"state_counts,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// ProgressReport summarizes one platform's share of a collection pass
type ProgressReport struct {
	TaskNames  []string `json:"task_names"`
	PostsAdded int      `json:"num_posts_added"`
}

// RunState reports whether a platform manager is currently inside a pass
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
)

// PlatformStatus is the per-platform entry of the orchestrator status report
type PlatformStatus struct {
	RunState RunState `json:"run_state"`
	Active   bool     `json:"active"`
}
