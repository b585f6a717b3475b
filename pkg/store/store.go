package store

import (
	"github.com/magpielab/magpie/pkg/types"
)

// PlatformStore is the per-platform relational store owning all task and
// post rows for one platform. A store file is written only by its owning
// platform manager; external tools may read it read-only.
type PlatformStore interface {
	// AddTasks inserts tasks and returns the names actually inserted. A task
	// whose name already exists is rejected, unless it carries test and
	// overwrite, in which case the existing task and all its posts are
	// deleted first inside the same transaction.
	AddTasks(tasks []*types.Task) ([]string, error)

	// PendingTasks returns tasks in INIT or ACTIVE (plus PAUSED when
	// includePaused is set), ordered by ascending id.
	PendingTasks(includePaused bool) ([]*types.Task, error)

	// GetTask retrieves a task by id
	GetTask(id int64) (*types.Task, error)

	// GetTaskByName retrieves a task by its unique name
	GetTaskByName(name string) (*types.Task, error)

	// UpdateTaskStatus sets a task's status unconditionally. Setting RUNNING
	// also records the execution timestamp.
	UpdateTaskStatus(id int64, status types.TaskStatus) error

	// InsertPosts persists a collection result and finalizes the owning task
	// row in one transaction. Returns the posts actually inserted after
	// deduplication.
	InsertPosts(result *types.CollectionResult) ([]*types.Post, error)

	// ResetRunningTasks transitions RUNNING tasks back to INIT. Invoked at
	// orchestrator startup to recover from an abrupt shutdown.
	ResetRunningTasks() (int, error)

	// ResetUnfinishedTasks transitions every non-DONE task back to INIT
	ResetUnfinishedTasks() (int, error)

	// NextGroupIndex returns the index after the highest existing
	// "<prefix>_<n>" task name, or 0 when no such task exists.
	NextGroupIndex(prefix string) (int, error)

	// PostsForTask returns the posts referencing a task
	PostsForTask(taskID int64) ([]*types.Post, error)

	// CountStates returns task counts grouped by status
	CountStates() (map[types.TaskStatus]int, error)

	// CountPosts returns the total number of posts
	CountPosts() (int, error)

	// CountPostsPerPeriod groups post counts by collection date, with period
	// one of "day", "month", or "year".
	CountPostsPerPeriod(period string) (map[string]int, error)

	// FileSize returns the size of the backing file in bytes
	FileSize() (int64, error)

	Close() error
}
