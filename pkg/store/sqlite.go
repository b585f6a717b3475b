package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/magpielab/magpie/pkg/types"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS collection_task (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	collection_config TEXT NOT NULL,
	platform_config TEXT,
	status TEXT NOT NULL DEFAULT 'INIT',
	found_items INTEGER,
	added_items INTEGER,
	collection_duration INTEGER,
	transient INTEGER NOT NULL DEFAULT 0,
	test INTEGER NOT NULL DEFAULT 0,
	overwrite INTEGER NOT NULL DEFAULT 0,
	time_added INTEGER NOT NULL,
	execution_ts INTEGER,
	CONSTRAINT uq_task_name UNIQUE (task_name)
);

CREATE TABLE IF NOT EXISTS post (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	platform_id TEXT NOT NULL,
	post_url TEXT,
	date_created INTEGER NOT NULL,
	date_collected INTEGER NOT NULL,
	post_type TEXT NOT NULL DEFAULT 'REGULAR',
	content TEXT,
	metadata_content TEXT,
	collection_task_id INTEGER REFERENCES collection_task(id) ON DELETE SET NULL,
	CONSTRAINT uq_platform_id UNIQUE (platform_id)
);

CREATE TABLE IF NOT EXISTS user (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	platform_username TEXT,
	CONSTRAINT uq_platform_username UNIQUE (platform, platform_username)
);

CREATE TABLE IF NOT EXISTS comment (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL REFERENCES post(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	date_created INTEGER,
	date_collected INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_task_status ON collection_task(status);
CREATE INDEX IF NOT EXISTS ix_post_task ON post(collection_task_id);
`

const taskColumns = `id, task_name, platform, collection_config, platform_config, status,
	found_items, added_items, collection_duration, transient, test, overwrite, time_added, execution_ts`

const postColumns = `id, platform, platform_id, post_url, date_created, date_collected,
	post_type, content, metadata_content, collection_task_id`

// SQLiteStore implements PlatformStore on a single sqlite file
type SQLiteStore struct {
	platform string
	path     string
	db       *sql.DB
}

// Ensure SQLiteStore implements PlatformStore.
var _ PlatformStore = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the platform store at path. The schema is
// applied on first open and the file is stamped with the schema version.
func OpenSQLite(platform, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	// The file is owned by a single manager; one connection keeps sqlite's
	// locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to stamp schema version: %w", err)
		}
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("store %s has schema version %d, newer than supported %d", path, version, schemaVersion)
	}

	return &SQLiteStore{platform: platform, path: path, db: db}, nil
}

// OpenSQLiteReadOnly opens an existing platform store for reporting. No
// schema is applied and no version is stamped, so a store the daemon owns
// can be inspected without writing to it.
func OpenSQLiteReadOnly(platform, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s read-only: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("store %s has schema version %d, newer than supported %d", path, version, schemaVersion)
	}

	return &SQLiteStore{platform: platform, path: path, db: db}, nil
}

// Platform returns the platform symbol this store serves
func (s *SQLiteStore) Platform() string {
	return s.platform
}

// Path returns the backing file location
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction with guaranteed release: commit on
// success, rollback on error.
func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func scanTask(scanner interface{ Scan(...any) error }) (*taskModel, error) {
	var m taskModel
	err := scanner.Scan(
		&m.ID, &m.TaskName, &m.Platform, &m.CollectionConfig, &m.PlatformConfig, &m.Status,
		&m.FoundItems, &m.AddedItems, &m.CollectionDuration,
		&m.Transient, &m.Test, &m.Overwrite, &m.TimeAdded, &m.ExecutionTS,
	)
	return &m, err
}

func scanPost(scanner interface{ Scan(...any) error }) (*postModel, error) {
	var m postModel
	err := scanner.Scan(
		&m.ID, &m.Platform, &m.PlatformID, &m.PostURL, &m.DateCreated, &m.DateCollected,
		&m.PostType, &m.Content, &m.MetadataContent, &m.CollectionTaskID,
	)
	return &m, err
}

func (s *SQLiteStore) AddTasks(tasks []*types.Task) ([]string, error) {
	var added []string
	err := s.withTx(func(tx *sql.Tx) error {
		for _, task := range tasks {
			inserted, err := s.addTask(tx, task)
			if err != nil {
				return err
			}
			if inserted {
				added = append(added, task.TaskName)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *SQLiteStore) addTask(tx *sql.Tx, task *types.Task) (bool, error) {
	var existingID int64
	err := tx.QueryRow("SELECT id FROM collection_task WHERE task_name = ?", task.TaskName).Scan(&existingID)
	switch {
	case err == nil:
		if !(task.Test && task.Overwrite) {
			return false, nil
		}
		// Overwrite removes the previous task together with its posts, so a
		// repeated test run starts from a clean slate.
		if _, err := tx.Exec("DELETE FROM post WHERE collection_task_id = ?", existingID); err != nil {
			return false, fmt.Errorf("failed to delete posts of task %q: %w", task.TaskName, err)
		}
		if _, err := tx.Exec("DELETE FROM collection_task WHERE id = ?", existingID); err != nil {
			return false, fmt.Errorf("failed to delete task %q: %w", task.TaskName, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// new task
	default:
		return false, fmt.Errorf("failed to check task name %q: %w", task.TaskName, err)
	}

	if task.Status == "" {
		task.Status = types.TaskStatusInit
	}
	m, err := toTaskModel(task)
	if err != nil {
		return false, err
	}

	result, err := tx.Exec(
		`INSERT INTO collection_task (
			task_name, platform, collection_config, platform_config, status,
			transient, test, overwrite, time_added
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TaskName, m.Platform, m.CollectionConfig, m.PlatformConfig, m.Status,
		m.Transient, m.Test, m.Overwrite, m.TimeAdded,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert task %q: %w", task.TaskName, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get task id: %w", err)
	}
	task.ID = id
	return true, nil
}

func (s *SQLiteStore) PendingTasks(includePaused bool) ([]*types.Task, error) {
	statuses := append([]types.TaskStatus{}, types.PendingStatuses...)
	if includePaused {
		statuses = append(statuses, types.TaskStatusPaused)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}

	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM collection_task WHERE status IN (`+placeholders+`) ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		m, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		task, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) GetTask(id int64) (*types.Task, error) {
	m, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM collection_task WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return m.toDomain()
}

func (s *SQLiteStore) GetTaskByName(name string) (*types.Task, error) {
	m, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM collection_task WHERE task_name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %q: %w", name, err)
	}
	return m.toDomain()
}

func (s *SQLiteStore) UpdateTaskStatus(id int64, status types.TaskStatus) error {
	var err error
	if status == types.TaskStatusRunning {
		_, err = s.db.Exec(
			"UPDATE collection_task SET status = ?, execution_ts = ? WHERE id = ?",
			string(status), time.Now().Unix(), id,
		)
	} else {
		_, err = s.db.Exec("UPDATE collection_task SET status = ? WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update task %d status: %w", id, err)
	}
	return nil
}

// InsertPosts persists a collection result: deduplicates against existing
// platform ids, inserts the remainder, and finalizes the owning task row,
// all in one transaction. A transient task is deleted instead of marked
// DONE; its posts stay with a nulled back-reference.
func (s *SQLiteStore) InsertPosts(result *types.CollectionResult) ([]*types.Post, error) {
	var added []*types.Post
	err := s.withTx(func(tx *sql.Tx) error {
		fresh, err := s.filterExisting(tx, result.Posts)
		if err != nil {
			return err
		}

		for _, post := range fresh {
			m, err := toPostModel(post)
			if err != nil {
				return err
			}
			res, err := tx.Exec(
				`INSERT INTO post (
					platform, platform_id, post_url, date_created, date_collected,
					post_type, content, metadata_content, collection_task_id
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.Platform, m.PlatformID, m.PostURL, m.DateCreated, m.DateCollected,
				m.PostType, m.Content, m.MetadataContent, m.CollectionTaskID,
			)
			if isUniqueViolation(err) {
				// Concurrent duplicate; drop the row and keep the batch.
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert post %q: %w", post.PlatformID, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get post id: %w", err)
			}
			post.ID = id
			added = append(added, post)
		}

		task := result.Task
		if task == nil || task.ID == 0 {
			return nil
		}

		if task.Transient {
			// ON DELETE SET NULL keeps the posts and clears their reference.
			if _, err := tx.Exec("DELETE FROM collection_task WHERE id = ?", task.ID); err != nil {
				return fmt.Errorf("failed to delete transient task %d: %w", task.ID, err)
			}
			return nil
		}

		if _, err := tx.Exec(
			`UPDATE collection_task
			 SET status = ?, found_items = ?, added_items = ?, collection_duration = ?
			 WHERE id = ?`,
			string(types.TaskStatusDone), result.CollectedItems, len(added), result.Duration, task.ID,
		); err != nil {
			return fmt.Errorf("failed to finalize task %d: %w", task.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// filterExisting drops posts whose platform_id is already stored, and
// in-batch duplicates.
func (s *SQLiteStore) filterExisting(tx *sql.Tx, posts []*types.Post) ([]*types.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(posts)), ",")
	args := make([]any, len(posts))
	for i, post := range posts {
		args[i] = post.PlatformID
	}

	rows, err := tx.Query("SELECT platform_id FROM post WHERE platform_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing platform ids: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan platform id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating platform ids: %w", err)
	}

	seen := map[string]bool{}
	var fresh []*types.Post
	for _, post := range posts {
		if existing[post.PlatformID] || seen[post.PlatformID] {
			continue
		}
		seen[post.PlatformID] = true
		fresh = append(fresh, post)
	}
	return fresh, nil
}

func (s *SQLiteStore) ResetRunningTasks() (int, error) {
	return s.resetTasks("status = ?", string(types.TaskStatusRunning))
}

func (s *SQLiteStore) ResetUnfinishedTasks() (int, error) {
	return s.resetTasks("status != ?", string(types.TaskStatusDone))
}

func (s *SQLiteStore) resetTasks(where string, arg any) (int, error) {
	result, err := s.db.Exec(
		"UPDATE collection_task SET status = ? WHERE "+where,
		string(types.TaskStatusInit), arg,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset tasks: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) NextGroupIndex(prefix string) (int, error) {
	// Exact prefix match; LIKE would treat underscores in the pattern as
	// wildcards.
	var next sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(CAST(substr(task_name, ?) AS INTEGER)) + 1
		 FROM collection_task WHERE substr(task_name, 1, ?) = ? || '_'`,
		len(prefix)+2, len(prefix)+1, prefix,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve group index for %q: %w", prefix, err)
	}
	if !next.Valid {
		return 0, nil
	}
	return int(next.Int64), nil
}

func (s *SQLiteStore) PostsForTask(taskID int64) ([]*types.Post, error) {
	rows, err := s.db.Query(`SELECT `+postColumns+` FROM post WHERE collection_task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var posts []*types.Post
	for rows.Next() {
		m, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		post, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return posts, nil
}

func (s *SQLiteStore) CountStates() (map[types.TaskStatus]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM collection_task GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count task states: %w", err)
	}
	defer rows.Close()

	counts := map[types.TaskStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[types.TaskStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) CountPosts() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM post").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountPostsPerPeriod(period string) (map[string]int, error) {
	var format string
	switch period {
	case "day":
		format = "%Y-%m-%d"
	case "month":
		format = "%Y-%m"
	case "year":
		format = "%Y"
	default:
		return nil, fmt.Errorf("unknown period %q (want day, month, or year)", period)
	}

	rows, err := s.db.Query(
		"SELECT strftime(?, date_created, 'unixepoch'), COUNT(*) FROM post GROUP BY 1 ORDER BY 1",
		format,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts per %s: %w", period, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var bucket string
		var count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("failed to scan period count: %w", err)
		}
		counts[bucket] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) FileSize() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat store file: %w", err)
	}
	return info.Size(), nil
}
