package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/magpielab/magpie/pkg/adapter"
	"github.com/magpielab/magpie/pkg/events"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/metrics"
	"github.com/magpielab/magpie/pkg/quota"
	"github.com/magpielab/magpie/pkg/sink"
	"github.com/magpielab/magpie/pkg/store"
	"github.com/magpielab/magpie/pkg/types"
)

// Options configures a platform manager beyond its required collaborators
type Options struct {
	// Active platforms take part in collection passes; inactive ones still
	// accept tasks.
	Active bool

	// RequestDelay is the base pacing delay between two tasks, in seconds.
	RequestDelay int
	// DelayRandomize is the upper bound of the random pacing jitter, in
	// seconds.
	DelayRandomize int

	// IgnoreInitialQuotaHalt skips the persisted quota halt once at the
	// first pass after startup.
	IgnoreInitialQuotaHalt bool

	Broker *events.Broker
	Sink   *sink.Sink
}

// PlatformManager owns one platform end to end: its adapter, its store, and
// its quota state. All writes to the platform store go through it.
type PlatformManager struct {
	platform string
	client   adapter.ClientAdapter
	store    store.PlatformStore
	quotas   *quota.Registry
	broker   *events.Broker
	sink     *sink.Sink
	logger   zerolog.Logger

	active         bool
	requestDelay   int
	delayRandomize int

	mu               sync.Mutex
	clientReady      bool
	currentQuotaHalt *time.Time
	skipInitialHalt  bool
	runState         types.RunState
}

// New creates a platform manager
func New(platform string, client adapter.ClientAdapter, st store.PlatformStore, quotas *quota.Registry, opts Options) *PlatformManager {
	return &PlatformManager{
		platform:        platform,
		client:          client,
		store:           st,
		quotas:          quotas,
		broker:          opts.Broker,
		sink:            opts.Sink,
		logger:          log.WithPlatform(platform),
		active:          opts.Active,
		requestDelay:    opts.RequestDelay,
		delayRandomize:  opts.DelayRandomize,
		skipInitialHalt: opts.IgnoreInitialQuotaHalt,
		runState:        types.RunStateIdle,
	}
}

// Platform returns the platform symbol this manager serves
func (m *PlatformManager) Platform() string {
	return m.platform
}

// Active reports whether the platform takes part in collection passes
func (m *PlatformManager) Active() bool {
	return m.active
}

// RunState reports whether the manager is currently inside a pass
func (m *PlatformManager) RunState() types.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runState
}

// Store exposes the platform store for status reports and task queries
func (m *PlatformManager) Store() store.PlatformStore {
	return m.store
}

// AddTasks validates each task's config against the adapter and persists the
// batch. A task whose config cannot be serialized for the platform is stored
// as INVALID_CONF so the failure stays visible, but never enqueued. Returns
// the names of the tasks actually inserted.
func (m *PlatformManager) AddTasks(tasks []*types.Task) ([]string, error) {
	for _, task := range tasks {
		serialized, err := m.client.TransformConfigToSerializable(task.CollectionConfig)
		if err != nil {
			m.logger.Warn().
				Str("task_name", task.TaskName).
				Err(err).
				Msg("config rejected by adapter, storing as INVALID_CONF")
			task.Status = types.TaskStatusInvalidConf
			m.publish(events.EventTaskInvalid, task.TaskName, err.Error())
			continue
		}
		task.PlatformConfig = serialized
		if task.Status == "" {
			task.Status = types.TaskStatusInit
		}
	}

	added, err := m.store.AddTasks(tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to add tasks for platform %s: %w", m.platform, err)
	}
	if skipped := len(tasks) - len(added); skipped > 0 {
		m.logger.Info().
			Int("added", len(added)).
			Int("skipped", skipped).
			Msg("some tasks were not added (duplicate names)")
	}
	return added, nil
}

// NextGroupIndex forwards to the store; used by the parser for groups that
// request a fresh index range.
func (m *PlatformManager) NextGroupIndex(prefix string) (int, error) {
	return m.store.NextGroupIndex(prefix)
}

// ResetRunningTasks returns RUNNING tasks to INIT, recovering from an
// abrupt shutdown.
func (m *PlatformManager) ResetRunningTasks() (int, error) {
	return m.store.ResetRunningTasks()
}

// HasQuotaHalt reloads the persisted halt and reports whether the platform
// is currently embargoed. An expired halt is removed from the registry.
func (m *PlatformManager) HasQuotaHalt() (bool, error) {
	release, ok, err := m.quotas.Get(m.platform)
	if err != nil {
		return false, err
	}
	if !ok {
		m.setHalt(nil)
		return false, nil
	}
	if time.Now().Before(release) {
		m.setHalt(&release)
		return true, nil
	}

	if err := m.quotas.Remove(m.platform); err != nil {
		return false, err
	}
	m.setHalt(nil)
	metrics.QuotaHalted.WithLabelValues(m.platform).Set(0)
	m.publish(events.EventQuotaReleased, "", "quota halt expired")
	m.logger.Info().Time("released_at", release).Msg("quota halt expired")
	return false, nil
}

func (m *PlatformManager) setHalt(until *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentQuotaHalt = until
}

// ProcessAllTasks drains the pending queue: one adapter call per task, posts
// persisted through the store, pacing between tasks, halt on quota errors.
// Cancellation returns the in-flight task to INIT and preserves results
// already committed.
func (m *PlatformManager) ProcessAllTasks(ctx context.Context) ([]*types.CollectionResult, error) {
	m.mu.Lock()
	if m.runState == types.RunStateRunning {
		m.mu.Unlock()
		m.logger.Warn().Msg("collection pass already running, skipping")
		return nil, nil
	}
	m.runState = types.RunStateRunning
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.runState = types.RunStateIdle
		m.mu.Unlock()
	}()

	halted, err := m.checkInitialHalt()
	if err != nil {
		return nil, err
	}
	if halted {
		return nil, nil
	}

	if !m.ensureClientReady() {
		return nil, nil
	}

	pending, err := m.store.PendingTasks(false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks for platform %s: %w", m.platform, err)
	}
	metrics.TasksPending.WithLabelValues(m.platform).Set(float64(len(pending)))
	if len(pending) == 0 {
		return nil, nil
	}
	m.logger.Info().Int("tasks", len(pending)).Msg("processing pending tasks")

	var results []*types.CollectionResult
	for i, task := range pending {
		if ctx.Err() != nil {
			return results, nil
		}

		if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusRunning); err != nil {
			return results, err
		}

		result, execErr := m.executeOne(ctx, task)
		switch {
		case execErr == nil:
			stored, err := m.persistResult(result)
			if err != nil {
				m.failTask(task, err)
				return results, err
			}
			results = append(results, stored)

		case isCanceled(execErr):
			// In-flight task goes back to INIT so the next pass retries it.
			if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusInit); err != nil {
				return results, err
			}
			return results, nil

		case isQuotaError(execErr):
			var quotaErr *adapter.QuotaError
			errors.As(execErr, &quotaErr)
			if err := m.haltForQuota(task, quotaErr.ReleaseAt); err != nil {
				return results, err
			}
			return results, nil

		case isFatalError(execErr):
			m.failTask(task, execErr)
			return results, execErr

		default:
			// Transient failure: abort this task, keep draining the queue.
			m.failTask(task, execErr)
			results = append(results, &types.CollectionResult{Task: task})
		}

		if i < len(pending)-1 {
			if !m.pace(ctx) {
				return results, nil
			}
		}
	}
	return results, nil
}

// checkInitialHalt applies the persisted quota halt at the top of a pass.
// The one-shot startup override consumes itself whether or not a halt is
// present.
func (m *PlatformManager) checkInitialHalt() (bool, error) {
	m.mu.Lock()
	skip := m.skipInitialHalt
	m.skipInitialHalt = false
	m.mu.Unlock()

	halted, err := m.HasQuotaHalt()
	if err != nil {
		return false, err
	}
	if halted && skip {
		m.logger.Info().Msg("ignoring persisted quota halt once")
		return false, nil
	}
	if halted {
		m.logger.Info().Msg("platform is quota halted, skipping pass")
	}
	return halted, nil
}

// ensureClientReady runs adapter setup once. Failures are logged and
// retried on the next pass.
func (m *PlatformManager) ensureClientReady() bool {
	m.mu.Lock()
	ready := m.clientReady
	m.mu.Unlock()
	if ready {
		return true
	}

	if err := m.client.Setup(); err != nil {
		m.logger.Error().Err(err).Msg("adapter setup failed, will retry next pass")
		return false
	}

	m.mu.Lock()
	m.clientReady = true
	m.mu.Unlock()
	return true
}

// executeOne performs a single collection, synthesizing the result from
// test data when present instead of calling the adapter.
func (m *PlatformManager) executeOne(ctx context.Context, task *types.Task) (*types.CollectionResult, error) {
	if items := task.CollectionConfig.TestData; len(items) > 0 {
		timer := metrics.NewTimer()
		posts := make([]*types.Post, 0, len(items))
		for _, item := range items {
			posts = append(posts, m.client.CreatePostEntry(item, task))
		}
		return &types.CollectionResult{
			Task:           task,
			Posts:          posts,
			CollectedItems: len(items),
			Duration:       timer.Duration().Milliseconds(),
		}, nil
	}

	timer := metrics.NewTimer()
	result, err := m.client.ExecuteTask(ctx, task)
	if err != nil {
		return nil, err
	}
	if result.Duration == 0 {
		result.Duration = timer.Duration().Milliseconds()
	}
	timer.ObserveDuration(metrics.CollectionDuration.WithLabelValues(m.platform))
	return result, nil
}

// persistResult stores a collection result and finalizes its task, then
// forwards the added posts to the sink (best effort).
func (m *PlatformManager) persistResult(result *types.CollectionResult) (*types.CollectionResult, error) {
	added, err := m.store.InsertPosts(result)
	if err != nil {
		return nil, fmt.Errorf("failed to persist results for task %q: %w", result.Task.TaskName, err)
	}

	task := result.Task
	task.FoundItems = result.CollectedItems
	task.AddedItems = len(added)
	task.CollectionDuration = result.Duration
	if !task.Transient {
		task.Status = types.TaskStatusDone
	}

	metrics.PostsFound.WithLabelValues(m.platform).Add(float64(result.CollectedItems))
	metrics.PostsAdded.WithLabelValues(m.platform).Add(float64(len(added)))
	metrics.TasksProcessed.WithLabelValues(m.platform, string(types.TaskStatusDone)).Inc()
	m.publish(events.EventTaskDone, task.TaskName,
		fmt.Sprintf("collected %d items, added %d", result.CollectedItems, len(added)))
	m.logger.Info().
		Str("task_name", task.TaskName).
		Int("found", result.CollectedItems).
		Int("added", len(added)).
		Int64("duration_ms", result.Duration).
		Msg("task done")

	if m.sink != nil && len(added) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := m.sink.Send(ctx, m.platform, task.TaskName, added); err != nil {
			m.logger.Warn().Err(err).Msg("sink delivery failed")
		}
		cancel()
	}

	result.Posts = added
	return result, nil
}

// haltForQuota installs a quota halt and returns the running task to INIT
func (m *PlatformManager) haltForQuota(task *types.Task, releaseAt time.Time) error {
	if err := m.quotas.Store(m.platform, releaseAt); err != nil {
		return fmt.Errorf("failed to persist quota halt: %w", err)
	}
	m.setHalt(&releaseAt)

	if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusInit); err != nil {
		return err
	}

	metrics.QuotaHalts.WithLabelValues(m.platform).Inc()
	metrics.QuotaHalted.WithLabelValues(m.platform).Set(1)
	m.publish(events.EventQuotaHalted, task.TaskName, fmt.Sprintf("halted until %s", releaseAt.Format(time.RFC3339)))
	m.logger.Warn().
		Str("task_name", task.TaskName).
		Time("release_at", releaseAt).
		Msg("quota exceeded, halting platform")
	return nil
}

func (m *PlatformManager) failTask(task *types.Task, cause error) {
	if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusAborted); err != nil {
		m.logger.Error().Err(err).Str("task_name", task.TaskName).Msg("failed to mark task aborted")
	}
	metrics.TasksProcessed.WithLabelValues(m.platform, string(types.TaskStatusAborted)).Inc()
	m.publish(events.EventTaskAborted, task.TaskName, cause.Error())
	m.logger.Error().Err(cause).Str("task_name", task.TaskName).Msg("task aborted")
}

// pace sleeps the configured delay plus jitter. Returns false when the
// context was canceled during the sleep.
func (m *PlatformManager) pace(ctx context.Context) bool {
	delay := time.Duration(m.requestDelay) * time.Second
	if m.delayRandomize > 0 {
		delay += time.Duration(rand.Int63n(int64(m.delayRandomize)+1)) * time.Second
	}
	if delay == 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *PlatformManager) publish(eventType events.EventType, taskName, message string) {
	if m.broker == nil {
		return
	}
	metadata := map[string]string{"platform": m.platform}
	if taskName != "" {
		metadata["task_name"] = taskName
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		Platform: m.platform,
		Message:  message,
		Metadata: metadata,
	})
}

func isQuotaError(err error) bool {
	var quotaErr *adapter.QuotaError
	return errors.As(err, &quotaErr)
}

func isFatalError(err error) bool {
	var fatalErr *adapter.FatalError
	return errors.As(err, &fatalErr)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
