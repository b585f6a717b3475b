package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/magpielab/magpie/pkg/adapter"
	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/events"
	"github.com/magpielab/magpie/pkg/ingest"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/manager"
	"github.com/magpielab/magpie/pkg/metrics"
	"github.com/magpielab/magpie/pkg/quota"
	"github.com/magpielab/magpie/pkg/sink"
	"github.com/magpielab/magpie/pkg/store"
	"github.com/magpielab/magpie/pkg/types"
)

// Orchestrator supervises all platform managers and drives the periodic
// collection loop. It owns the platform catalog, the quota registry, and
// the event broker.
type Orchestrator struct {
	cfg      *config.Config
	meta     *store.MetaStore
	quotas   *quota.Registry
	broker   *events.Broker
	managers map[string]*manager.PlatformManager
	tasks    *ingest.TaskManager
	logger   zerolog.Logger

	mu           sync.Mutex
	passSeq      int
	passCancels  map[int]context.CancelFunc
	stopLoopOnce sync.Once
	stopLoop     chan struct{}
}

// New builds an orchestrator from the run config: opens the platform
// catalog, constructs a manager per configured platform via the adapter
// registry, and recovers tasks left RUNNING by an abrupt shutdown.
func New(cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	meta, err := store.OpenMeta(cfg.MetaStorePath())
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:         cfg,
		meta:        meta,
		quotas:      quota.NewRegistry(cfg.QuotaRegistryPath()),
		broker:      events.NewBroker(),
		managers:    map[string]*manager.PlatformManager{},
		passCancels: map[int]context.CancelFunc{},
		logger:      log.WithComponent("orchestrator"),
		stopLoop:    make(chan struct{}),
	}
	o.broker.Start()

	postSink := sink.New(cfg.Sink)
	if postSink != nil {
		o.logger.Info().Str("url", postSink.URL()).Msg("post sink configured")
	}

	for platform, client := range cfg.Clients {
		if err := meta.AddDatabase(platform, client.DBConfig.Connection.DBPath, true); err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to catalog platform %s: %w", platform, err)
		}

		platformAdapter, err := adapter.New(platform, adapter.Config{
			Auth:           client.AuthConfig,
			RequestDelay:   client.RequestDelay,
			DelayRandomize: client.DelayRandomize,
			TestMode:       client.DBConfig.TestMode,
		})
		if err != nil {
			o.Close()
			return nil, err
		}

		platformStore, err := store.OpenSQLite(platform, client.DBConfig.Connection.DBPath)
		if err != nil {
			o.Close()
			return nil, err
		}

		m := manager.New(platform, platformAdapter, platformStore, o.quotas, manager.Options{
			Active:                 client.Progress,
			RequestDelay:           client.RequestDelay,
			DelayRandomize:         client.DelayRandomize,
			IgnoreInitialQuotaHalt: client.IgnoreInitialQuotaHalt,
			Broker:                 o.broker,
			Sink:                   postSink,
		})

		reset, err := m.ResetRunningTasks()
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to recover platform %s: %w", platform, err)
		}
		if reset > 0 {
			o.logger.Info().Str("platform", platform).Int("tasks", reset).Msg("recovered tasks left running")
		}

		o.managers[platform] = m
	}

	o.tasks = ingest.New(cfg, o.managers)
	return o, nil
}

// Close releases the catalog, the broker, and every platform store
func (o *Orchestrator) Close() error {
	o.broker.Stop()
	for _, m := range o.managers {
		m.Store().Close()
	}
	return o.meta.Close()
}

// Broker exposes the event broker for subscribers (daemon log, API)
func (o *Orchestrator) Broker() *events.Broker {
	return o.broker
}

// TaskManager exposes task intake for the CLI and the HTTP API
func (o *Orchestrator) TaskManager() *ingest.TaskManager {
	return o.tasks
}

// Manager returns the manager for a platform symbol
func (o *Orchestrator) Manager(platform string) (*manager.PlatformManager, bool) {
	m, ok := o.managers[platform]
	return m, ok
}

// Platforms returns the configured platform symbols, sorted
func (o *Orchestrator) Platforms() []string {
	platforms := make([]string, 0, len(o.managers))
	for platform := range o.managers {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}

// Collect runs one full pass: drain the task directory, reset stuck
// tasks, then progress every active platform concurrently.
func (o *Orchestrator) Collect(ctx context.Context) (map[string]*types.ProgressReport, error) {
	if _, err := o.tasks.ScanTaskDir(); err != nil {
		o.logger.Error().Err(err).Msg("task directory scan failed")
	}
	if err := o.ResetStuckTasks(); err != nil {
		return nil, err
	}

	reports, err := o.ProgressTasks(ctx)
	metrics.CollectPasses.Inc()
	o.broker.Publish(&events.Event{
		Type:    events.EventCollectPass,
		Message: fmt.Sprintf("collection pass over %d platforms", len(reports)),
	})
	return reports, err
}

// ResetStuckTasks returns RUNNING tasks to INIT on every idle platform.
// A platform currently inside a pass is left alone.
func (o *Orchestrator) ResetStuckTasks() error {
	for platform, m := range o.managers {
		if m.RunState() != types.RunStateIdle {
			continue
		}
		reset, err := m.ResetRunningTasks()
		if err != nil {
			return fmt.Errorf("failed to reset stuck tasks on platform %s: %w", platform, err)
		}
		if reset > 0 {
			o.logger.Warn().Str("platform", platform).Int("tasks", reset).Msg("reset stuck tasks")
		}
	}
	return nil
}

// ProgressTasks runs every active manager's pass concurrently and waits
// for all of them. A fatal platform error cancels the sibling passes.
func (o *Orchestrator) ProgressTasks(ctx context.Context) (map[string]*types.ProgressReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Passes can overlap (loop tick vs HTTP submit); each tracks its own
	// cancel func so a finishing pass cannot disarm a running one.
	o.mu.Lock()
	o.passSeq++
	passID := o.passSeq
	o.passCancels[passID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.passCancels, passID)
		o.mu.Unlock()
	}()

	group, ctx := errgroup.WithContext(ctx)

	var reportsMu sync.Mutex
	reports := map[string]*types.ProgressReport{}

	for platform, m := range o.managers {
		if !m.Active() {
			continue
		}
		group.Go(func() error {
			results, err := m.ProcessAllTasks(ctx)

			report := &types.ProgressReport{}
			for _, result := range results {
				if result.Task != nil {
					report.TaskNames = append(report.TaskNames, result.Task.TaskName)
				}
				report.PostsAdded += len(result.Posts)
			}
			reportsMu.Lock()
			reports[platform] = report
			reportsMu.Unlock()

			if err != nil {
				return fmt.Errorf("platform %s: %w", platform, err)
			}
			return nil
		})
	}

	return reports, group.Wait()
}

// AbortTasks cancels every in-flight collection pass. In-flight tasks
// return to INIT.
func (o *Orchestrator) AbortTasks() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.passCancels {
		cancel()
	}
}

// RunCollectLoop repeats Collect until the context is canceled or a
// fatal platform error surfaces.
func (o *Orchestrator) RunCollectLoop(ctx context.Context) error {
	interval := o.cfg.LoopIntervalDuration()
	o.logger.Info().Dur("interval", interval).Msg("starting collection loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Collect(ctx); err != nil {
			o.logger.Error().Err(err).Msg("collection pass failed")
			return err
		}

		select {
		case <-ctx.Done():
			o.logger.Info().Msg("collection loop stopped")
			return nil
		case <-o.stopLoop:
			o.logger.Info().Msg("collection loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// StopLoop ends RunCollectLoop after the current pass
func (o *Orchestrator) StopLoop() {
	o.stopLoopOnce.Do(func() { close(o.stopLoop) })
}

// Status reports run state and activity per platform
func (o *Orchestrator) Status() map[string]types.PlatformStatus {
	status := make(map[string]types.PlatformStatus, len(o.managers))
	for platform, m := range o.managers {
		status[platform] = types.PlatformStatus{
			RunState: m.RunState(),
			Active:   m.Active(),
		}
	}
	return status
}

// GeneralStatus reports per-store totals from the platform catalog
func (o *Orchestrator) GeneralStatus(includeTaskCounts bool) ([]types.StatusRow, error) {
	return o.meta.GeneralStatus(includeTaskCounts)
}

// Databases lists the platform catalog
func (o *Orchestrator) Databases() ([]types.PlatformCatalogEntry, error) {
	return o.meta.ListDatabases()
}
