package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magpielab/magpie/pkg/types"
)

// ClientAdapter transforms abstract collection configs into provider queries
// and executes single collections against an external API.
//
// Adapters return their expected failures as typed errors (InvalidConfigError,
// CollectionError, QuotaError, FatalError); they never panic across the
// ExecuteTask boundary. The core treats adapters as opaque.
type ClientAdapter interface {
	// Setup performs one-shot initialization (credentials, session). It is
	// idempotent; on failure it is retried the next time the manager
	// processes a batch.
	Setup() error

	// TransformConfig validates and translates the abstract config into the
	// provider-specific request. Returns InvalidConfigError when required
	// provider fields cannot be satisfied.
	TransformConfig(cfg types.CollectConfig) (any, error)

	// TransformConfigToSerializable is like TransformConfig but returns the
	// JSON projection persisted on the task row. The projection is canonical:
	// re-projecting it yields identical bytes.
	TransformConfigToSerializable(cfg types.CollectConfig) (json.RawMessage, error)

	// ExecuteTask performs one collection. All expected failures come back
	// as typed errors; a QuotaError carries the provider's release time.
	ExecuteTask(ctx context.Context, task *types.Task) (*types.CollectionResult, error)

	// CreatePostEntry maps one raw provider item onto the store row shape.
	CreatePostEntry(item map[string]any, task *types.Task) *types.Post

	// PlatformName returns the platform symbol this adapter serves.
	PlatformName() string
}

// Config is the adapter construction config derived from the run config
type Config struct {
	Platform       string
	Auth           map[string]string
	RequestDelay   int
	DelayRandomize int
	TestMode       bool
}

// Factory constructs a platform adapter from its config
type Factory func(cfg Config) (ClientAdapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a factory for a platform symbol. Platform adapters
// register themselves in init; registering a symbol twice panics because it
// is a programming error.
func Register(platform string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[platform]; ok {
		panic(fmt.Sprintf("adapter already registered for platform %q", platform))
	}
	registry[platform] = factory
}

// New constructs the adapter registered for a platform symbol
func New(platform string, cfg Config) (ClientAdapter, error) {
	registryMu.RLock()
	factory, ok := registry[platform]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	cfg.Platform = platform
	return factory(cfg)
}

// Registered returns the sorted list of platform symbols with adapters
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	platforms := make([]string, 0, len(registry))
	for platform := range registry {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}

// InvalidConfigError reports an abstract config that cannot be serialized
// for the target provider. Tasks carrying one are stored as INVALID_CONF.
type InvalidConfigError struct {
	Platform string
	Reason   string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for platform %s: %s", e.Platform, e.Reason)
}

// CollectionError reports a transient collection failure (network blip,
// malformed payload). The owning task is marked ABORTED and the loop
// continues with the next task.
type CollectionError struct {
	Platform string
	Cause    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection failed on platform %s: %v", e.Platform, e.Cause)
}

func (e *CollectionError) Unwrap() error {
	return e.Cause
}

// QuotaError reports a provider quota/rate-limit boundary lasting beyond
// retry. The manager halts the platform until ReleaseAt.
type QuotaError struct {
	Platform  string
	ReleaseAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded on platform %s until %s", e.Platform, e.ReleaseAt.Format(time.RFC3339))
}

// FatalError reports an unrecoverable adapter failure (credential loss).
// It is re-raised from the manager to the orchestrator.
type FatalError struct {
	Platform string
	Cause    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal adapter error on platform %s: %v", e.Platform, e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}
