package parser

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TaskSpec is the boundary shape of a single declarative task
type TaskSpec struct {
	TaskName         string         `json:"task_name" validate:"required,max=50"`
	Platform         string         `json:"platform" validate:"required"`
	CollectionConfig map[string]any `json:"collection_config" validate:"required"`
	Transient        bool           `json:"transient"`
	Test             bool           `json:"test"`
	Overwrite        bool           `json:"overwrite"`
}

// Interval mirrors the timedelta-kwargs shape of the task file format
type Interval struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Duration converts the interval to a time.Duration
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Days)*24*time.Hour +
		time.Duration(i.Hours)*time.Hour +
		time.Duration(i.Minutes)*time.Minute +
		time.Duration(i.Seconds)*time.Second
}

// TimeConfig spans the time grid of a task group
type TimeConfig struct {
	Start    string    `json:"start" validate:"required"`
	End      string    `json:"end" validate:"required"`
	Interval Interval  `json:"interval" validate:"required"`
	Timespan *Interval `json:"timespan,omitempty"`

	// ClampToSameDay caps each window's to_time at the end of the day its
	// timestamp falls on.
	ClampToSameDay bool `json:"clamp_to_same_day"`
	// TruncateOverflow drops the last window whose to_time exceeds End.
	TruncateOverflow bool `json:"truncate_overflow"`
}

// GroupSpec is the boundary shape of a declarative task group
type GroupSpec struct {
	Platform       PlatformList     `json:"platform" validate:"required,min=1"`
	GroupPrefix    string           `json:"group_prefix" validate:"required,max=40"`
	StaticParams   map[string]any   `json:"static_params"`
	VariableParams OrderedParams    `json:"variable_params"`
	TimeConfig     TimeConfig       `json:"time_config" validate:"required"`
	Transient      bool             `json:"transient"`
	Test           bool             `json:"test"`
	Overwrite      bool             `json:"overwrite"`
	TestData       []map[string]any `json:"test_data,omitempty"`
	ForceNewIndex  bool             `json:"force_new_index"`
}

// PlatformList accepts a platform symbol or a list of symbols
type PlatformList []string

func (p *PlatformList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = PlatformList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("platform must be a string or a list of strings")
	}
	*p = PlatformList(many)
	return nil
}

// OrderedParams is a name → values map preserving the document's key order,
// which fixes the iteration order of the parameter Cartesian product.
type OrderedParams struct {
	Keys   []string
	Values map[string][]any
}

func (p *OrderedParams) UnmarshalJSON(data []byte) error {
	p.Keys = nil
	p.Values = map[string][]any{}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("variable_params must be an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var values []any
		if err := dec.Decode(&values); err != nil {
			return fmt.Errorf("variable_params.%s must be a list: %w", key, err)
		}
		p.Keys = append(p.Keys, key)
		p.Values[key] = values
	}
	return nil
}

// ParseError reports a payload matching neither the single-task nor the
// group schema; it carries both validation traces.
type ParseError struct {
	SingleErr error
	GroupErr  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("payload matches neither task nor group schema (task: %v; group: %v)", e.SingleErr, e.GroupErr)
}

// IndexResolver returns the start index for a group expansion on a platform.
// It backs force_new_index: resolving past the highest existing index of the
// group prefix.
type IndexResolver func(platform, groupPrefix string) (int, error)

// Parser turns declarative task payloads into concrete tasks
type Parser struct {
	// ResolveIndex is consulted for groups with force_new_index set. When
	// nil, expansion always starts at index 0.
	ResolveIndex IndexResolver
}

// ParseData accepts the three root shapes: a single task object, an array of
// task or group objects, or a task group object.
func (p *Parser) ParseData(data []byte) ([]*types.Task, error) {
	var rawList []json.RawMessage
	if err := json.Unmarshal(data, &rawList); err == nil {
		var all []*types.Task
		for i, raw := range rawList {
			tasks, err := p.parseOne(raw)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			all = append(all, tasks...)
		}
		return all, nil
	}
	return p.parseOne(data)
}

func (p *Parser) parseOne(data []byte) ([]*types.Task, error) {
	singleErr := func() error {
		var spec TaskSpec
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return err
		}
		return validate.Struct(&spec)
	}()
	if singleErr == nil {
		var spec TaskSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, err
		}
		task, err := taskFromSpec(&spec)
		if err != nil {
			return nil, err
		}
		return []*types.Task{task}, nil
	}

	var group GroupSpec
	groupErr := func() error {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&group); err != nil {
			return err
		}
		return validate.Struct(&group)
	}()
	if groupErr != nil {
		return nil, &ParseError{SingleErr: singleErr, GroupErr: groupErr}
	}
	return p.Expand(&group)
}

func taskFromSpec(spec *TaskSpec) (*types.Task, error) {
	cfg, err := collectConfigFromMap(spec.CollectionConfig)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", spec.TaskName, err)
	}
	return &types.Task{
		TaskName:         spec.TaskName,
		Platform:         spec.Platform,
		CollectionConfig: cfg,
		Status:           types.TaskStatusInit,
		Transient:        spec.Transient,
		Test:             spec.Test,
		Overwrite:        spec.Overwrite,
	}, nil
}

// Expand generates the concrete tasks of a group: the time grid crossed with
// the variable-parameter product, in row-major order (outer: timestamps).
// Multi-platform groups expand once and are copied per extra platform with
// names shared.
func (p *Parser) Expand(group *GroupSpec) ([]*types.Task, error) {
	timestamps, interval, err := generateTimestamps(&group.TimeConfig)
	if err != nil {
		return nil, err
	}

	var timespan time.Duration
	if group.TimeConfig.Timespan != nil {
		timespan = group.TimeConfig.Timespan.Duration()
		if timespan == interval {
			logger := log.WithComponent("parser")
			logger.Info().
				Str("group", group.GroupPrefix).
				Msg("interval and timespan are equal; interval alone would be sufficient")
		}
	}

	tuples := cartesian(group.VariableParams)
	basePlatform := group.Platform[0]

	startIndex := 0
	if group.ForceNewIndex && p.ResolveIndex != nil {
		startIndex, err = p.ResolveIndex(basePlatform, group.GroupPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve start index for group %q: %w", group.GroupPrefix, err)
		}
	}

	var base []*types.Task
	index := startIndex
	for _, ts := range timestamps {
		for _, tuple := range tuples {
			conf := make(map[string]any, len(group.StaticParams)+len(tuple)+3)
			for k, v := range group.StaticParams {
				conf[k] = v
			}
			for k, v := range tuple {
				conf[k] = v
			}

			from := ts
			if timespan != 0 {
				from = ts.Add(interval - timespan)
			}
			to := ts.Add(interval)
			if group.TimeConfig.ClampToSameDay {
				if dayEnd := endOfDay(ts); to.After(dayEnd) {
					to = dayEnd
				}
			}
			conf["from_time"] = from.Format(time.RFC3339)
			conf["to_time"] = to.Format(time.RFC3339)
			if len(group.TestData) > 0 {
				conf["test_data"] = group.TestData
			}

			cfg, err := collectConfigFromMap(conf)
			if err != nil {
				return nil, fmt.Errorf("group %q index %d: %w", group.GroupPrefix, index, err)
			}

			base = append(base, &types.Task{
				TaskName:         fmt.Sprintf("%s_%d", group.GroupPrefix, index),
				Platform:         basePlatform,
				CollectionConfig: cfg,
				Status:           types.TaskStatusInit,
				Transient:        group.Transient,
				Test:             group.Test,
				Overwrite:        group.Overwrite,
			})
			index++
		}
	}

	all := base
	for _, platform := range group.Platform[1:] {
		for _, task := range base {
			copied := *task
			copied.Platform = platform
			// Copies must be fully independent: the maps inside the config
			// would otherwise be shared across platforms.
			copied.CollectionConfig.Extra = maps.Clone(task.CollectionConfig.Extra)
			copied.CollectionConfig.TestData = cloneItems(task.CollectionConfig.TestData)
			all = append(all, &copied)
		}
	}
	return all, nil
}

func cloneItems(items []map[string]any) []map[string]any {
	if items == nil {
		return nil
	}
	cloned := make([]map[string]any, len(items))
	for i, item := range items {
		cloned[i] = maps.Clone(item)
	}
	return cloned
}

func generateTimestamps(tc *TimeConfig) ([]time.Time, time.Duration, error) {
	start, err := time.Parse(time.RFC3339, tc.Start)
	if err != nil {
		return nil, 0, fmt.Errorf("time_config.start is not RFC3339: %q", tc.Start)
	}
	end, err := time.Parse(time.RFC3339, tc.End)
	if err != nil {
		return nil, 0, fmt.Errorf("time_config.end is not RFC3339: %q", tc.End)
	}
	interval := tc.Interval.Duration()
	if interval <= 0 {
		return nil, 0, fmt.Errorf("time_config.interval must be positive")
	}

	var timestamps []time.Time
	for ts := start; !ts.After(end); ts = ts.Add(interval) {
		if tc.TruncateOverflow && ts.Add(interval).After(end) {
			break
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, interval, nil
}

// cartesian builds the variable-parameter product in key insertion order.
// Empty params yield a single empty tuple.
func cartesian(params OrderedParams) []map[string]any {
	tuples := []map[string]any{{}}
	for _, key := range params.Keys {
		values := params.Values[key]
		next := make([]map[string]any, 0, len(tuples)*len(values))
		for _, tuple := range tuples {
			for _, value := range values {
				combined := make(map[string]any, len(tuple)+1)
				for k, v := range tuple {
					combined[k] = v
				}
				combined[key] = value
				next = append(next, combined)
			}
		}
		tuples = next
	}
	return tuples
}

func endOfDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location()).Add(24 * time.Hour)
}

// collectConfigFromMap maps the boundary object onto CollectConfig, routing
// unknown keys into Extra so they pass through to the adapter.
func collectConfigFromMap(conf map[string]any) (types.CollectConfig, error) {
	var cfg types.CollectConfig
	for key, value := range conf {
		var err error
		switch key {
		case "query":
			cfg.Query, err = asString(key, value)
		case "limit":
			cfg.Limit, err = asInt(key, value)
		case "from_time":
			cfg.FromTime, err = asString(key, value)
		case "to_time":
			cfg.ToTime, err = asString(key, value)
		case "language":
			cfg.Language, err = asString(key, value)
		case "location_base":
			cfg.LocationBase, err = asString(key, value)
		case "location_mod":
			cfg.LocationMod, err = asString(key, value)
		case "test_data":
			cfg.TestData, err = asItemList(key, value)
		default:
			if cfg.Extra == nil {
				cfg.Extra = map[string]any{}
			}
			cfg.Extra[key] = value
		}
		if err != nil {
			return types.CollectConfig{}, err
		}
	}
	return cfg, nil
}

func asString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("collection_config.%s must be a string", key)
	}
	return s, nil
}

func asInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("collection_config.%s must be a number", key)
	}
}

func asItemList(key string, value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, el := range v {
			item, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("collection_config.%s must be a list of objects", key)
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("collection_config.%s must be a list of objects", key)
	}
}
