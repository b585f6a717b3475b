package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/manager"
	"github.com/magpielab/magpie/pkg/parser"
	"github.com/magpielab/magpie/pkg/types"
)

// TaskManager routes declarative task payloads to platform managers. It
// serves both the inbound task directory and direct submissions from the
// CLI and the HTTP API.
type TaskManager struct {
	taskDir      string
	processedDir string
	moveAccepted bool

	managers map[string]*manager.PlatformManager
	parser   *parser.Parser
	logger   zerolog.Logger
}

// New creates a task manager over the given platform managers
func New(cfg *config.Config, managers map[string]*manager.PlatformManager) *TaskManager {
	t := &TaskManager{
		taskDir:      cfg.TaskDir,
		processedDir: cfg.ProcessedTaskDir,
		moveAccepted: cfg.MoveProcessedTasks,
		managers:     managers,
		logger:       log.WithComponent("ingest"),
	}
	t.parser = &parser.Parser{ResolveIndex: t.resolveIndex}
	return t
}

// resolveIndex asks the platform's store for the next free group index
func (t *TaskManager) resolveIndex(platform, groupPrefix string) (int, error) {
	m, ok := t.managers[platform]
	if !ok {
		return 0, fmt.Errorf("no manager configured for platform %q", platform)
	}
	return m.NextGroupIndex(groupPrefix)
}

// Submission reports the outcome of one payload
type Submission struct {
	// Parsed is the number of concrete tasks the payload expanded into.
	Parsed int `json:"parsed"`
	// Added maps platform to the task names actually inserted.
	Added map[string][]string `json:"added"`
}

// FullyAccepted reports whether every parsed task was inserted
func (s *Submission) FullyAccepted() bool {
	added := 0
	for _, names := range s.Added {
		added += len(names)
	}
	return added == s.Parsed
}

// Submit parses a payload and routes the resulting tasks to their platform
// managers. Tasks for unconfigured platforms fail the whole submission
// before anything is inserted.
func (t *TaskManager) Submit(data []byte) (*Submission, error) {
	tasks, err := t.parser.ParseData(data)
	if err != nil {
		return nil, err
	}

	byPlatform := map[string][]*types.Task{}
	for _, task := range tasks {
		if _, ok := t.managers[task.Platform]; !ok {
			return nil, fmt.Errorf("no manager configured for platform %q", task.Platform)
		}
		byPlatform[task.Platform] = append(byPlatform[task.Platform], task)
	}

	submission := &Submission{Parsed: len(tasks), Added: map[string][]string{}}
	for platform, group := range byPlatform {
		added, err := t.managers[platform].AddTasks(group)
		if err != nil {
			return nil, err
		}
		submission.Added[platform] = added
	}
	return submission, nil
}

// ScanTaskDir processes every *.json file in the task directory. A fully
// accepted file is moved to the processed directory when the move flag is
// set; partially accepted files stay put for the operator to fix.
func (t *TaskManager) ScanTaskDir() (int, error) {
	paths, err := filepath.Glob(filepath.Join(t.taskDir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to scan task directory: %w", err)
	}

	total := 0
	for _, path := range paths {
		added, err := t.processFile(path)
		if err != nil {
			t.logger.Error().Err(err).Str("file", path).Msg("failed to process task file")
			continue
		}
		total += added
	}
	return total, nil
}

func (t *TaskManager) processFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read task file: %w", err)
	}

	submission, err := t.Submit(data)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, names := range submission.Added {
		added += len(names)
	}
	t.logger.Info().
		Str("file", filepath.Base(path)).
		Int("parsed", submission.Parsed).
		Int("added", added).
		Msg("task file processed")

	if submission.FullyAccepted() && t.moveAccepted {
		target := filepath.Join(t.processedDir, filepath.Base(path))
		if err := os.Rename(path, target); err != nil {
			return added, fmt.Errorf("failed to move processed task file: %w", err)
		}
	}
	return added, nil
}
