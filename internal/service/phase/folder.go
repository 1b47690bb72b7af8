package phase

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// PhasesFolderEnv points at an optional directory of workflow definition
// YAML files loaded at startup and reloaded on change.
const PhasesFolderEnv = "HEPHAESTUS_PHASES_FOLDER"

type definitionFile struct {
	ID             string               `yaml:"id"`
	Name           string               `yaml:"name"`
	Description    string               `yaml:"description"`
	Phases         []core.PhaseTemplate `yaml:"phases"`
	WorkflowConfig core.WorkflowConfig  `yaml:"workflow_config"`
}

// LoadFolder registers every .yaml/.yml definition in dir. Files that fail to
// parse or validate are logged and skipped; one bad file never blocks the
// rest.
func (e *Engine) LoadFolder(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return core.ErrExecution("PHASES_FOLDER_UNREADABLE", "reading phases folder").WithCause(err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.loadFile(ctx, path); err != nil {
			e.log.Warn("skipping phases file", "path", path, "error", err)
		}
	}
	return nil
}

func (e *Engine) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if f.Name == "" {
		f.Name = f.ID
	}
	def := &core.WorkflowDefinition{
		ID:             f.ID,
		Name:           f.Name,
		Description:    f.Description,
		PhasesConfig:   f.Phases,
		WorkflowConfig: f.WorkflowConfig,
	}
	return e.RegisterDefinition(ctx, def)
}

// WatchFolder re-registers definitions when files in dir change. It blocks
// until ctx is cancelled.
func (e *Engine) WatchFolder(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	e.log.Info("watching phases folder", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := e.loadFile(ctx, ev.Name); err != nil {
				e.log.Warn("reloading phases file failed", "path", ev.Name, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("phases folder watch error", "error", err)
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
