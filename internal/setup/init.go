// Package setup handles lanekeeper project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/skohara/lanekeeper/internal/model"
	lkyaml "github.com/skohara/lanekeeper/internal/yaml"
	"github.com/skohara/lanekeeper/templates"
)

// Run scaffolds the .lanekeeper/ state directory in projectDir.
// projectName overrides the auto-detected name (directory basename).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, model.StateDirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	layout := cfg.Layout(absDir)

	dirs := []string{
		layout.SpecsDir,
		layout.StampsDir,
		filepath.Join(base, "quarantine"),
		filepath.Join(base, "locks"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// The event log starts empty; it only ever grows by appends.
	if err := os.WriteFile(layout.EventsLog, nil, 0644); err != nil {
		return fmt.Errorf("create events log: %w", err)
	}

	if err := lkyaml.AtomicWrite(layout.ConfigFile, cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Backlog artifacts live at the repo root and may already exist in
	// a repo that adopted lanekeeper late; never clobber them.
	rootFiles := map[string]string{
		"BACKLOG.md": layout.BacklogFile,
		"STATUS.md":  layout.StatusFile,
	}
	for name, dst := range rootFiles {
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyTemplateFile(name, dst); err != nil {
			return err
		}
	}

	return nil
}

// LoadConfig reads the project config under root's state dir.
func LoadConfig(root string) (model.Config, error) {
	var cfg model.Config
	path := filepath.Join(root, model.StateDirName, model.ConfigFileName)
	if err := lkyaml.ValidateSchemaHeader(path, "config"); err != nil {
		return cfg, err
	}
	if err := lkyaml.Load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FindRoot walks upward from dir looking for a .lanekeeper state dir.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if fi, err := os.Stat(filepath.Join(abs, model.StateDirName)); err == nil && fi.IsDir() {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no %s directory found above %s", model.StateDirName, dir)
		}
		abs = parent
	}
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(projectDir, projectName string) (*configFile, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg configFile
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	return &cfg, nil
}

// configFile is model.Config plus the schema header every YAML state file
// carries.
type configFile struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	model.Config  `yaml:",inline"`
}

func (c *configFile) Layout(root string) model.Layout {
	return c.Config.Layout(root)
}
