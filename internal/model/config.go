// Package model defines the data structures for lanekeeper's configuration,
// events, and work-unit state.
package model

import (
	"path"
	"path/filepath"
)

// StateDirName is the per-repository state directory created by
// `lanekeeper init`.
const StateDirName = ".lanekeeper"

// ConfigFileName is the config file inside the state dir.
const ConfigFileName = "config.yaml"

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Git     GitConfig     `yaml:"git"`
	Paths   PathsConfig   `yaml:"paths"`
	Watcher WatcherConfig `yaml:"watcher"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type GitConfig struct {
	Remote     string `yaml:"remote"`
	MainBranch string `yaml:"main_branch"`
	// LanePrefix is prepended to lane branch names: <prefix>/<lane>/<wu-id>.
	LanePrefix string `yaml:"lane_prefix"`
}

// PathsConfig holds paths relative to the state dir (events log, WU specs,
// done stamps) or to the repository root (backlog artifacts). Components
// receive these explicitly; there are no ambient filesystem roots.
type PathsConfig struct {
	EventsLog   string `yaml:"events_log"`
	SpecsDir    string `yaml:"specs_dir"`
	StampsDir   string `yaml:"stamps_dir"`
	BacklogFile string `yaml:"backlog_file"`
	StatusFile  string `yaml:"status_file"`
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
	AutoRepair      bool    `yaml:"auto_repair"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// DefaultConfig returns the configuration written by `lanekeeper init`.
func DefaultConfig(projectName string) Config {
	return Config{
		Project: ProjectConfig{Name: projectName},
		Git: GitConfig{
			Remote:     "origin",
			MainBranch: "main",
			LanePrefix: "lane",
		},
		Paths: PathsConfig{
			EventsLog:   "events.ndjson",
			SpecsDir:    "wus",
			StampsDir:   "stamps",
			BacklogFile: "BACKLOG.md",
			StatusFile:  "STATUS.md",
		},
		Watcher: WatcherConfig{
			DebounceSec:     1.0,
			ScanIntervalSec: 60,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Layout resolves the relative entries of PathsConfig against a repository
// root. Everything downstream of config loading works with these absolute
// paths.
type Layout struct {
	Root        string
	StateDir    string
	ConfigFile  string
	EventsLog   string
	SpecsDir    string
	StampsDir   string
	BacklogFile string
	StatusFile  string
}

func (c Config) Layout(root string) Layout {
	stateDir := filepath.Join(root, StateDirName)
	return Layout{
		Root:        root,
		StateDir:    stateDir,
		ConfigFile:  filepath.Join(stateDir, ConfigFileName),
		EventsLog:   filepath.Join(stateDir, c.Paths.EventsLog),
		SpecsDir:    filepath.Join(stateDir, c.Paths.SpecsDir),
		StampsDir:   filepath.Join(stateDir, c.Paths.StampsDir),
		BacklogFile: filepath.Join(root, c.Paths.BacklogFile),
		StatusFile:  filepath.Join(root, c.Paths.StatusFile),
	}
}

// RelEventsLog is the events log path relative to the repository root,
// slash-separated as `git show <ref>:<path>` expects.
func (c Config) RelEventsLog() string {
	return path.Join(StateDirName, c.Paths.EventsLog)
}

// LaneBranch is the branch name a lane worktree is created from for a WU.
func (c Config) LaneBranch(lane, wuID string) string {
	return c.Git.LanePrefix + "/" + lane + "/" + wuID
}
