package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skohara/lanekeeper/internal/model"
)

func TestRun_ScaffoldsStateDir(t *testing.T) {
	dir := t.TempDir()

	if err := Run(dir, "payments"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	base := filepath.Join(dir, model.StateDirName)
	for _, sub := range []string{"wus", "stamps", "quarantine", "locks"} {
		if fi, err := os.Stat(filepath.Join(base, sub)); err != nil || !fi.IsDir() {
			t.Errorf("missing directory %s: %v", sub, err)
		}
	}

	log, err := os.ReadFile(filepath.Join(base, "events.ndjson"))
	if err != nil {
		t.Fatalf("events log not created: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("events log should start empty, got %d bytes", len(log))
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Project.Name != "payments" {
		t.Errorf("project name = %q, want payments", cfg.Project.Name)
	}
	if cfg.Git.MainBranch != "main" || cfg.Git.LanePrefix != "lane" {
		t.Errorf("git config = %+v", cfg.Git)
	}

	backlog, err := os.ReadFile(filepath.Join(dir, "BACKLOG.md"))
	if err != nil {
		t.Fatalf("BACKLOG.md not created: %v", err)
	}
	for _, section := range []string{"## Ready", "## In Progress", "## Done"} {
		if !strings.Contains(string(backlog), section) {
			t.Errorf("BACKLOG.md missing section %q", section)
		}
	}
}

func TestRun_DefaultsProjectNameToDirBasename(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "billing-service")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := Run(dir, ""); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Project.Name != "billing-service" {
		t.Errorf("project name = %q", cfg.Project.Name)
	}
}

func TestRun_RefusesExistingStateDir(t *testing.T) {
	dir := t.TempDir()
	if err := Run(dir, ""); err != nil {
		t.Fatal(err)
	}
	if err := Run(dir, ""); err == nil {
		t.Fatal("second Run() should refuse to re-initialize")
	}
}

func TestRun_KeepsExistingBacklog(t *testing.T) {
	dir := t.TempDir()
	existing := "# Backlog\n\n## In Progress\n\n- wu_1771722000_a3f2b7c1 — Sample work (auth)\n"
	if err := os.WriteFile(filepath.Join(dir, "BACKLOG.md"), []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Run(dir, ""); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "BACKLOG.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != existing {
		t.Error("init overwrote an existing BACKLOG.md")
	}
}

func TestFindRoot(t *testing.T) {
	dir := t.TempDir()
	if err := Run(dir, ""); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(dir, "internal", "auth")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot() error: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != want {
		t.Errorf("FindRoot() = %q, want %q", resolved, want)
	}

	if _, err := FindRoot(t.TempDir()); err == nil {
		t.Error("FindRoot() should fail outside a project")
	}
}
