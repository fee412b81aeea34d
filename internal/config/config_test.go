package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.DefaultRegion != "us-east-1" {
		t.Errorf("default region = %s", cfg.Provider.DefaultRegion)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 10 || cfg.Scheduler.TaskTimeoutSeconds != 300 {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	yml := "provider:\n  default_region: eu-west-1\nscheduler:\n  max_concurrent_tasks: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "awsctl.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.DefaultRegion != "eu-west-1" {
		t.Errorf("region override lost: %s", cfg.Provider.DefaultRegion)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 3 {
		t.Errorf("concurrency override lost: %d", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scheduler.TaskTimeoutSeconds != 300 {
		t.Errorf("unset field should keep default: %d", cfg.Scheduler.TaskTimeoutSeconds)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"provider:\n  default_region: \"\"\n",
		"scheduler:\n  max_concurrent_tasks: 0\n",
		"scheduler:\n  task_timeout_seconds: -1\n",
	}
	for _, yml := range cases {
		if _, err := FromYAML([]byte(yml)); err == nil {
			t.Errorf("FromYAML(%q) should fail", yml)
		}
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default config invalid: %v", err)
	}
	if !strings.Contains(GenerateDefault(), "default_region") {
		t.Error("template should set default_region")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server addr = %s", cfg.Server.Addr)
	}
}
