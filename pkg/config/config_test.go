package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Search.DefaultLimit != 20 || cfg.Search.MaxResults != 100 {
		t.Errorf("unexpected search limits: %+v", cfg.Search)
	}
	if cfg.Redis.Enabled || cfg.Kafka.Enabled || cfg.Postgres.Enabled {
		t.Error("external backends must be disabled by default")
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsearch.yaml")
	data := `
server:
  port: 9000
projects:
  sail-on: /srv/docs/searchindex.js
search:
  defaultLimit: 5
  maxResults: 50
  scorer:
    title: 20
    objPrio:
      0: 30
watch:
  debounce: 1s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DS_SERVER_PORT", "9100")
	t.Setenv("DS_PROJECTS", "extra=/tmp/extra.js")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env override ignored: port = %d", cfg.Server.Port)
	}
	if cfg.Projects["sail-on"] != "/srv/docs/searchindex.js" || cfg.Projects["extra"] != "/tmp/extra.js" {
		t.Errorf("projects = %v", cfg.Projects)
	}
	if got := cfg.ProjectNames(); strings.Join(got, ",") != "extra,sail-on" {
		t.Errorf("ProjectNames = %v", got)
	}
	if cfg.Search.Scorer.Title == nil || *cfg.Search.Scorer.Title != 20 {
		t.Errorf("scorer title override not applied")
	}
	if cfg.Search.Scorer.ObjPrio[0] != 30 {
		t.Errorf("objPrio = %v", cfg.Search.Scorer.ObjPrio)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.MaxResults = 1
	cfg.Projects["docs"] = " "
	cfg.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"maxResults", "no index path", `"proxy.local"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
