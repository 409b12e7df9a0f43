package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/hubrelay/internal/audit"
	"github.com/nerrad567/hubrelay/internal/auth"
	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
	"github.com/nerrad567/hubrelay/internal/infrastructure/database"
	"github.com/nerrad567/hubrelay/migrations"
)

var testBuild = BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-05-01"}

func testRoutine(r *automation.Registry, _ automation.Services) error {
	noop := automation.Func(func(context.Context) error { return nil }, automation.Named("cli_test.noop"))
	if err := r.OnStateChange(entity.MustID("light.kitchen"), noop, automation.To("on")); err != nil {
		return err
	}
	if err := r.OnSchedule("@hourly", noop); err != nil {
		return err
	}
	return r.OnServiceLifecycle(events.PhaseStart, noop)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, routines []automation.Routine, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(testBuild, routines)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, nil, "--format", "xml", "version")
	if err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Fatalf("Execute() error = %v, want invalid format", err)
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		expect string
	}{
		{"text", []string{"version"}, "hubrelay 1.2.3 (commit abc123, built 2026-05-01)\n"},
		{"json", []string{"--format", "json", "version"}, `{"Version":"1.2.3","Commit":"abc123","Date":"2026-05-01"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, nil, tt.args...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if out != tt.expect {
				t.Errorf("output = %q, want %q", out, tt.expect)
			}
		})
	}
}

func TestTriggers_Text(t *testing.T) {
	out, err := execute(t, []automation.Routine{testRoutine}, "triggers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "CATEGORY") {
		t.Errorf("header = %q", lines[0])
	}
	first := strings.Fields(lines[1])
	want := []string{"state_change", "light.kitchen", "cli_test.noop", "to=on"}
	if strings.Join(first, " ") != strings.Join(want, " ") {
		t.Errorf("first row = %v, want %v", first, want)
	}
}

func TestTriggers_JSONByCategory(t *testing.T) {
	out, err := execute(t, []automation.Routine{testRoutine}, "--format", "json", "triggers", "--category", "schedule")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var list []struct {
		Category string `json:"category"`
		Key      string `json:"key"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(list) != 1 || list[0].Category != "schedule" || list[0].Key != "@hourly" {
		t.Errorf("list = %+v, want one @hourly schedule", list)
	}
}

func TestTriggers_UnknownCategory(t *testing.T) {
	if _, err := execute(t, nil, "triggers", "--category", "nope"); err == nil {
		t.Fatal("Execute() should fail for an unknown category")
	}
}

func TestTriggers_RoutineError(t *testing.T) {
	failing := func(*automation.Registry, automation.Services) error { return fmt.Errorf("boom") }
	if _, err := execute(t, []automation.Routine{failing}, "triggers"); err == nil {
		t.Fatal("Execute() should surface a routine error")
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/etc/hubrelay.yaml", "/etc/hubrelay.yaml"},
		{"flag wins", "/tmp/a.yaml", "/etc/hubrelay.yaml", "/tmp/a.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HUBRELAY_CONFIG", tt.env)
			opts := &RootOptions{ConfigPath: tt.flag}
			if got := opts.configPath(); got != tt.want {
				t.Errorf("configPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSync(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/":
			w.Write([]byte(`{"message":"API running."}`)) //nolint:errcheck
		case "/api/states":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"entity_id":"light.kitchen","state":"on","attributes":{},` + //nolint:errcheck
				`"last_changed":"2026-05-01T12:00:00+00:00","last_updated":"2026-05-01T12:00:00+00:00"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer hub.Close()

	mr := miniredis.RunT(t)
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
site:
  timezone: UTC
hub:
  url: %q
  token: test-token
database:
  path: %q
logging:
  level: error
`, hub.URL, filepath.Join(dir, "jobs.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("HUBRELAY_CACHE_ADDR", mr.Addr())

	out, err := execute(t, nil, "--config", path, "sync")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "synchronised 1 entities\n" {
		t.Errorf("output = %q", out)
	}
	if !mr.Exists("STATE:light:kitchen") {
		t.Errorf("cache keys = %v, want light.kitchen cached", mr.Keys())
	}
}

func TestSync_BadConfig(t *testing.T) {
	if _, err := execute(t, nil, "--config", "/nonexistent/config.yaml", "sync"); err == nil {
		t.Fatal("Execute() should fail with a missing config")
	}
}

func TestAudit(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "jobs.db")
	yaml := fmt.Sprintf(`
site:
  timezone: UTC
hub:
  url: "http://127.0.0.1:1"
  token: test-token
database:
  path: %q
logging:
  level: error
`, dbPath)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db)
	for _, a := range []string{audit.ActionServiceStarted, audit.ActionHubStarted} {
		if err := repo.Create(context.Background(), &audit.AuditLog{Action: a, Source: audit.SourceHub}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	db.Close()

	out, err := execute(t, nil, "--config", path, "--format", "json", "audit", "--action", audit.ActionHubStarted)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var page audit.ListResult
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if page.Total != 1 || page.Logs[0].Action != audit.ActionHubStarted {
		t.Errorf("page = %+v", page)
	}
}

func TestToken(t *testing.T) {
	const secret = "cli-test-secret-cli-test-secret-0123"
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
site:
  timezone: UTC
hub:
  url: "http://127.0.0.1:1"
  token: test-token
database:
  path: %q
logging:
  level: error
`, filepath.Join(dir, "jobs.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := execute(t, nil, "--config", path, "token"); err == nil {
		t.Fatal("token without a secret should fail")
	}

	t.Setenv("HUBRELAY_API_JWT_SECRET", secret)
	out, err := execute(t, nil, "--config", path, "token", "--subject", "grafana")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "grafana" {
		t.Errorf("Subject = %q, want grafana", claims.Subject)
	}
}
