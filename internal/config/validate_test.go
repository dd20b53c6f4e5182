package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tutorlab/roomd/internal/core"
	"gopkg.in/yaml.v3"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(m.id),
		New: func() core.Module { return &stubModule{id: m.id} },
	}
}

func registerStub(t *testing.T, id string) {
	t.Helper()
	core.RegisterModule(&stubModule{id: id})
}

func TestValidate_Valid(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{id: {}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingVersion(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := &Config{
		Modules: map[string]yaml.Node{id: {}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing version")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Errorf("error should mention version: %v", err)
	}
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := &Config{
		Version: "99",
		Modules: map[string]yaml.Node{id: {}},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestValidate_NoModules(t *testing.T) {
	cfg := &Config{Version: "1"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty modules")
	}
}

func TestValidate_UnknownModule(t *testing.T) {
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{"nope.missing": {}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
	if !strings.Contains(err.Error(), "nope.missing") {
		t.Errorf("error should name the unknown module: %v", err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("ROOMD_TEST_BIND", "127.0.0.1:9090")

	dir := t.TempDir()
	path := filepath.Join(dir, "roomd.yaml")
	raw := `
version: "1"
modules:
  gateway.http:
    bind: ${ROOMD_TEST_BIND}
  store.redis:
    addr: ${ROOMD_TEST_REDIS:-localhost:6379}
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gw struct {
		Bind string `yaml:"bind"`
	}
	node := cfg.Modules["gateway.http"]
	if err := node.Decode(&gw); err != nil {
		t.Fatal(err)
	}
	if gw.Bind != "127.0.0.1:9090" {
		t.Errorf("bind = %q, want expanded env value", gw.Bind)
	}

	var rd struct {
		Addr string `yaml:"addr"`
	}
	node = cfg.Modules["store.redis"]
	if err := node.Decode(&rd); err != nil {
		t.Fatal(err)
	}
	if rd.Addr != "localhost:6379" {
		t.Errorf("addr = %q, want fallback default", rd.Addr)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roomd.yaml")
	raw := "version: \"1\"\nmodules:\n  store.redis:\n    addr: ${ROOMD_NO_SUCH_VAR}\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unresolved variable")
	}
}

func TestResolve_LoadOrder(t *testing.T) {
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{
			"gateway.http": {},
			"matchmaker":   {},
			"notify.hub":   {},
			"room":         {},
			"store.sqlite": {},
			"store.redis":  {},
		},
	}
	ids := Resolve(cfg)
	// Providers come up before their consumers; the gateway serves last.
	want := []string{"store.redis", "store.sqlite", "notify.hub", "room", "matchmaker", "gateway.http"}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
