package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate, got: %v", err)
	}
}

func TestValidateRejectsUnknownBackendKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Kind = BackendKind("carrier-pigeon")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store.kind")
	}
}

func TestValidateRejectsNonPositiveMaxDepthAndTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Process.MaxDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_depth")
	}

	cfg = DefaultConfig()
	cfg.TTLSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestMergeConfigRepoOverridesGlobal(t *testing.T) {
	dst := DefaultConfig()
	dst.Process.MaxDepth = 10
	dst.Store.Kind = BackendMemory

	src := &Config{
		Process: ProcessConfig{MaxDepth: 128},
		Store:   BackendConfig{Kind: BackendSQLite, Path: "/var/tangram/store.db"},
	}
	mergeConfig(dst, src)

	if dst.Process.MaxDepth != 128 {
		t.Fatalf("max_depth = %d, want 128", dst.Process.MaxDepth)
	}
	if dst.Store.Kind != BackendSQLite || dst.Store.Path != "/var/tangram/store.db" {
		t.Fatalf("store not overridden: %+v", dst.Store)
	}
}

func TestMergeConfigLeavesUnsetFieldsAlone(t *testing.T) {
	dst := DefaultConfig()
	dst.User.Name = "Ada Lovelace"
	dst.User.Email = "ada@example.com"

	src := &Config{}
	mergeConfig(dst, src)

	if dst.User.Name != "Ada Lovelace" || dst.User.Email != "ada@example.com" {
		t.Fatalf("unset overlay fields clobbered dst: %+v", dst.User)
	}
}

func TestGetValueKnownKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.User.Name = "Ada"

	cases := map[string]string{
		"process.max_depth": "64",
		"store.kind":         "memory",
		"index.kind":         "memory",
		"user.name":          "Ada",
	}
	for key, want := range cases {
		got, err := GetValue(cfg, key)
		if err != nil {
			t.Fatalf("GetValue(%q): %v", key, err)
		}
		if got != want {
			t.Fatalf("GetValue(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestGetValueUnknownKey(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := GetValue(cfg, "nonsense.field"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
