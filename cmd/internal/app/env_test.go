package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coop.env")
	if err := os.WriteFile(path, []byte("COOP_TEST_NAME=Ann\nCOOP_TEST_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	t.Setenv("COOP_TEST_KEEP", "from-process")
	t.Setenv("COOP_TEST_NAME", "")
	if err := os.Unsetenv("COOP_TEST_NAME"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := EnvString("COOP_TEST_NAME", ""); got != "Ann" {
		t.Fatalf("COOP_TEST_NAME=%q", got)
	}
	if got := EnvString("COOP_TEST_KEEP", ""); got != "from-process" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("COOP_TEST_BOOL", "true")
	t.Setenv("COOP_TEST_INT", "-3")
	t.Setenv("COOP_TEST_DUR", "250ms")
	t.Setenv("COOP_TEST_BAD_DUR", "soon")

	if !EnvBool("COOP_TEST_BOOL", false) {
		t.Fatalf("EnvBool")
	}
	if got := EnvInt("COOP_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt negative should fall back, got %d", got)
	}
	if got := EnvDuration("COOP_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%s", got)
	}
	if got := EnvDuration("COOP_TEST_BAD_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration bad=%s", got)
	}
}
