package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv_fallback(t *testing.T) {
	t.Setenv("SWITCHER_TEST_STR", "")
	if got := GetEnv("SWITCHER_TEST_STR", "dflt"); got != "dflt" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("SWITCHER_TEST_STR", "set")
	if got := GetEnv("SWITCHER_TEST_STR", "dflt"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
}

func TestGetEnvInt_invalid(t *testing.T) {
	t.Setenv("SWITCHER_TEST_INT", "abc")
	if got := GetEnvInt("SWITCHER_TEST_INT", 3); got != 3 {
		t.Errorf("expected fallback 3, got %d", got)
	}
	t.Setenv("SWITCHER_TEST_INT", "7")
	if got := GetEnvInt("SWITCHER_TEST_INT", 3); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "no": false, "false": false, "0": false}
	for in, want := range cases {
		t.Setenv("SWITCHER_TEST_BOOL", in)
		if got := GetEnvBool("SWITCHER_TEST_BOOL", !want); got != want {
			t.Errorf("GetEnvBool(%q) = %v, want %v", in, got, want)
		}
	}
	t.Setenv("SWITCHER_TEST_BOOL", "maybe")
	if got := GetEnvBool("SWITCHER_TEST_BOOL", true); !got {
		t.Error("unparseable value should return fallback")
	}
}

func TestGetEnvMillis(t *testing.T) {
	t.Setenv("SWITCHER_TEST_MS", "2500")
	if got := GetEnvMillis("SWITCHER_TEST_MS", time.Second); got != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", got)
	}
	t.Setenv("SWITCHER_TEST_MS", "-5")
	if got := GetEnvMillis("SWITCHER_TEST_MS", time.Second); got != time.Second {
		t.Errorf("negative should fall back, got %v", got)
	}
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SWITCHER_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWITCHER_TEST_DOTENV", "")
	os.Unsetenv("SWITCHER_TEST_DOTENV")
	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("SWITCHER_TEST_DOTENV"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
}
