package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenReadAndCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(`{"access_token": "tok-1"}`), 0600); err != nil {
		t.Fatal(err)
	}

	src := NewTokenSource(path)

	token, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-1" {
		t.Errorf("Expected tok-1, got %q", token)
	}

	// Cached: a rewritten file is not noticed until invalidation
	if err := os.WriteFile(path, []byte(`{"access_token": "tok-2"}`), 0600); err != nil {
		t.Fatal(err)
	}
	token, err = src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-1" {
		t.Errorf("Expected cached tok-1, got %q", token)
	}

	src.Invalidate()
	token, err = src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-2" {
		t.Errorf("Expected fresh tok-2 after invalidation, got %q", token)
	}
}

func TestTokenErrors(t *testing.T) {
	dir := t.TempDir()

	src := NewTokenSource(filepath.Join(dir, "missing.json"))
	if _, err := src.Token(); err == nil {
		t.Error("Expected error for missing credentials file")
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{broken`), 0600); err != nil {
		t.Fatal(err)
	}
	src = NewTokenSource(badPath)
	if _, err := src.Token(); err == nil {
		t.Error("Expected error for malformed credentials file")
	}

	emptyPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(emptyPath, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}
	src = NewTokenSource(emptyPath)
	if _, err := src.Token(); err == nil {
		t.Error("Expected error when credentials file has no token")
	}
}
