package main

import (
	"os"
	"path/filepath"
	"testing"
)

// getBinaryPath returns the path to the narrator binary for CLI tests
func getBinaryPath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", "narrator")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'make build'", binaryPath)
	}
	return binaryPath
}

// resetFlags restores package-level flag values between in-process tests
func resetFlags(t *testing.T) {
	t.Helper()
	configPath, databaseURL, verbose = "", "", false
	t.Cleanup(func() {
		configPath, databaseURL, verbose = "", "", false
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
