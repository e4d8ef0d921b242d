// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which exercise the built
// binaries, not internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	// EnvRemoteURL points the suite at an already running remote store
	// instead of a hub it starts itself.
	EnvRemoteURL = "CARDSYNC_E2E_REMOTE_URL"

	// EnvAllowedRemotes lists the remote URLs the suite may write to.
	EnvAllowedRemotes = "CARDSYNC_ALLOWED_TEST_REMOTES"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process if remoteURL is not listed in
// CARDSYNC_ALLOWED_TEST_REMOTES. The suite creates and deletes records, so
// it must never run against a workspace somebody actually uses.
func ValidateAllowlist(remoteURL string) {
	allowlist := os.Getenv(EnvAllowedRemotes)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s is set but %s is not\n", EnvRemoteURL, EnvAllowedRemotes)
		fmt.Fprintf(os.Stderr, "Example: %s=http://127.0.0.1:8765\n", EnvAllowedRemotes)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == strings.TrimRight(remoteURL, "/") {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
		EnvRemoteURL, remoteURL, EnvAllowedRemotes, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the package pkg (relative to moduleRoot) to dst.
func BuildBinary(moduleRoot, pkg, dst string) error {
	cmd := exec.Command("go", "build", "-o", dst, pkg)
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("building %s: %w", pkg, err)
	}

	return nil
}

// FreeAddr returns a loopback address with a port nobody is listening on.
func FreeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	addr := ln.Addr().String()

	return addr, ln.Close()
}
