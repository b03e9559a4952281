// Package testutil starts throwaway backend containers for integration tests.
package testutil

import (
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireIntegration skips t in -short mode, in CI unless
// INTEGRATION_TESTS is set, and when no container runtime answers.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if os.Getenv("CI") != "" && os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("integration test skipped in CI (set INTEGRATION_TESTS=1)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
