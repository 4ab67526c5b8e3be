// Package integration provides cross-package integration tests for rosterbuild.
// These tests wire the roster stages, orchestrator, run envelope, ledger and
// HTTP server together with an in-process fake model backend.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
