// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory directly under /tmp and
// removes it when the test finishes. Unix domain socket paths are
// capped at 108 bytes, so sockets cannot live under the deeply
// nested directories some test runners use for t.TempDir().
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "svchub-test-")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
