// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import "testing"

func TestInfoIncludesAllFields(t *testing.T) {
	saved := [3]string{Version, GitCommit, BuildTime}
	defer func() { Version, GitCommit, BuildTime = saved[0], saved[1], saved[2] }()

	Version, GitCommit, BuildTime = "1.2.3", "abc1234", "2026-10-18T00:00:00Z"
	if got, want := Info(), "1.2.3 (abc1234, 2026-10-18T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if got, want := ClientVersion(), "go-rtm/1.2.3"; got != want {
		t.Errorf("ClientVersion() = %q, want %q", got, want)
	}
}
