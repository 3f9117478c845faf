// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/rtm/rtm"
)

func TestOptionsTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      options
		wantClass rtm.MessageClass
		wantID    int64
		wantErr   bool
	}{
		{name: "direct", opts: options{to: 7}, wantClass: rtm.ClassDirect, wantID: 7},
		{name: "group", opts: options{group: 8}, wantClass: rtm.ClassGroup, wantID: 8},
		{name: "room", opts: options{room: 9}, wantClass: rtm.ClassRoom, wantID: 9},
		{name: "none", opts: options{}, wantErr: true},
		{name: "two", opts: options{to: 1, room: 2}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			class, id, err := test.opts.target()
			if test.wantErr {
				if err == nil {
					t.Errorf("target() = %v %d, want error", class, id)
				}
				return
			}
			if err != nil {
				t.Fatalf("target(): %v", err)
			}
			if class != test.wantClass || id != test.wantID {
				t.Errorf("target() = %v %d, want %v %d", class, id, test.wantClass, test.wantID)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client.yaml")
	content := "gateway:\n  endpoint: 127.0.0.1:13321\nauth:\n  pid: 1\n  uid: 42\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Gateway.Endpoint != "127.0.0.1:13321" || cfg.Auth.UID != 42 {
		t.Errorf("config = %+v", cfg)
	}
	if !cfg.Gateway.AutoReconnect {
		t.Error("defaults not applied under the file")
	}
}
