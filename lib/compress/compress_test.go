// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestCompressRoundtrip(t *testing.T) {
	text := []byte(strings.Repeat("room 42: hello from uid 7\n", 500))

	for _, method := range []Method{MethodNone, MethodLZ4, MethodZstd} {
		t.Run(string(method), func(t *testing.T) {
			compressed, used, err := Compress(text, method)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if used != method {
				t.Fatalf("used method %q, want %q", used, method)
			}
			if method != MethodNone && len(compressed) >= len(text) {
				t.Fatalf("compressed size %d not smaller than %d", len(compressed), len(text))
			}
			restored, err := Decompress(compressed, used, len(text))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(restored, text) {
				t.Fatal("roundtrip mismatch")
			}
		})
	}
}

func TestCompressIncompressibleFallsBackToNone(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatalf("rand: %v", err)
	}
	for _, method := range []Method{MethodLZ4, MethodZstd} {
		out, used, err := Compress(random, method)
		if err != nil {
			t.Fatalf("Compress(%s): %v", method, err)
		}
		if used != MethodNone || !bytes.Equal(out, random) {
			t.Errorf("Compress(%s) on random data used %q, want none", method, used)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	if _, err := Decompress([]byte("abc"), MethodNone, 4); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod(""); err != nil || m != MethodNone {
		t.Errorf("ParseMethod(\"\") = %q, %v", m, err)
	}
	if _, err := ParseMethod("gzip"); err == nil {
		t.Error("ParseMethod(gzip) succeeded")
	}
}
