// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress shrinks file payloads before they are sent over an
// auxiliary file gateway connection.
//
// The method actually applied travels with the payload (the "cmp"
// attribute of a file quest) together with the original size, so the
// receiver can size its buffer and verify the result. Payloads that do
// not get smaller are sent as MethodNone.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Method names a compression algorithm. The string values are part of
// the file quest protocol.
type Method string

const (
	MethodNone Method = "none"

	// MethodLZ4 is block-mode LZ4: fast, modest ratio. The default
	// for binary attachments of unknown type.
	MethodLZ4 Method = "lz4"

	// MethodZstd is zstd at the default level: better ratio for text
	// attachments (logs, JSON, source).
	MethodZstd Method = "zstd"
)

// ParseMethod validates a configured method name. The empty string
// means MethodNone.
func ParseMethod(name string) (Method, error) {
	switch Method(name) {
	case "", MethodNone:
		return MethodNone, nil
	case MethodLZ4:
		return MethodLZ4, nil
	case MethodZstd:
		return MethodZstd, nil
	default:
		return "", fmt.Errorf("unknown compression method %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress applies method to data and returns the bytes to send with
// the method that was really used. When compression does not reduce
// the size, data is returned unchanged with MethodNone.
func Compress(data []byte, method Method) ([]byte, Method, error) {
	var (
		compressed []byte
		err        error
	)
	switch method {
	case "", MethodNone:
		return data, MethodNone, nil
	case MethodLZ4:
		compressed, err = compressLZ4(data)
	case MethodZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, "", fmt.Errorf("unsupported compression method %q", method)
	}
	if errors.Is(err, errIncompressible) {
		return data, MethodNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return compressed, method, nil
}

// Decompress reverses Compress. originalSize must equal the length of
// the uncompressed payload; a mismatch is an error.
func Decompress(data []byte, method Method, originalSize int) ([]byte, error) {
	switch method {
	case "", MethodNone:
		if len(data) != originalSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(data), originalSize)
		}
		return data, nil
	case MethodLZ4:
		destination := make([]byte, originalSize)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != originalSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, originalSize)
		}
		return destination, nil
	case MethodZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != originalSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), originalSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression method %q", method)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
