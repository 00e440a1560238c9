// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package osc

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Payloads travel base64-encoded so the body never contains raw
// control bytes, semicolons, or terminator bytes. Large payloads may
// additionally be zstd-compressed before encoding (-z); the per-frame
// path for such data is the shared-memory stream, so this only has to
// be good enough for setup payloads.

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdInit() {
	// EncodeAll/DecodeAll with nil-writer codecs are the concurrent
	// buffer-to-buffer mode; both are safe for shared use.
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("osc: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("osc: zstd decoder initialization failed: " + err.Error())
	}
}

// encodePayload produces the wire payload field.
func encodePayload(payload []byte, compressed bool) string {
	zstdOnce.Do(zstdInit)
	if compressed {
		payload = zstdEncoder.EncodeAll(payload, nil)
	}
	return base64.StdEncoding.EncodeToString(payload)
}

// decodePayload reverses encodePayload. Both failure modes map to
// ErrBadPayload: the sequence is dropped, never fatal.
func decodePayload(field string, compressed bool) ([]byte, error) {
	zstdOnce.Do(zstdInit)
	decoded, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrBadPayload, err)
	}
	if !compressed {
		return decoded, nil
	}
	plain, err := zstdDecoder.DecodeAll(decoded, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrBadPayload, err)
	}
	return plain, nil
}
