// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides yetty's standard CBOR encoding configuration.
//
// Yetty uses two serialization formats with a clear boundary:
//
//   - CBOR for the RPC socket protocol: the array-of-N message records
//     ([0, msgid, channel, method, params] and friends), their params
//     and results, and card table snapshots returned over the query
//     channel.
//   - YAML for human-edited inputs: the host configuration file and
//     card manifests passed to yetty-card.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every yetty package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps RPC frames reproducible in tests.
//
// For buffer-oriented operations (params, results):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented reads (the RPC socket):
//
//	decoder := codec.NewDecoder(conn)
//
// Diagnose renders rejected records in diagnostic notation (RFC 8949
// §8) for the RPC server's bad-framing logs.
package codec
