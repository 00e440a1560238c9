// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/zokrezyl/yetty-poc-sub003/lib/codec"
)

// Channel is a logical namespace partition multiplexed over one
// connection.
type Channel uint32

const (
	// ChannelInput carries input events (keys, mouse) from producers
	// driving a card interactively.
	ChannelInput Channel = 0

	// ChannelStream negotiates shared-memory buffers and carries dirty
	// notifications.
	ChannelStream Channel = 1

	// ChannelQuery serves introspection (card table snapshots).
	ChannelQuery Channel = 2
)

// Message kind discriminators, the first element of every record.
const (
	kindRequest      = 0
	kindResponse     = 1
	kindNotification = 2
)

// maxRecordSize caps a single wire record. 16 MB is generous for
// control traffic; bulk data goes through shared memory, not RPC.
const maxRecordSize = 16 * 1024 * 1024

// Connection-scoped protocol errors.
var (
	// ErrBadFraming: a record that is not a well-formed message array.
	ErrBadFraming = errors.New("rpc: bad framing")

	// ErrUnmatchedResponse: a response whose msgid matches no
	// outstanding request. The connection is closed.
	ErrUnmatchedResponse = errors.New("rpc: unmatched response")

	// ErrConnectionClosed: the peer went away.
	ErrConnectionClosed = errors.New("rpc: connection closed")
)

// Error is a failure reported by the remote handler (as opposed to a
// transport failure).
type Error struct {
	Method  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
}

// cborNull is the encoding of nil params/results.
var cborNull = codec.RawMessage{0xF6}

// rawOrNull marshals v, mapping nil to CBOR null so the array arity
// stays fixed.
func rawOrNull(v any) (codec.RawMessage, error) {
	if v == nil {
		return cborNull, nil
	}
	if raw, ok := v.(codec.RawMessage); ok {
		if len(raw) == 0 {
			return cborNull, nil
		}
		return raw, nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return codec.RawMessage(data), nil
}

// isNull reports whether a raw value is absent (missing or CBOR null).
func isNull(raw codec.RawMessage) bool {
	return len(raw) == 0 || (len(raw) == 1 && raw[0] == 0xF6)
}

func encodeRequest(msgid uint64, channel Channel, method string, params any) ([]byte, error) {
	raw, err := rawOrNull(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params for %s: %w", method, err)
	}
	return codec.Marshal([]any{kindRequest, msgid, uint32(channel), method, raw})
}

func encodeResponse(msgid uint64, errMessage string, result any) ([]byte, error) {
	raw, err := rawOrNull(result)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal result: %w", err)
	}
	var errField any
	if errMessage != "" {
		errField = errMessage
	}
	return codec.Marshal([]any{kindResponse, msgid, errField, raw})
}

func encodeNotification(channel Channel, method string, params any) ([]byte, error) {
	raw, err := rawOrNull(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params for %s: %w", method, err)
	}
	return codec.Marshal([]any{kindNotification, uint32(channel), method, raw})
}

// frameReader caps how much the stream decoder can buffer for one
// record. CBOR carries no length prefix, so the cap is enforced as a
// read allowance replenished per record: a record larger than
// maxRecordSize exhausts the allowance mid-decode and the read fails
// before anything more is buffered.
type frameReader struct {
	r         io.Reader
	remaining int
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r, remaining: maxRecordSize}
}

func (f *frameReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, fmt.Errorf("%w: record exceeds %d bytes", ErrBadFraming, maxRecordSize)
	}
	if len(p) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.r.Read(p)
	f.remaining -= n
	return n, err
}

// nextRecord replenishes the allowance. Callers invoke it before
// decoding each record.
func (f *frameReader) nextRecord() { f.remaining = maxRecordSize }

// diagnoseFrame renders a rejected record for the log in CBOR
// diagnostic notation. Large or undiagnosable records are summarized
// by length instead.
func diagnoseFrame(raw codec.RawMessage) string {
	if len(raw) > 256 {
		return fmt.Sprintf("%d bytes", len(raw))
	}
	diag, err := codec.Diagnose(raw)
	if err != nil {
		return fmt.Sprintf("%d undiagnosable bytes", len(raw))
	}
	return diag
}

// record is one decoded wire message before kind-specific
// interpretation.
type record struct {
	kind    int
	msgid   uint64
	channel Channel
	method  string
	errText string
	payload codec.RawMessage // params or result
}

// decodeRecord interprets one raw CBOR array. Any shape violation is
// ErrBadFraming.
func decodeRecord(raw codec.RawMessage) (record, error) {
	if len(raw) > maxRecordSize {
		return record{}, fmt.Errorf("%w: record of %d bytes exceeds maximum %d", ErrBadFraming, len(raw), maxRecordSize)
	}
	var fields []codec.RawMessage
	if err := codec.Unmarshal(raw, &fields); err != nil {
		return record{}, fmt.Errorf("%w: not an array: %v", ErrBadFraming, err)
	}
	if len(fields) == 0 {
		return record{}, fmt.Errorf("%w: empty array", ErrBadFraming)
	}

	var rec record
	if err := codec.Unmarshal(fields[0], &rec.kind); err != nil {
		return record{}, fmt.Errorf("%w: bad kind: %v", ErrBadFraming, err)
	}

	switch rec.kind {
	case kindRequest:
		if len(fields) != 5 {
			return record{}, fmt.Errorf("%w: request arity %d", ErrBadFraming, len(fields))
		}
		if err := codec.Unmarshal(fields[1], &rec.msgid); err != nil {
			return record{}, fmt.Errorf("%w: bad msgid: %v", ErrBadFraming, err)
		}
		if rec.msgid == 0 {
			return record{}, fmt.Errorf("%w: request msgid 0 is reserved", ErrBadFraming)
		}
		var channel uint32
		if err := codec.Unmarshal(fields[2], &channel); err != nil {
			return record{}, fmt.Errorf("%w: bad channel: %v", ErrBadFraming, err)
		}
		rec.channel = Channel(channel)
		if err := codec.Unmarshal(fields[3], &rec.method); err != nil {
			return record{}, fmt.Errorf("%w: bad method: %v", ErrBadFraming, err)
		}
		rec.payload = fields[4]

	case kindResponse:
		if len(fields) != 4 {
			return record{}, fmt.Errorf("%w: response arity %d", ErrBadFraming, len(fields))
		}
		if err := codec.Unmarshal(fields[1], &rec.msgid); err != nil {
			return record{}, fmt.Errorf("%w: bad msgid: %v", ErrBadFraming, err)
		}
		if !isNull(fields[2]) {
			if err := codec.Unmarshal(fields[2], &rec.errText); err != nil {
				return record{}, fmt.Errorf("%w: bad error field: %v", ErrBadFraming, err)
			}
		}
		rec.payload = fields[3]

	case kindNotification:
		if len(fields) != 4 {
			return record{}, fmt.Errorf("%w: notification arity %d", ErrBadFraming, len(fields))
		}
		var channel uint32
		if err := codec.Unmarshal(fields[1], &channel); err != nil {
			return record{}, fmt.Errorf("%w: bad channel: %v", ErrBadFraming, err)
		}
		rec.channel = Channel(channel)
		if err := codec.Unmarshal(fields[2], &rec.method); err != nil {
			return record{}, fmt.Errorf("%w: bad method: %v", ErrBadFraming, err)
		}
		rec.payload = fields[3]

	default:
		return record{}, fmt.Errorf("%w: unknown kind %d", ErrBadFraming, rec.kind)
	}
	return rec, nil
}
