// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package osc

// Control bytes recognized by the scanner.
const (
	introducerByte = 0x1B // ESC
	startByte      = ']'  // OSC sequence start, after ESC
	belByte        = 0x07 // single-byte terminator
	stFinalByte    = '\\' // second byte of the ESC \ terminator
)

// scanState tracks where the scanner is within a sequence. The state
// alone determines how the next byte is classified; no byte is ever
// classified twice.
type scanState uint8

const (
	// scanNormal: ordinary terminal data.
	scanNormal scanState = iota
	// scanEscape: saw ESC, waiting to see whether ']' follows. The ESC
	// itself is withheld from pass-through until that is known.
	scanEscape
	// scanBody: inside a sequence body.
	scanBody
	// scanBodyEscape: saw ESC inside a body; a following '\' terminates
	// the sequence, anything else was ordinary body data.
	scanBodyEscape
)

// escapeSegment is the withheld introducer, emitted as its own
// pass-through segment when ESC turns out to be ordinary data from a
// previous chunk.
var escapeSegment = []byte{introducerByte}

// Scanner splits a terminal byte stream into pass-through ranges and
// completed OSC sequence bodies. State persists across Scan calls, so
// sequences fragmented at arbitrary chunk boundaries (including one
// byte at a time) are reassembled exactly as if delivered whole.
//
// The scanner never fails: an unterminated sequence is simply held in
// state until more bytes arrive. It is not safe for concurrent use;
// one Scanner serves one producer stream.
type Scanner struct {
	state scanState
	body  []byte

	// MaxBody, when positive, caps the accumulated body size. An
	// oversized sequence is still consumed to its terminator but the
	// body is discarded rather than reported.
	MaxBody int

	truncated bool
	dropped   uint64
}

// Scan consumes one chunk. It returns the pass-through byte ranges (in
// order, aliasing chunk except for a withheld introducer from an
// earlier chunk) and the bodies of sequences completed within this
// chunk. Zero-length chunks are valid and return nothing.
func (s *Scanner) Scan(chunk []byte) (passthrough [][]byte, bodies []string) {
	runStart := -1

	flushRun := func(end int) {
		if runStart >= 0 && end > runStart {
			passthrough = append(passthrough, chunk[runStart:end])
		}
		runStart = -1
	}

	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		switch s.state {
		case scanNormal:
			if b == introducerByte {
				flushRun(i)
				s.state = scanEscape
			} else if runStart < 0 {
				runStart = i
			}

		case scanEscape:
			if b == startByte {
				s.state = scanBody
				s.body = s.body[:0]
				s.truncated = false
				break
			}
			// The withheld ESC was ordinary data after all. Emit it,
			// then reclassify the current byte from Normal: it may
			// itself open a new escape.
			passthrough = append(passthrough, escapeSegment)
			if b == introducerByte {
				// Stay in scanEscape withholding this new ESC.
				break
			}
			s.state = scanNormal
			runStart = i

		case scanBody:
			switch b {
			case belByte:
				bodies = s.complete(bodies)
			case introducerByte:
				s.state = scanBodyEscape
			default:
				s.appendBody(b)
			}

		case scanBodyEscape:
			switch b {
			case stFinalByte:
				// Two-byte terminator; neither byte joins the body.
				bodies = s.complete(bodies)
			case introducerByte:
				// The earlier ESC was body data; this one may still be
				// the terminator's first byte.
				s.appendBody(introducerByte)
			default:
				s.appendBody(introducerByte)
				s.appendBody(b)
				s.state = scanBody
			}
		}
	}

	flushRun(len(chunk))
	return passthrough, bodies
}

// Reset drops all scanner state, discarding any partially accumulated
// sequence. Used when the producer stream is torn down.
func (s *Scanner) Reset() {
	s.state = scanNormal
	s.body = s.body[:0]
	s.truncated = false
}

// InSequence reports whether the scanner is currently inside a
// sequence (or holding a candidate introducer). Callers use this to
// decide whether buffered output can be flushed downstream.
func (s *Scanner) InSequence() bool {
	return s.state != scanNormal
}

// Dropped returns the number of sequences discarded for exceeding
// MaxBody.
func (s *Scanner) Dropped() uint64 {
	return s.dropped
}

func (s *Scanner) appendBody(b byte) {
	if s.MaxBody > 0 && len(s.body) >= s.MaxBody {
		s.truncated = true
		return
	}
	s.body = append(s.body, b)
}

func (s *Scanner) complete(bodies []string) []string {
	s.state = scanNormal
	if s.truncated {
		s.dropped++
		s.truncated = false
		s.body = s.body[:0]
		return bodies
	}
	out := append(bodies, string(s.body))
	s.body = s.body[:0]
	return out
}
