// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package osc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// VendorTag identifies yetty card sequences. A body that does not open
// with this tag belongs to some other OSC consumer and is passed
// through, not rejected.
const VendorTag = "666666"

// Parse errors. All are command-scoped: the offending sequence is
// dropped and logged, the pipeline keeps running.
var (
	// ErrMissingVendorTag marks a body without the yetty tag. Callers
	// treat this as "not ours", not as a failure.
	ErrMissingVendorTag = errors.New("osc: missing vendor tag")

	// ErrMalformedFlags marks an unparseable command field.
	ErrMalformedFlags = errors.New("osc: malformed flags")

	// ErrBadPayload marks a payload that failed base64 decoding or
	// zstd decompression.
	ErrBadPayload = errors.New("osc: bad payload")
)

// Verb is the card operation requested by a sequence.
type Verb uint8

const (
	// VerbCreate instantiates a new card ("create", alias "run").
	VerbCreate Verb = iota
	// VerbUpdate forwards a payload to an existing card.
	VerbUpdate
	// VerbKill destroys a card.
	VerbKill
	// VerbList requests a card table snapshot ("ls").
	VerbList
)

// String returns the canonical wire spelling of the verb.
func (v Verb) String() string {
	switch v {
	case VerbCreate:
		return "create"
	case VerbUpdate:
		return "update"
	case VerbKill:
		return "kill"
	case VerbList:
		return "ls"
	}
	return fmt.Sprintf("verb(%d)", uint8(v))
}

// Command is one parsed card command.
type Command struct {
	Verb Verb

	// Geometry in cell coordinates. Nil means "not given" — the
	// rendering subsystem picks (0 means stretch-to-edge in the
	// original, so absence must stay distinguishable from zero).
	X, Y, W, H *int

	// Replace allows create to displace an existing active card of the
	// same name (-r).
	Replace bool

	// Compressed marks the payload as zstd-compressed before base64
	// (-z).
	Compressed bool

	// Name addresses the card across create/update/kill. Empty on
	// create means the registry assigns one.
	Name string

	// Kind is the plugin name (create only).
	Kind string

	// PluginArgs is the plugin-specific argument string: unknown flags
	// from the command field, verbatim, followed by the dedicated
	// plugin-args field.
	PluginArgs string

	// Payload is the decoded binary payload. HasPayload distinguishes
	// an absent payload field from a present empty one.
	Payload    []byte
	HasPayload bool
}

// Parse parses a completed sequence body into a Command.
//
// Body grammar (after the vendor tag): up to three ;-delimited fields —
// command string, plugin argument string, base64 payload. Semicolons
// inside the first two fields are escaped as \; by producers.
func Parse(body string) (Command, error) {
	rest, ok := strings.CutPrefix(body, VendorTag+";")
	if !ok {
		return Command{}, ErrMissingVendorTag
	}

	fields := splitFields(rest, 3)
	command := unescapeField(fields[0])
	tokens, offsets, err := tokenize(command)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("%w: empty command field", ErrMalformedFlags)
	}

	var cmd Command
	switch tokens[0] {
	case "create", "run":
		cmd.Verb = VerbCreate
	case "update":
		cmd.Verb = VerbUpdate
	case "kill":
		cmd.Verb = VerbKill
	case "ls":
		cmd.Verb = VerbList
	default:
		return Command{}, fmt.Errorf("%w: unknown verb %q", ErrMalformedFlags, tokens[0])
	}

	extraStart, err := cmd.parseFlags(tokens[1:])
	if err != nil {
		return Command{}, err
	}

	var pluginParts []string
	if extraStart >= 0 {
		// Slice the original command field rather than rejoining tokens:
		// tokenization strips quotes and collapses spacing, and the
		// plugin must see its flags exactly as the producer wrote them.
		extras := strings.TrimRight(command[offsets[extraStart+1]:], " \t")
		pluginParts = append(pluginParts, extras)
	}
	if len(fields) > 1 && fields[1] != "" {
		pluginParts = append(pluginParts, unescapeField(fields[1]))
	}
	cmd.PluginArgs = strings.Join(pluginParts, " ")

	if len(fields) > 2 && fields[2] != "" {
		payload, err := decodePayload(fields[2], cmd.Compressed)
		if err != nil {
			return Command{}, err
		}
		cmd.Payload = payload
		cmd.HasPayload = true
	}
	return cmd, nil
}

// parseFlags consumes the generic flags, binding the first bare token
// to Kind (create) or Name (update/kill). Unknown flags are not an
// error: plugin-specific flags share this token, so the first unknown
// flag ends generic parsing and its index is returned (-1 when every
// token was consumed); Parse hands the plugin the original substring
// from that token on. (Consuming selectively instead would misbind the
// unknown flag's value as a positional.)
func (c *Command) parseFlags(tokens []string) (extraStart int, err error) {
	intFlag := func(i int, name string) (*int, int, error) {
		if i+1 >= len(tokens) {
			return nil, 0, fmt.Errorf("%w: %s requires a value", ErrMalformedFlags, name)
		}
		n, err := strconv.Atoi(tokens[i+1])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %q is not an integer", ErrMalformedFlags, name, tokens[i+1])
		}
		return &n, i + 1, nil
	}

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		switch {
		case token == "-x":
			c.X, i, err = intFlag(i, "-x")
		case token == "-y":
			c.Y, i, err = intFlag(i, "-y")
		case token == "-w":
			c.W, i, err = intFlag(i, "-w")
		case token == "-h":
			c.H, i, err = intFlag(i, "-h")
		case token == "-r":
			c.Replace = true
		case token == "-z":
			c.Compressed = true
		case token == "--name":
			if i+1 >= len(tokens) {
				return -1, fmt.Errorf("%w: --name requires a value", ErrMalformedFlags)
			}
			i++
			c.Name = tokens[i]
		case strings.HasPrefix(token, "--name="):
			// --name must be passed as a separate token so the name
			// cannot be confused with plugin flag syntax.
			return -1, fmt.Errorf("%w: --name takes its value as a separate token", ErrMalformedFlags)
		case strings.HasPrefix(token, "-") && token != "-":
			// Unknown flag: it and everything after it belong to the
			// plugin.
			return i, nil
		default:
			bound := false
			switch c.Verb {
			case VerbCreate:
				if c.Kind == "" {
					c.Kind = token
					bound = true
				}
			case VerbUpdate, VerbKill:
				if c.Name == "" {
					c.Name = token
					bound = true
				}
			}
			if !bound {
				return i, nil
			}
		}
		if err != nil {
			return -1, err
		}
	}
	return -1, nil
}

// splitFields splits on unescaped semicolons into at most max fields.
// The final field keeps any further semicolons verbatim.
func splitFields(s string, max int) []string {
	fields := make([]string, 0, max)
	start := 0
	escaped := false
	for i := 0; i < len(s) && len(fields) < max-1; i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == ';':
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	return append(fields, s[start:])
}

// unescapeField reverses the \; and \\ escapes applied by producers.
func unescapeField(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}

// tokenize splits a command field on whitespace, honoring double
// quotes: `--title "hello world"` yields two tokens. offsets carries
// the byte index of each token's start in s, so Parse can recover the
// original spelling of a token tail, quotes and spacing intact.
func tokenize(s string) (tokens []string, offsets []int, err error) {
	var current strings.Builder
	inToken := false
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			if !inToken {
				start = i
			}
			inQuotes = !inQuotes
			inToken = true
		case (c == ' ' || c == '\t') && !inQuotes:
			if inToken {
				tokens = append(tokens, current.String())
				offsets = append(offsets, start)
				current.Reset()
				inToken = false
			}
		default:
			if !inToken {
				start = i
			}
			current.WriteByte(c)
			inToken = true
		}
	}
	if inQuotes {
		return nil, nil, fmt.Errorf("%w: unterminated quote", ErrMalformedFlags)
	}
	if inToken {
		tokens = append(tokens, current.String())
		offsets = append(offsets, start)
	}
	return tokens, offsets, nil
}
