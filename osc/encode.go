// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package osc

import (
	"io"
	"strconv"
	"strings"
)

// Body renders the command as a sequence body (vendor tag included,
// introducer and terminator excluded). Parse(Body()) reproduces the
// command.
func (c Command) Body() string {
	var b strings.Builder
	b.WriteString(VendorTag)
	b.WriteByte(';')
	b.WriteString(c.commandField())

	args := escapeField(c.PluginArgs)
	payload := ""
	if c.HasPayload {
		payload = encodePayload(c.Payload, c.Compressed)
	}
	if args != "" || payload != "" {
		b.WriteByte(';')
		b.WriteString(args)
	}
	if payload != "" {
		b.WriteByte(';')
		b.WriteString(payload)
	}
	return b.String()
}

// Sequence renders the complete wire sequence: ESC ] body BEL.
func (c Command) Sequence() []byte {
	body := c.Body()
	out := make([]byte, 0, len(body)+3)
	out = append(out, introducerByte, startByte)
	out = append(out, body...)
	return append(out, belByte)
}

// WriteSequence writes the complete wire sequence to w. Producers
// point w at the terminal's input stream (their stdout).
func WriteSequence(w io.Writer, c Command) error {
	_, err := w.Write(c.Sequence())
	return err
}

func (c Command) commandField() string {
	tokens := []string{c.Verb.String()}
	appendInt := func(flag string, v *int) {
		if v != nil {
			tokens = append(tokens, flag, strconv.Itoa(*v))
		}
	}
	appendInt("-x", c.X)
	appendInt("-y", c.Y)
	appendInt("-w", c.W)
	appendInt("-h", c.H)
	if c.Replace {
		tokens = append(tokens, "-r")
	}
	if c.Compressed {
		tokens = append(tokens, "-z")
	}
	switch c.Verb {
	case VerbCreate:
		if c.Name != "" {
			tokens = append(tokens, "--name", quoteToken(c.Name))
		}
		if c.Kind != "" {
			tokens = append(tokens, quoteToken(c.Kind))
		}
	case VerbUpdate, VerbKill:
		if c.Name != "" {
			tokens = append(tokens, quoteToken(c.Name))
		}
	}
	return strings.Join(tokens, " ")
}

// quoteToken wraps tokens containing whitespace in double quotes so
// the tokenizer reassembles them.
func quoteToken(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// escapeField protects field delimiters: producers escape both the
// backslash and the semicolon so splitFields sees only structural
// semicolons.
func escapeField(s string) string {
	if !strings.ContainsAny(s, `\;`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == ';' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
