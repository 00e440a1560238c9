// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// yetty-card injects and manages cards from inside a yetty terminal.
//
// The lifecycle subcommands (create, update, kill) emit escape
// sequences on stdout — the enclosing terminal's PTY — so they work
// over SSH and through multiplexers like any other terminal output.
// Introspection (ls) talks to the host over its RPC socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/zokrezyl/yetty-poc-sub003/internal/cli"
	"github.com/zokrezyl/yetty-poc-sub003/osc"
)

func main() {
	root := &cli.Command{
		Name:    "yetty-card",
		Summary: "inject and manage visual cards in a yetty terminal",
		Subcommands: []*cli.Command{
			createCommand(),
			updateCommand(),
			killCommand(),
			listCommand(),
		},
	}
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "yetty-card: %v\n", err)
		os.Exit(1)
	}
}

// geometryFlags registers the shared placement flags.
func geometryFlags(fs *pflag.FlagSet) {
	fs.IntP("x", "x", 0, "column of the card's left edge (cells)")
	fs.IntP("y", "y", 0, "row of the card's top edge (cells)")
	fs.IntP("width", "w", 0, "card width in cells (0 = stretch)")
	fs.IntP("height", "h", 0, "card height in cells (0 = stretch)")
}

// geometryValues extracts the placement values, distinguishing "not
// given" (nil) from an explicit zero.
func geometryValues(fs *pflag.FlagSet) (x, y, w, h *int) {
	get := func(name string) *int {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetInt(name)
		return &v
	}
	return get("x"), get("y"), get("width"), get("height")
}

// loadPayload reads the payload from --payload-file ("-" for stdin).
func loadPayload(fs *pflag.FlagSet) ([]byte, bool, error) {
	path, _ := fs.GetString("payload-file")
	if path == "" {
		return nil, false, nil
	}
	if path == "-" {
		data, err := readAll(os.Stdin)
		return data, true, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading payload: %w", err)
	}
	return data, true, nil
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:    "create",
		Summary: "create a card",
		Usage:   "yetty-card create <kind> [flags]",
		Examples: []cli.Example{
			{Description: "a plot card in the top-right corner", Command: "yetty-card create plot -x 80 -y 0 -w 40 -h 12 --name p1"},
			{Description: "create from a manifest, payload from stdin", Command: "generate | yetty-card create --manifest card.yaml --payload-file -"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
			geometryFlags(fs)
			fs.String("name", "", "card name (host assigns one if empty)")
			fs.BoolP("replace", "r", false, "replace an existing card of the same name")
			fs.BoolP("compress", "z", false, "zstd-compress the payload")
			fs.String("args", "", "plugin-specific arguments")
			fs.String("payload-file", "", "initial payload file, - for stdin")
			fs.String("manifest", "", "YAML manifest with kind/name/geometry/args")
			return fs
		},
		Run: runCreate,
	}
}

func runCreate(fs *pflag.FlagSet, args []string) error {
	cmd := osc.Command{Verb: osc.VerbCreate}

	manifestPath, _ := fs.GetString("manifest")
	if manifestPath != "" {
		if err := applyManifest(manifestPath, &cmd); err != nil {
			return err
		}
	}

	if len(args) > 1 {
		return fmt.Errorf("create takes at most one positional argument (the kind), got %d", len(args))
	}
	if len(args) == 1 {
		cmd.Kind = args[0]
	}
	if cmd.Kind == "" {
		return fmt.Errorf("a card kind is required (positional or manifest)")
	}

	// Explicit flags win over the manifest.
	x, y, w, h := geometryValues(fs)
	if x != nil {
		cmd.X = x
	}
	if y != nil {
		cmd.Y = y
	}
	if w != nil {
		cmd.W = w
	}
	if h != nil {
		cmd.H = h
	}
	if fs.Changed("name") {
		cmd.Name, _ = fs.GetString("name")
	}
	if fs.Changed("args") {
		cmd.PluginArgs, _ = fs.GetString("args")
	}
	if replace, _ := fs.GetBool("replace"); replace {
		cmd.Replace = true
	}
	if compress, _ := fs.GetBool("compress"); compress {
		cmd.Compressed = true
	}

	payload, has, err := loadPayload(fs)
	if err != nil {
		return err
	}
	if has {
		cmd.Payload = payload
		cmd.HasPayload = true
	}

	return osc.WriteSequence(os.Stdout, cmd)
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:    "update",
		Summary: "send new data to an existing card",
		Usage:   "yetty-card update <name> [flags]",
		Examples: []cli.Example{
			{Description: "stream a data point to p1", Command: "echo 42 | yetty-card update p1 --payload-file -"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("update", pflag.ContinueOnError)
			fs.BoolP("compress", "z", false, "zstd-compress the payload")
			fs.String("args", "", "plugin-specific arguments")
			fs.String("payload-file", "", "payload file, - for stdin")
			return fs
		},
		Run: func(fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("update takes exactly one argument: the card name")
			}
			cmd := osc.Command{Verb: osc.VerbUpdate, Name: args[0]}
			cmd.PluginArgs, _ = fs.GetString("args")
			cmd.Compressed, _ = fs.GetBool("compress")
			payload, has, err := loadPayload(fs)
			if err != nil {
				return err
			}
			if has {
				cmd.Payload = payload
				cmd.HasPayload = true
			}
			return osc.WriteSequence(os.Stdout, cmd)
		},
	}
}

func killCommand() *cli.Command {
	return &cli.Command{
		Name:    "kill",
		Summary: "destroy a card",
		Usage:   "yetty-card kill <name>",
		Run: func(fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("kill takes exactly one argument: the card name")
			}
			return osc.WriteSequence(os.Stdout, osc.Command{Verb: osc.VerbKill, Name: args[0]})
		},
	}
}
