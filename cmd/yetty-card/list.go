// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/muesli/termenv"
	"github.com/spf13/pflag"

	"github.com/zokrezyl/yetty-poc-sub003/card"
	"github.com/zokrezyl/yetty-poc-sub003/internal/cli"
	"github.com/zokrezyl/yetty-poc-sub003/rpc"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Summary: "list the host's live cards",
		Usage:   "yetty-card ls [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("ls", pflag.ContinueOnError)
			fs.String("socket", "", "RPC socket path (default: $YETTY_SOCKET)")
			fs.Bool("json", false, "output as JSON")
			return fs
		},
		Run: runList,
	}
}

func runList(fs *pflag.FlagSet, args []string) error {
	socket, _ := fs.GetString("socket")
	if socket == "" {
		var err error
		if socket, err = rpc.SocketPath(); err != nil {
			return err
		}
	}

	client, err := rpc.Dial(socket)
	if err != nil {
		return err
	}
	defer client.Close()

	var infos []card.Info
	if err := client.Request(rpc.ChannelQuery, "cards_list", nil, &infos); err != nil {
		return fmt.Errorf("cards_list: %w", err)
	}

	if asJSON, _ := fs.GetBool("json"); asJSON {
		return cli.WriteJSON(infos)
	}

	profile := termenv.ColorProfile()
	dim := func(s string) string {
		return termenv.String(s).Foreground(profile.Color("8")).String()
	}
	stateColor := func(state string) string {
		color := "2" // green for active
		if state != "active" {
			color = "3" // yellow while dying
		}
		return termenv.String(state).Foreground(profile.Color(color)).String()
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", dim("NAME"), dim("ID"), dim("KIND"), dim("STATE"))
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.ID, info.Kind, stateColor(info.State))
	}
	return tw.Flush()
}
