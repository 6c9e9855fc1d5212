// Package main provides the bridgebot CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridgebot",
		Short: "Chat bridge for a local coding agent",
		Long: `bridgebot connects chat threads to a local coding agent.

Each thread maps to one agent session: mention the bot to start a
conversation, reply in the thread to continue it, say "stop" to
interrupt a running turn.

Use 'bridgebot serve' to run the bridge.
Use 'bridgebot handoff' from a project directory to move a terminal
session into chat.`,
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "bridge", Title: "Bridge:"},
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
	)

	serve := serveCmd()
	serve.GroupID = "bridge"
	rootCmd.AddCommand(serve)

	handoff := handoffCmd()
	handoff.GroupID = "bridge"
	rootCmd.AddCommand(handoff)

	sessions := sessionsCmd()
	sessions.GroupID = "sessions"
	rootCmd.AddCommand(sessions)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show bridgebot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bridgebot version %s\n", version)
		},
	}
}
