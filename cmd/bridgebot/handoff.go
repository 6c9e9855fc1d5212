package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/handoff"
)

func handoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff [path]",
		Short: "Hand the current terminal session off to chat",
		Long: `Hand the directory's newest agent session off to chat.

Finds the most recent agent session for the project directory, records
a memorable alias for it, and posts a marker message to the channel
mapped to the directory. Replying in the posted thread resumes the
session from chat.

Examples:
  bridgebot handoff              # Hand off the current directory's session
  bridgebot handoff ~/project    # Hand off a specific project`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workingDir, _ := os.Getwd()
			if len(args) > 0 {
				path := args[0]
				if !filepath.IsAbs(path) {
					path = filepath.Join(workingDir, path)
				}
				workingDir = path
			}

			if err := runHandoff(workingDir); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	return cmd
}

func runHandoff(workingDir string) error {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := handoff.Open(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("open handoff registry: %w", err)
	}
	defer registry.Close()

	client := chat.NewStdioClient(os.Stdin, os.Stdout)
	poster := chat.NewPoster(client, cfg.PostInterval)
	exporter := handoff.NewExporter(registry, cfg, poster)

	res, err := exporter.Export(context.Background(), workingDir)
	if err != nil {
		switch {
		case errors.Is(err, handoff.ErrNoLocalSession):
			return fmt.Errorf("no agent session found for %s (run the agent there first)", workingDir)
		case errors.Is(err, handoff.ErrNoDestination):
			return fmt.Errorf("no channel mapped to %s (add it to channel_dirs)", workingDir)
		}
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Session handed off\n", green("✓"))
	fmt.Printf("  Alias:   %s\n", res.Alias)
	fmt.Printf("  Channel: %s\n", res.Channel)
	fmt.Println()
	fmt.Println("Close this terminal session before replying in the thread.")
	return nil
}
