package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/handoff"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the handoff registry",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded handoffs (newest first)",
		Run: func(cmd *cobra.Command, args []string) {
			runRegistry(func(r *handoff.Registry) error {
				records, err := r.List(context.Background(), limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No handoffs recorded")
					return nil
				}

				header := fmt.Sprintf("HANDOFFS: %d", len(records))
				if term.IsTerminal(int(os.Stdout.Fd())) {
					header = headerStyle.Render(header)
				}
				fmt.Println(header)
				fmt.Println()
				for _, rec := range records {
					fmt.Printf("  %-30s %s\n", rec.Alias, rec.SessionID)
					fmt.Printf("  %-30s %s\n", "", rec.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Max records to show")

	resolveCmd := &cobra.Command{
		Use:   "resolve <alias>",
		Short: "Resolve an alias to its session identifier",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runRegistry(func(r *handoff.Registry) error {
				id, err := r.Resolve(context.Background(), args[0])
				if errors.Is(err, handoff.ErrAliasNotFound) {
					return fmt.Errorf("alias %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop old handoff records",
		Run: func(cmd *cobra.Command, args []string) {
			runRegistry(func(r *handoff.Registry) error {
				removed, err := r.Prune(context.Background(), keep)
				if err != nil {
					return err
				}
				fmt.Printf("✓ Pruned %d records (kept newest %d)\n", removed, keep)
				return nil
			})
		},
	}
	pruneCmd.Flags().IntVarP(&keep, "keep", "k", handoff.DefaultRetention, "Records to keep")

	cmd.AddCommand(listCmd, resolveCmd, pruneCmd)
	return cmd
}

// runRegistry opens the registry for one command, printing errors in the
// CLI's usual shape.
func runRegistry(fn func(*handoff.Registry) error) {
	err := func() error {
		cfg, err := config.Load(viper.New())
		if err != nil {
			return err
		}
		registry, err := handoff.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer registry.Close()
		return fn(registry)
	}()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
