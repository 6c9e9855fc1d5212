package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seralo/bridgebot/internal/agent"
	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/dispatch"
	"github.com/seralo/bridgebot/internal/handoff"
	"github.com/seralo/bridgebot/internal/logging"
	"github.com/seralo/bridgebot/internal/recovery"
	"github.com/seralo/bridgebot/internal/runtime"
	"github.com/seralo/bridgebot/internal/session"
)

func serveCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long: `Run the bridge event loop.

Inbound chat events arrive as JSON lines on stdin, outbound operations
leave as JSON lines on stdout. A platform connector translates between
this stream and the chat service.

Configuration comes from BRIDGEBOT_* environment variables or
~/.bridgebot/config.toml. Run 'bridgebot serve --debug' to log at
debug level.`,
		Run: func(cmd *cobra.Command, args []string) {
			if debug {
				logging.SetDefaultLevel(logging.LevelDebug)
			}
			if err := runServe(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level")
	return cmd
}

func runServe() error {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("serve")

	registry, err := handoff.Open(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("open handoff registry: %w", err)
	}

	client := chat.NewStdioClient(os.Stdin, os.Stdout)
	poster := chat.NewPoster(client, cfg.PostInterval)
	scanner := recovery.NewScanner(client, registry)
	store := session.NewStore(scanner)
	runner := agent.NewCLIRunner(cfg.AgentBin)
	dispatcher := dispatch.New(cfg, client, poster, runner, store)

	sm := runtime.NewShutdownManager(cfg.ShutdownGrace)
	sm.Register("registry", func(ctx context.Context) error {
		return registry.Close()
	})
	sm.Register("dispatcher", func(ctx context.Context) error {
		dispatcher.InterruptAll()
		return dispatcher.Drain(ctx)
	})
	sm.ListenForSignals()

	ctx := sm.Context()

	go store.RunSweeper(ctx, cfg.SweepInterval, cfg.SessionMaxAge, func(evicted []string) {
		log.Info("sessions_swept", map[string]interface{}{"count": len(evicted)})
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx)
	}()

	log.Info("bridge_started", map[string]interface{}{
		"channels":  len(cfg.ChannelDirs),
		"agent_bin": cfg.AgentBin,
	})

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				// Transport closed: drain and exit cleanly.
				log.Info("transport_closed", nil)
				sm.Shutdown()
				sm.WaitForShutdown()
				return <-runErr
			}
			dispatcher.Dispatch(ctx, ev)

		case <-ctx.Done():
			sm.WaitForShutdown()
			return nil
		}
	}
}
