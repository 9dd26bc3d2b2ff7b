package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/levelup/tui"
	"github.com/hochfrequenz/levelup/web/api"
)

var serveAddr string

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web API with live events and a scheduled sweep",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)

	// approve command
	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Launch the checkpoint approval dashboard",
		RunE:  runApprove,
	}
	rootCmd.AddCommand(approveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := newLogger(cfg)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	server := api.NewServer(store, addr, log)

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(ctx)
	})

	// Store writes from any process become SSE ticks for connected approvers.
	watcher, err := store.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("store watcher unavailable, live events disabled")
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-watcher.Changes():
					server.Broadcast(api.RunsChanged())
				}
			}
		})
	}

	if schedule := cfg.Server.SweepSchedule; schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(schedule, func() {
			marked, err := store.MarkDeadRuns()
			if err != nil {
				log.Warn().Err(err).Msg("liveness sweep failed")
				return
			}
			if len(marked) > 0 {
				log.Info().Strs("run_ids", marked).Msg("dead runs marked failed")
				server.Broadcast(api.RunsChanged())
			}
		})
		if err != nil {
			return fmt.Errorf("invalid sweep_schedule %q: %w", schedule, err)
		}
		c.Start()
		defer c.Stop()
	}

	return g.Wait()
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p := tea.NewProgram(tui.NewModel(store), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
