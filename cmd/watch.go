package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/annedurand/ezpaarse/internal/pubsub"
	"github.com/annedurand/ezpaarse/internal/resolver"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild the index and hot-reload platforms as their files change",
	Long: `Build the domain index, then watch the platforms directory and
reload each platform as its manifest, parser or knowledge-base files
change on disk. A platform whose directory disappears, or whose
manifest stops declaring domains, is delisted. Runs until interrupted.

Changes are debounced per platform (watch.debounce, default 1s), so an
editor save burst triggers one reload.

Example:
  ezpaarse watch -p /data/platforms`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := newService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	res, err := svc.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	fmt.Printf("Indexed %d platforms, %d domains (%d failed)\n",
		res.Platforms, res.Domains, len(res.Failures))

	events, err := svc.Watch(ctx)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Watching %s\n", cfg.PlatformsDir)
	fmt.Println("Press Ctrl+C to stop")

	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			printChange(event)
		}
	}
}

func printChange(event pubsub.Event[resolver.Change]) {
	switch {
	case event.Payload.Platform != "":
		if event.Type == pubsub.DeletedEvent {
			fmt.Printf("platform %s delisted\n", event.Payload.Platform)
		} else {
			fmt.Printf("platform %s reloaded\n", event.Payload.Platform)
		}
	case event.Payload.Domain != "":
		fmt.Printf("miss recorded: %s\n", event.Payload.Domain)
	}
}
