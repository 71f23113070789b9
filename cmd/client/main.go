package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/benaharon1/armageddon-chess-client/internal/api"
	"github.com/benaharon1/armageddon-chess-client/internal/config"
	"github.com/benaharon1/armageddon-chess-client/internal/game"
	"github.com/benaharon1/armageddon-chess-client/internal/identity"
	"github.com/benaharon1/armageddon-chess-client/internal/transport"
	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

func main() {
	roomFlag := flag.String("room", "", "room id to join; empty creates a new room")
	nameFlag := flag.String("name", "", "display name (remembered for future runs)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *roomFlag, *nameFlag); err != nil {
		logger.Fatal("client exited", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, logger *zap.Logger, roomID, name string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := identity.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}

	id, ok := store.Load()
	switch {
	case !ok && name == "":
		return fmt.Errorf("no saved identity; pass -name on first use")
	case !ok:
		id = identity.New(name)
	case name != "" && name != id.Name:
		id.Name = name
	}
	if err := store.Save(id); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}

	client := api.NewClient(cfg.BackendURL, logger)

	if roomID == "" {
		created, err := client.CreateRoom(ctx)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		roomID = created
		fmt.Printf("created room %s\n", roomID)
	}

	sess := game.New(ctx, client, id, roomID, game.Options{
		ClockTick: cfg.ClockTick,
		Transport: transportOptions(cfg),
	}, clockwork.NewRealClock(), logger)
	defer sess.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return render(ctx, sess.Updates())
	})
	return g.Wait()
}

func transportOptions(cfg config.Config) transport.Options {
	return transport.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectFactor:   cfg.ReconnectFactor,
		ReconnectMax:      cfg.ReconnectMax,
		PollInterval:      cfg.PollInterval,
		PollWindow:        cfg.PollWindow,
	}
}

// render is the stand-in for the out-of-scope UI layer: it prints phase
// changes, notices, and results from the update stream.
func render(ctx context.Context, updates <-chan game.Update) error {
	var lastPhase types.Phase
	var wasOver bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Terminated {
				fmt.Printf("room terminated; carry on as %q\n", u.CarryName)
				return nil
			}
			if u.Notice != nil {
				fmt.Printf("[%s] %s\n", u.Notice.Level, u.Notice.Text)
			}
			if u.Room != nil && u.Room.Phase != lastPhase {
				lastPhase = u.Room.Phase
				fmt.Printf("phase: %s\n", lastPhase)
			}
			if u.GameOver != nil && !wasOver {
				wasOver = true
				printResult(*u.GameOver)
			}
			if u.GameOver == nil {
				wasOver = false
			}
		}
	}
}

func printResult(over game.GameOver) {
	tag := ""
	if over.Provisional {
		tag = " (pending confirmation)"
	}
	if over.Draw() {
		fmt.Printf("draw%s\n", tag)
		return
	}
	fmt.Printf("%s wins as %s by %s%s\n", over.WinnerName, over.WinnerColor, over.Result, tag)
}
