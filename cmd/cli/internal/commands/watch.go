package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ecovibe/ecovibe/internal/session"
	"github.com/rs/zerolog/log"
)

// WatchCmd follows the stored session and reports every change made by
// other processes until interrupted.
type WatchCmd struct{}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := globals.out()
	onChange := func(snap session.Snapshot) {
		event := log.Info().Str("state", snap.State.String())
		if snap.User != nil {
			event = event.Str("user_id", snap.User.ID).Str("role", string(snap.User.Role))
		}
		event.Msg("session changed")
		fmt.Fprintf(out, "%s\n", describe(snap))
	}

	rt, snap, err := hydrated(ctx, globals, onChange)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(out, "Watching session for %s (press Ctrl+C to stop)...\n", rt.settings.APIURL)
	fmt.Fprintf(out, "%s\n", describe(snap))

	if err := rt.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session sync: %w", err)
	}

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping...")

	return nil
}

func describe(snap session.Snapshot) string {
	if snap.User == nil {
		return snap.State.String()
	}
	return fmt.Sprintf("%s as %s (%s, %s)", snap.State, snap.User.Email, snap.User.Role, snap.User.AccountStatus)
}
