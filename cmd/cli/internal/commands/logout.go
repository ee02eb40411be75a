package commands

import (
	"context"
	"fmt"
)

// LogoutCmd ends the stored session locally and on the backend.
type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	rt, snap, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer rt.clearHTTPCache()

	if !snap.IsAuthenticated() {
		fmt.Fprintln(globals.out(), "Not signed in.")
		return nil
	}

	route := rt.manager.Logout(ctx)
	fmt.Fprintf(globals.out(), "Signed out. Landing route: %s\n", route)

	return nil
}
