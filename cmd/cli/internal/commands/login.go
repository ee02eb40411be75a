package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecovibe/ecovibe/internal/client"
)

// LoginCmd signs in and stores the session for later commands.
type LoginCmd struct {
	Email    string `help:"Account email" required:""`
	Password string `help:"Account password" env:"ECOVIBE_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	if l.Password == "" {
		return errors.New("password required: pass --password or set ECOVIBE_PASSWORD")
	}

	rt, _, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	route, err := rt.manager.Login(ctx, client.Credentials{Email: l.Email, Password: l.Password})
	if err != nil {
		return err
	}

	snap := rt.manager.Snapshot()
	out := globals.out()
	fmt.Fprintf(out, "Signed in as %s (%s)\n", snap.User.Email, snap.User.Role)
	fmt.Fprintf(out, "Landing route: %s\n", route)

	return nil
}
