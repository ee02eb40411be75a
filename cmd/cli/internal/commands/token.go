package commands

import (
	"context"
	"fmt"
)

// TokenCmd prints the current access token, refreshing it first when it
// has expired or when --refresh is given.
type TokenCmd struct {
	Refresh bool `help:"Force a token refresh"`
}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	rt, snap, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !snap.IsAuthenticated() {
		return errNotLoggedIn
	}

	if t.Refresh {
		token, err := rt.manager.Refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(globals.out(), token)
		return nil
	}

	token, err := rt.manager.TokenSource(ctx).Token()
	if err != nil {
		return err
	}

	fmt.Fprintln(globals.out(), token.AccessToken)
	return nil
}
