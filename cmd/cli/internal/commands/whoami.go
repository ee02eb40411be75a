package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/ecovibe/ecovibe/internal/session"
)

// WhoamiCmd prints the signed-in user and their derived flags.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	rt, snap, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !snap.IsAuthenticated() {
		return errNotLoggedIn
	}

	user := snap.User
	out := globals.out()
	fmt.Fprintf(out, "ID:       %s\n", user.ID)
	fmt.Fprintf(out, "Name:     %s\n", user.Name)
	fmt.Fprintf(out, "Email:    %s\n", user.Email)
	fmt.Fprintf(out, "Role:     %s\n", user.Role)
	fmt.Fprintf(out, "Status:   %s\n", user.AccountStatus)
	if user.Avatar != "" {
		fmt.Fprintf(out, "Avatar:   %s\n", user.Avatar)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FLAG\tVALUE")
	for _, f := range []struct {
		name  string
		value bool
	}{
		{"client", snap.IsClient()},
		{"admin", snap.IsAdmin()},
		{"super_admin", snap.IsSuperAdmin()},
		{"at_least_admin", snap.IsAtLeastAdmin()},
		{"active", snap.IsActive()},
		{"inactive", snap.IsInactive()},
		{"suspended", snap.IsSuspended()},
	} {
		fmt.Fprintf(w, "%s\t%v\n", f.name, f.value)
	}
	return w.Flush()
}

// StatusCmd prints the session state and what each protected area of the
// dashboard would do with it.
type StatusCmd struct{}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	rt, snap, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := globals.out()
	fmt.Fprintf(out, "Backend:  %s\n", rt.settings.APIURL)
	fmt.Fprintf(out, "State:    %s\n", snap.State)
	if snap.IsAuthenticated() {
		fmt.Fprintf(out, "User:     %s (%s, %s)\n", snap.User.Email, snap.User.Role, snap.User.AccountStatus)
		if exp := session.AccessTokenExpiry(snap.AccessToken); !exp.IsZero() {
			fmt.Fprintf(out, "Expires:  %s\n", exp.Local().Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AREA\tDECISION\tROUTE")
	for _, area := range []struct {
		name string
		req  session.Requirement
	}{
		{"dashboard", session.Dashboard},
		{"admin", session.AdminOnly},
		{"super_admin", session.SuperAdminOnly},
	} {
		d := session.Guard(snap, area.req)
		route := string(d.Route)
		if route == "" {
			route = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", area.name, d.Outcome, route)
	}
	return w.Flush()
}
