package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/ecovibe/ecovibe/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login  commands.LoginCmd  `cmd:"" help:"Sign in and store the session"`
		Logout commands.LogoutCmd `cmd:"" help:"Sign out and clear the stored session"`
		Whoami commands.WhoamiCmd `cmd:"" help:"Show the signed-in user"`
		Status commands.StatusCmd `cmd:"" help:"Show session state and route guard decisions"`
		Token  commands.TokenCmd  `cmd:"" help:"Print the current access token"`
		Watch  commands.WatchCmd  `cmd:"" help:"Follow session changes made by other processes"`
		API    commands.APICmd    `cmd:"" name:"api" help:"Send an authenticated API request"`

		Debug      bool   `help:"Enable debug mode."`
		Config     string `help:"YAML config file (default ~/.ecovibe/config.yaml)." type:"path"`
		APIURL     string `name:"api-url" help:"Backend API base URL." env:"ECOVIBE_API_URL"`
		SessionDir string `help:"Directory holding stored sessions." type:"path"`
		RedisURL   string `name:"redis-url" help:"Keep the session in Redis instead of a local file, e.g. redis://localhost:6379/0." env:"ECOVIBE_REDIS_URL"`
		Version    kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ecovibe-cli"),
		kong.Description("EcoVibe Kenya dashboard session client."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		Config:     cli.Config,
		APIURL:     cli.APIURL,
		SessionDir: cli.SessionDir,
		RedisURL:   cli.RedisURL,
	})
	cmd.FatalIfErrorf(err)
}
