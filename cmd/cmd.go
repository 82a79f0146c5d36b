// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// newApp builds the root command. Global flags are read by [Runner.loadConfig] before any
// subcommand runs.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "witx",
		Usage:   "Migrate work items between tracking accounts in resumable batches",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (.toml, .yaml or .json)",
				Value:   "config.toml",
				Sources: cli.EnvVars("WITX_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Override logging.level (debug, info, warn, error)",
				Sources: cli.EnvVars("WITX_LOG_LEVEL"),
			},
		},
		Before:   r.loadConfig,
		Commands: r.register(),
	}
}
