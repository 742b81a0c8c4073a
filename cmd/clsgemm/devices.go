package main

import (
	"fmt"

	"github.com/fxnlabs/clsgemm/fixtures"
	"github.com/fxnlabs/clsgemm/internal/backend"
	"github.com/fxnlabs/clsgemm/internal/devices"
	"github.com/urfave/cli/v2"
)

func devicesCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List every platform and device of the backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-banner", Usage: "Omit the banner"},
		},
		Action: func(c *cli.Context) error {
			rt, err := backend.Open(st.cfg.Runtime.Backend, nil, st.logger)
			if err != nil {
				return cli.Exit(err.Error(), exitOther)
			}
			defer rt.Close()

			entries, err := devices.Inventory(rt)
			if err != nil {
				return cli.Exit(err.Error(), exitRuntimeDevice)
			}
			return devices.Render(c.App.Writer, entries, !c.Bool("no-banner"))
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print a commented configuration file with the defaults",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprint(c.App.Writer, string(fixtures.ConfigTemplate))
			return err
		},
	}
}
