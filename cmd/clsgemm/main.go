package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/clsgemm/internal/backend"
	"github.com/fxnlabs/clsgemm/internal/config"
	"github.com/fxnlabs/clsgemm/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(exitCode(err))
	}
}

// state is what the Before hook prepares for the commands.
type state struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newApp() *cli.App {
	st := &state{}
	a := &cli.App{
		Name:    "clsgemm",
		Usage:   "Run a single-precision matrix multiply kernel on an OpenCL device",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CLSGEMM_CONFIG"},
			},
			&cli.StringFlag{Name: "verbosity", Usage: "Log `LEVEL`"},
			&cli.StringFlag{Name: "backend", Usage: "Compute backend, one of auto, opencl, host"},
			&cli.StringFlag{Name: "platform", Usage: "Select the first platform whose name contains `NAME`"},
			&cli.StringFlag{Name: "kernel", Usage: "Read kernel source from `FILE`"},
			&cli.StringFlag{Name: "entry", Usage: "Kernel entry point `NAME`"},
			&cli.StringFlag{Name: "build-options", Usage: "Options passed to the kernel compiler"},
			&cli.IntFlag{Name: "n", Usage: "Rows of A and C"},
			&cli.IntFlag{Name: "k", Usage: "Columns of A, rows of B"},
			&cli.IntFlag{Name: "m", Usage: "Columns of B and C"},
			&cli.BoolFlag{Name: "verify", Usage: "Check C against a host reference"},
			&cli.BoolFlag{Name: "debug", Usage: "Log matrix previews"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "Write Prometheus metrics to `FILE`"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitOther)
			}
			applyFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return cli.Exit(err.Error(), exitOther)
			}
			zapLogger, err := logger.New(cfg.Logger)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to create logger: %v", err), exitOther)
			}
			st.cfg = cfg
			st.logger = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if st.logger != nil {
				_ = st.logger.Sync()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return runAction(c, st)
		},
		Commands: []*cli.Command{
			runCommand(st),
			devicesCommand(st),
			configCommand(),
		},
	}
	// print exit messages but leave exiting to main
	a.ExitErrHandler = func(_ *cli.Context, err error) {
		if err != nil && err.Error() != "" {
			fmt.Fprintln(a.ErrWriter, err)
		}
	}
	return a
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("verbosity") {
		cfg.Logger.Verbosity = c.String("verbosity")
	}
	if c.IsSet("backend") {
		cfg.Runtime.Backend = c.String("backend")
	}
	if c.IsSet("platform") {
		cfg.Platform.Name = c.String("platform")
	}
	if c.IsSet("kernel") {
		cfg.Kernel.Path = c.String("kernel")
		cfg.Kernel.Source = ""
	}
	if c.IsSet("entry") {
		cfg.Kernel.EntryPoint = c.String("entry")
	}
	if c.IsSet("build-options") {
		cfg.Kernel.BuildOptions = c.String("build-options")
	}
	if c.IsSet("n") {
		cfg.Matrix.N = c.Int("n")
	}
	if c.IsSet("k") {
		cfg.Matrix.K = c.Int("k")
	}
	if c.IsSet("m") {
		cfg.Matrix.M = c.Int("m")
	}
	if c.IsSet("verify") {
		cfg.Verify.Enabled = c.Bool("verify")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("metrics-textfile") {
		cfg.Metrics.Textfile = c.String("metrics-textfile")
	}
	if cfg.Debug {
		cfg.Logger.Verbosity = "debug"
	}
}

func init() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "clsgemm %s (backends: %v)\n", c.App.Version, backend.Names)
	}
}
