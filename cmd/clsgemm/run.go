package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxnlabs/clsgemm/internal/app"
	"github.com/fxnlabs/clsgemm/internal/sgemm"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	exitOther          = 1
	exitDeviceNotFound = 2
	exitBuildFailure   = 3
	exitRuntimeDevice  = 4
	exitVerification   = 5
)

const lifecycleTimeout = 30 * time.Second

func runCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Multiply A by B on the selected device (default command)",
		Action: func(c *cli.Context) error {
			return runAction(c, st)
		},
	}
}

func runAction(c *cli.Context, st *state) error {
	var runner *app.Runner
	fxApp := app.New(st.cfg, st.logger, fx.Populate(&runner))
	if err := fxApp.Err(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to initialise: %v", err), exitOther)
	}

	startCtx, cancel := context.WithTimeout(c.Context, lifecycleTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to start: %v", err), exitOther)
	}

	report, runErr := runner.Run()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		st.logger.Warn("Failed to stop cleanly", zap.Error(err))
	}

	if report != nil {
		printReport(c, report)
	}
	if runErr != nil {
		return describe(runErr, st.cfg.Platform.Name)
	}
	return nil
}

func printReport(c *cli.Context, r *app.Report) {
	w := c.App.Writer
	res := r.Result
	fmt.Fprintf(w, "Platform: %s\n", res.Platform.Name)
	fmt.Fprintf(w, "Device:   %s (%d compute units, %s backend)\n", res.Device.Name, res.Device.MaxComputeUnits, r.Backend)
	fmt.Fprintf(w, "Matrices: A %d×%d, B %d×%d, C %d×%d\n", res.Dims.N, res.Dims.K, res.Dims.K, res.Dims.M, res.Dims.N, res.Dims.M)
	fmt.Fprintf(w, "NDRange:  global %d, local %d", res.Partition.Global, res.Partition.Local)
	if !res.Partition.Uniform() {
		fmt.Fprintf(w, " (last work-group holds %d items)", res.Partition.Remainder)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Kernel execution time: %.3f ms (%.2f GFLOPS)\n", float64(res.Elapsed)/float64(time.Millisecond), res.GFLOPS())
	if v := r.Verification; v != nil {
		status := "passed"
		if !v.OK() {
			status = "FAILED"
		}
		fmt.Fprintf(w, "Verification %s: %d elements checked, %d mismatches, max relative error %.3g\n",
			status, v.Checked, v.Mismatches, v.MaxRelError)
	}
}

// describe turns a run error into an exit error with a message for its kind.
func describe(err error, platform string) cli.ExitCoder {
	if errors.Is(err, app.ErrVerificationFailed) {
		return cli.Exit("Result does not match the host reference", exitVerification)
	}
	var e *sgemm.Error
	errors.As(err, &e)
	switch sgemm.KindOf(err) {
	case sgemm.KindDeviceNotFound:
		return cli.Exit(fmt.Sprintf("No GPU device on a platform matching %q. Run `clsgemm devices` to see what is available.", platform), exitDeviceNotFound)
	case sgemm.KindBuildFailure:
		msg := fmt.Sprintf("Kernel build failed: %v", err)
		if e != nil && e.Build != nil {
			msg = fmt.Sprintf("Kernel build failed\nStatus:  %s\nOptions: %s\nLog:\n%s", e.Build.Status, e.Build.Options, e.Build.Log)
		}
		return cli.Exit(msg, exitBuildFailure)
	case sgemm.KindRuntimeDevice:
		return cli.Exit(fmt.Sprintf("Device error during %s: %v", e.Op, e.Err), exitRuntimeDevice)
	default:
		return cli.Exit(fmt.Sprintf("Error: %v", err), exitOther)
	}
}

func exitCode(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitOther
}
