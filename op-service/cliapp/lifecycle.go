package cliapp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/teleport/op-service/ctxinterrupt"
)

type Lifecycle interface {
	// Start starts a service. A service only fully starts once. Subsequent starts may return an error.
	// A context is provided to end the service during setup.
	// The caller should call Stop to clean up after failing to start.
	Start(ctx context.Context) error
	// Stop stops a service gracefully.
	// The provided ctx can force an accelerated shutdown,
	// but the node still has to completely stop.
	Stop(ctx context.Context) error
	// Stopped determines if the service was stopped with Stop.
	Stopped() bool
}

// LifecycleAction instantiates a Lifecycle based on a CLI context.
// The close argument may be called to request the lifecycle to stop on its own.
type LifecycleAction func(ctx *cli.Context, close context.CancelCauseFunc) (Lifecycle, error)

var interruptErr = errors.New("interrupt signal")

// LifecycleCmd turns a LifecycleAction into a CLI action,
// which starts the lifecycle, waits for an interrupt, and stops it again.
func LifecycleCmd(fn LifecycleAction) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		hostCtx := ctx.Context
		appCtx, appCancel := context.WithCancelCause(hostCtx)
		ctx.Context = appCtx

		go func() {
			_ = ctxinterrupt.Wait(appCtx)
			appCancel(interruptErr)
		}()

		appLifecycle, err := fn(ctx, appCancel)
		if err != nil {
			// join the error with the cancel cause, so the caller sees why the setup failed
			return errors.Join(
				fmt.Errorf("failed to setup: %w", err),
				context.Cause(appCtx),
			)
		}

		if err := appLifecycle.Start(appCtx); err != nil {
			// join the error with the cancel cause, so the caller sees why the start failed
			return errors.Join(
				fmt.Errorf("failed to start: %w", err),
				context.Cause(appCtx),
			)
		}

		// Wait for the app to be stopped, either by an interrupt or by the app itself.
		<-appCtx.Done()

		// Graceful stop context. A second interrupt forces the shutdown.
		stopCtx, stopCancel := context.WithCancelCause(hostCtx)
		go func() {
			_ = ctxinterrupt.Wait(stopCtx)
			stopCancel(interruptErr)
		}()

		stopErr := appLifecycle.Stop(stopCtx)
		stopCancel(nil)
		if stopErr != nil {
			return errors.Join(
				fmt.Errorf("failed to stop: %w", stopErr),
				context.Cause(stopCtx),
			)
		}
		return nil
	}
}

// ProtectFlags ensures that no flags are safe to mutate, by copying the flag definitions.
// Flags are global in urfave/cli, and are otherwise shared between tests.
func ProtectFlags(flags []cli.Flag) []cli.Flag {
	out := make([]cli.Flag, 0, len(flags))
	for _, f := range flags {
		fCopy, err := cloneFlag(f)
		if err != nil {
			log.Error("failed to clone flag, using shared definition", "flag", f.Names()[0], "err", err)
			fCopy = f
		}
		out = append(out, fCopy)
	}
	return out
}

func cloneFlag(f cli.Flag) (cli.Flag, error) {
	switch typedFlag := f.(type) {
	case *cli.GenericFlag:
		// We have to clone the generic values of the flags, as they may be mutated during parsing.
		cpy := *typedFlag
		if v, ok := typedFlag.Value.(interface{ Clone() any }); ok {
			if g, ok := v.Clone().(cli.Generic); ok {
				cpy.Value = g
			}
		}
		return &cpy, nil
	case *cli.StringFlag:
		cpy := *typedFlag
		return &cpy, nil
	case *cli.BoolFlag:
		cpy := *typedFlag
		return &cpy, nil
	case *cli.IntFlag:
		cpy := *typedFlag
		return &cpy, nil
	case *cli.Uint64Flag:
		cpy := *typedFlag
		return &cpy, nil
	case *cli.DurationFlag:
		cpy := *typedFlag
		return &cpy, nil
	case *cli.StringSliceFlag:
		cpy := *typedFlag
		return &cpy, nil
	default:
		return nil, fmt.Errorf("unexpected flag type: %T", f)
	}
}

// WarnOnUnknownEnvVars is a helper that can be called from an app's Before hook.
func WarnOnUnknownEnvVars(unknown []string) {
	for _, v := range unknown {
		log.Warn("Unknown env var, check for typos", "env", v)
	}
	_ = os.Stderr.Sync()
}
