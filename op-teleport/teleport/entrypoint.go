package teleport

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	opservice "github.com/mantlenetworkio/teleport/op-service"
	"github.com/mantlenetworkio/teleport/op-service/cliapp"
	oplog "github.com/mantlenetworkio/teleport/op-service/log"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/flags"
)

type MainFn func(ctx context.Context, cfg *config.Config, logger log.Logger) (cliapp.Lifecycle, error)

// Main is the entrypoint into the service.
// This method returns a cliapp.LifecycleAction, to create an op-service CLI-lifecycle-managed service with.
func Main(version string, fn MainFn) cliapp.LifecycleAction {
	return func(cliCtx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		if err := flags.CheckRequired(cliCtx); err != nil {
			return nil, err
		}
		cfg := flags.ConfigFromCLI(cliCtx, version)
		if err := cfg.Check(); err != nil {
			return nil, fmt.Errorf("invalid CLI flags: %w", err)
		}

		l := oplog.NewLogger(cliCtx.App.Writer, cfg.LogConfig)
		oplog.SetGlobalLogHandler(l.Handler())
		cliapp.WarnOnUnknownEnvVars(opservice.ValidateEnvVars(flags.EnvVarPrefix, flags.EnvVars(), os.Environ()))

		l.Info("Initializing op-teleport")
		return fn(cliCtx.Context, cfg, l)
	}
}
