package main

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	opservice "github.com/mantlenetworkio/teleport/op-service"
	"github.com/mantlenetworkio/teleport/op-service/cliapp"
	"github.com/mantlenetworkio/teleport/op-service/ctxinterrupt"
	oplog "github.com/mantlenetworkio/teleport/op-service/log"
	"github.com/mantlenetworkio/teleport/op-service/metrics/doc"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/flags"
	"github.com/mantlenetworkio/teleport/op-teleport/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport"
)

var (
	Version   = "v0.0.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := run(ctx, os.Stdout, os.Stderr, os.Args, fromConfig)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx context.Context, w io.Writer, ew io.Writer, args []string, fn teleport.MainFn) error {
	oplog.SetupDefaults()

	app := cli.NewApp()
	app.Writer = w
	app.ErrWriter = ew
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Version = opservice.FormatVersion(Version, GitCommit, GitDate, "")
	app.Name = "op-teleport"
	app.Usage = "op-teleport runs a teleport devnet: a settlement domain and its source domains, with oracles and a relayer."
	app.Description = "Teleport service for devnets.\n" +
		" Try the teleport RPC on /domain/{DOMAIN_NAME_HERE}, and the oracle attestations on the oracle port."
	app.Action = cliapp.LifecycleCmd(teleport.Main(app.Version, fn))
	app.Commands = []*cli.Command{
		{
			Name:        "doc",
			Subcommands: doc.NewSubcommands(metrics.NewMetrics("default")),
		},
	}
	return app.RunContext(ctx, args)
}

func fromConfig(ctx context.Context, cfg *config.Config, logger log.Logger) (cliapp.Lifecycle, error) {
	return teleport.FromConfig(ctx, cfg, logger)
}
