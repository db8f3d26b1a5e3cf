package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/mantlenetworkio/teleport/op-service"
	oplog "github.com/mantlenetworkio/teleport/op-service/log"
	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	oprpc "github.com/mantlenetworkio/teleport/op-service/rpc"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
)

const EnvVarPrefix = "OP_TELEPORT"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "System configuration file path",
		EnvVars: prefixEnvVars("CONFIG"),
		Value:   config.DefaultConfigYaml,
	}
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory of the persistent state. State is kept in memory if empty.",
		EnvVars: prefixEnvVars("DATADIR"),
	}
	OracleAddrFlag = &cli.StringFlag{
		Name:    "oracle.addr",
		Usage:   "Oracle attestation server listening address",
		EnvVars: prefixEnvVars("ORACLE_ADDR"),
		Value:   "0.0.0.0",
	}
	OraclePortFlag = &cli.IntFlag{
		Name:    "oracle.port",
		Usage:   "Oracle attestation server listening port",
		EnvVars: prefixEnvVars("ORACLE_PORT"),
		Value:   8080,
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ConfigFlag,
	DataDirFlag,
	OracleAddrFlag,
	OraclePortFlag,
}

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(Flags, requiredFlags...)
	Flags = append(Flags, optionalFlags...)
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

func ConfigFromCLI(ctx *cli.Context, version string) *config.Config {
	return &config.Config{
		Version:       version,
		LogConfig:     oplog.ReadCLIConfig(ctx),
		MetricsConfig: opmetrics.ReadCLIConfig(ctx),
		RPC:           oprpc.ReadCLIConfig(ctx),
		OracleServer: config.OracleServerConfig{
			ListenAddr: ctx.String(OracleAddrFlag.Name),
			ListenPort: ctx.Int(OraclePortFlag.Name),
		},
		DataDir: ctx.String(DataDirFlag.Name),
		System:  &config.YamlLoader{Path: ctx.String(ConfigFlag.Name)},
	}
}

// EnvVars lists the env vars of every flag.
func EnvVars() []string {
	var out []string
	for _, f := range Flags {
		if ev, ok := f.(interface{ GetEnvVars() []string }); ok {
			out = append(out, ev.GetEnvVars()...)
		}
	}
	return out
}
