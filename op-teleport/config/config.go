package config

import (
	"errors"
	"math"

	oplog "github.com/mantlenetworkio/teleport/op-service/log"
	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	oprpc "github.com/mantlenetworkio/teleport/op-service/rpc"
)

const (
	DefaultConfigYaml = "config.yaml"
)

// OracleServerConfig is where the attestation query endpoint listens.
type OracleServerConfig struct {
	ListenAddr string
	ListenPort int
}

func (c OracleServerConfig) Check() error {
	if c.ListenPort < 0 || c.ListenPort > math.MaxUint16 {
		return errors.New("invalid oracle server port")
	}
	return nil
}

type Config struct {
	Version string

	LogConfig     oplog.CLIConfig
	MetricsConfig opmetrics.CLIConfig
	RPC           oprpc.CLIConfig
	OracleServer  OracleServerConfig

	// DataDir holds the persistent state; state is kept in memory when empty.
	DataDir string

	System Loader
}

func (c *Config) Check() error {
	var result error
	result = errors.Join(result, c.LogConfig.Check())
	result = errors.Join(result, c.MetricsConfig.Check())
	result = errors.Join(result, c.RPC.Check())
	result = errors.Join(result, c.OracleServer.Check())
	if c.System == nil {
		result = errors.Join(result, errors.New("missing system config loader"))
	}
	return result
}

func DefaultCLIConfig() *Config {
	return &Config{
		Version:       "dev",
		LogConfig:     oplog.DefaultCLIConfig(),
		MetricsConfig: opmetrics.DefaultCLIConfig(),
		RPC:           oprpc.DefaultCLIConfig(),
		OracleServer:  OracleServerConfig{ListenAddr: "0.0.0.0", ListenPort: 8080},
		System:        &YamlLoader{Path: DefaultConfigYaml},
	}
}
