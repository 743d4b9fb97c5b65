package cmd

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"Multipath/pkg"
	"Multipath/pkg/address"
	"Multipath/pkg/apply"
	"Multipath/pkg/node"
	"Multipath/pkg/util"
)

const (
	cfgConfigFile = "config"
	cfgPool       = "pool"
	cfgBlockBits  = "block-bits"
	cfgImage      = "image"
	cfgWorkers    = "workers"
	cfgBackend    = "backend"
	cfgLogLevel   = "log-level"
	cfgLogFormat  = "log-format"

	backendDocker = "docker"
	backendDryRun = "dry-run"
)

var (
	config  = viper.New()
	logger  = zap.NewNop()
	options pkg.Options
)

var rootCmd = &cobra.Command{
	Use:               "multipath",
	Short:             "Multi-path policy routing planner",
	Long:              "Plans addresses, static routes and protocol based policy routing for an emulated topology, and applies them.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String(cfgConfigFile, "", "Path to a configuration file")
	pf.String(cfgPool, address.DefaultPool.String(), "Address pool subnets are drawn from")
	pf.Int(cfgBlockBits, address.DefaultBlockBits, "Prefix length of every allocated subnet")
	pf.String(cfgImage, node.DefaultImage, "Container image for hosts and routers")
	pf.Int(cfgWorkers, apply.DefaultWorkers, "Number of nodes configured concurrently")
	pf.String(cfgBackend, backendDocker, "Apply backend: docker or dry-run")
	pf.String(cfgLogLevel, "info", "Log level")
	pf.String(cfgLogFormat, "console", "Log format: console or json")

	config.SetEnvPrefix("MULTIPATH")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
	if err := config.BindPFlags(pf); err != nil {
		panic(err)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if file := config.GetString(cfgConfigFile); file != "" {
		config.SetConfigFile(file)
		if err := config.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config %s", file)
		}
	}

	l, err := newLogger(config.GetString(cfgLogLevel), config.GetString(cfgLogFormat))
	if err != nil {
		return err
	}
	logger = l

	pool, err := util.ParseSubnet(config.GetString(cfgPool))
	if err != nil {
		return errors.Wrap(err, "invalid pool")
	}
	options = pkg.Options{
		Pool:      pool,
		BlockBits: config.GetInt(cfgBlockBits),
		Workers:   config.GetInt(cfgWorkers),
	}
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, errors.Errorf("invalid log format %q", format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// newHost returns the backend selected by configuration.
func newHost() (apply.Host, func(), error) {
	switch backend := config.GetString(cfgBackend); backend {
	case backendDryRun:
		return apply.NewDryRunHost(logger), func() {}, nil
	case backendDocker:
		m, err := pkg.NewManager(config.GetString(cfgImage), logger)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			if err := m.Destroy(context.Background()); err != nil {
				logger.Error("failed to clean up", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, errors.Errorf("unknown backend %q", backend)
	}
}

// planner returns a calculator without a host, for commands that only plan.
func planner() *pkg.Calculator {
	return pkg.NewCalculator(nil, logger, options)
}
