package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/storage"
)

const (
	appName = "btclcd"
	cfgFile = "config.toml"

	flagHome        = "home"
	flagLogLevel    = "log-level"
	flagDataDir     = "data-dir"
	flagP2PPort     = "p2p-port"
	flagBootstrap   = "bootstrap"
	flagMDNS        = "mdns"
	flagMetricsAddr = "metrics-addr"
)

var defaultHome = os.ExpandEnv("$HOME/.btclc")

// DaemonConfig is the node's local configuration, read from
// <home>/config.toml, BTCLC_* environment variables and flags.
type DaemonConfig struct {
	LogLevel    string         `mapstructure:"log-level"`
	DataDir     string         `mapstructure:"data-dir"`
	P2PPort     int            `mapstructure:"p2p-port"`
	Bootstrap   []string       `mapstructure:"bootstrap"`
	MDNS        bool           `mapstructure:"mdns"`
	MetricsAddr string         `mapstructure:"metrics-addr"`
	Init        config.InitMsg `mapstructure:"init"`
}

// appState is shared by every command.
type appState struct {
	// Log is the root logger. Components scope it with .With.
	Log *zap.Logger

	Viper    *viper.Viper
	HomePath string
	Config   DaemonConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	a := &appState{Viper: viper.New()}

	root := &cobra.Command{
		Use:          appName,
		Short:        "Bitcoin header-chain light client with checkpoint finality tracking",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.Log != nil {
				_ = a.Log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.HomePath, flagHome, defaultHome, "home directory holding config.toml and data")
	pf.String(flagLogLevel, "info", "log level (debug, info, warn, error)")
	pf.String(flagDataDir, "", "data directory (default <home>/data)")
	for _, name := range []string{flagLogLevel, flagDataDir} {
		if err := a.Viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	a.Viper.SetDefault(flagLogLevel, "info")
	a.Viper.SetDefault(flagP2PPort, 4001)
	a.Viper.SetDefault(flagMDNS, true)
	a.Viper.SetDefault(flagMetricsAddr, ":9464")

	root.AddCommand(
		initCmd(a),
		headersCmd(a),
		checkpointCmd(a),
		ackCmd(a),
		queryCmd(a),
		startCmd(a),
		devCmd(a),
	)
	return root
}

// load reads the config file, if any, and builds the logger. The node
// flags are shared by several commands, so only the running command's
// copies are bound.
func (a *appState) load(cmd *cobra.Command) error {
	for _, name := range []string{flagP2PPort, flagBootstrap, flagMDNS, flagMetricsAddr} {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.Viper.BindPFlag(name, f); err != nil {
				return err
			}
		}
	}
	a.Viper.SetConfigFile(filepath.Join(a.HomePath, cfgFile))
	a.Viper.SetEnvPrefix("BTCLC")
	a.Viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.Viper.AutomaticEnv()
	if err := a.Viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := a.Viper.Unmarshal(&a.Config); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if a.Config.DataDir == "" {
		a.Config.DataDir = filepath.Join(a.HomePath, "data")
	}

	log, err := newRootLogger(a.Config.LogLevel)
	if err != nil {
		return err
	}
	a.Log = log
	return nil
}

func newRootLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	return cfg.Build()
}

// openClient opens the badger store under the data directory. The caller
// closes the returned DB.
func (a *appState) openClient() (*core.LightClient, storage.DB, error) {
	db, err := storage.OpenBadger(a.Config.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return core.NewLightClient(db, a.Log), db, nil
}

// withClient runs fn against the light client and closes the store after.
func (a *appState) withClient(fn func(lc *core.LightClient) error) (err error) {
	lc, db, err := a.openClient()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(lc)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
