package main

import (
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"btclc/core"
	"btclc/core/config"
	"btclc/miner"
	"btclc/net"
)

const (
	flagBatch    = "batch"
	flagInterval = "interval"
)

func startCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"st"},
		Short:   "Run the relay node and the metrics endpoint",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runNode(cmd.Context(), nil)
		},
	}
	return p2pFlags(cmd)
}

func devCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development helpers",
	}
	mine := &cobra.Command{
		Use:   "mine",
		Short: "Run the relay node and mine regtest headers on top of the tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, _ := cmd.Flags().GetInt(flagBatch)
			interval, _ := cmd.Flags().GetDuration(flagInterval)
			if batch < 1 {
				return fmt.Errorf("--%s must be at least 1", flagBatch)
			}
			return a.runNode(cmd.Context(), func(ctx context.Context, lc *core.LightClient, node *net.Node) error {
				cfg, err := lc.Config()
				if err != nil {
					return err
				}
				if cfg.Network != config.Regtest {
					return fmt.Errorf("dev mine needs a regtest light client, have %s", cfg.Network)
				}
				return miner.WorkLoop(ctx, a.Log, cfg.MustParams(), lc, node.SubmitHeaders, batch, interval)
			})
		},
	}
	mine.Flags().Int(flagBatch, 1, "headers per batch")
	mine.Flags().Duration(flagInterval, 5*time.Second, "pause between batches")
	cmd.AddCommand(p2pFlags(mine))
	return cmd
}

func p2pFlags(cmd *cobra.Command) *cobra.Command {
	f := cmd.Flags()
	f.Int(flagP2PPort, 4001, "libp2p listen port")
	f.StringSlice(flagBootstrap, nil, "peer multiaddrs to dial on start")
	f.Bool(flagMDNS, true, "discover local peers with mDNS")
	f.String(flagMetricsAddr, ":9464", "prometheus listen address, empty to disable")
	return cmd
}

// runNode serves the light client over gossip until ctx is done. extra runs
// alongside the node in the same group when set.
func (a *appState) runNode(ctx context.Context, extra func(context.Context, *core.LightClient, *net.Node) error) error {
	lc, db, err := a.openClient()
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := lc.Config(); err != nil {
		return fmt.Errorf("light client not initialized, run %s init: %w", appName, err)
	}

	cfg := net.DefaultConfig(a.Config.P2PPort)
	cfg.Bootstrap = a.Config.Bootstrap
	cfg.MDNS = a.Config.MDNS

	log := a.Log.With(zap.String("sys", "node"))
	node, err := net.NewNode(ctx, cfg, net.NewHandler(lc, net.SystemEnv, a.Log), a.Log)
	if err != nil {
		return err
	}
	defer node.Close()
	for _, addr := range node.Addrs() {
		log.Info("Listening", zap.String("addr", addr))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if a.Config.MetricsAddr != "" {
		ln, err := stdnet.Listen("tcp", a.Config.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on metrics address %q: %w", a.Config.MetricsAddr, err)
		}
		srv := &http.Server{Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		log.Info("Metrics server listening", zap.String("addr", ln.Addr().String()))
		eg.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-egCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	eg.Go(func() error { return node.Run(egCtx) })
	if extra != nil {
		eg.Go(func() error { return extra(egCtx, lc, node) })
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Node stopped", zap.Error(err))
		return err
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
