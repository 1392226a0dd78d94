package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/cobra"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/tag"
	"btclc/net"
)

const (
	flagNetwork    = "network"
	flagTag        = "babylon-tag"
	flagDepth      = "btc-confirmation-depth"
	flagTimeout    = "checkpoint-finalization-timeout"
	flagNotify     = "notify-cosmos-zone"
	flagBaseHeader = "base-header"
	flagBaseHeight = "base-height"
	flagFile       = "file"
	flagStartAfter = "start-after"
	flagLimit      = "limit"
	flagReverse    = "reverse"
)

func initCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Instantiate the light client from the [init] config section and flags",
		Long: `Stores the configuration and base header. Without a base header the
network's genesis header is used at height 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg := a.Config.Init
			if msg.BaseHeader == "" {
				genesis, err := genesisHex(msg.Network)
				if err != nil {
					return err
				}
				msg.BaseHeader, msg.BaseHeight = genesis, 0
			}
			return a.withClient(func(lc *core.LightClient) error {
				if err := lc.Instantiate(msg); err != nil {
					return err
				}
				cfg, err := lc.Config()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}

	f := cmd.Flags()
	f.String(flagNetwork, string(config.Regtest), "network: mainnet, testnet, signet or regtest")
	f.String(flagTag, "", "4-byte checkpoint tag, 8 hex characters")
	f.Uint64(flagDepth, 6, "confirmations before a checkpoint is confirmed")
	f.Uint64(flagTimeout, 0, "confirmed epochs to wait for an acknowledgment, 0 waits forever")
	f.Bool(flagNotify, false, "require an acknowledgment before finalizing")
	f.String(flagBaseHeader, "", "hex-encoded base header")
	f.Uint64(flagBaseHeight, 0, "height of the base header")
	for _, name := range []string{flagNetwork, flagTag, flagDepth, flagTimeout, flagNotify, flagBaseHeader, flagBaseHeight} {
		if err := a.Viper.BindPFlag("init."+name, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func genesisHex(network string) (string, error) {
	params, err := config.Network(network).Params()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(header.FromWire(&params.GenesisBlock.Header).Encode()), nil
}

func headersCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "headers",
		Aliases: []string{"h"},
		Short:   "Header chain commands",
	}
	submit := &cobra.Command{
		Use:   "submit [header_hex...]",
		Short: "Submit raw headers in chain order",
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s headers submit 0000002006226e46...
$ %s headers submit --file headers.txt`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := args
			if file, _ := cmd.Flags().GetString(flagFile); file != "" {
				fromFile, err := readLines(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				lines = append(lines, fromFile...)
			}
			if len(lines) == 0 {
				return fmt.Errorf("no headers given")
			}
			raw := make([][]byte, len(lines))
			for i, l := range lines {
				b, err := hex.DecodeString(l)
				if err != nil {
					return fmt.Errorf("header %d: %w", i, err)
				}
				raw[i] = b
			}
			return a.execute(cmd, core.MsgBtcHeaders{Headers: raw})
		},
	}
	submit.Flags().String(flagFile, "", "file with one hex header per line, - for stdin")
	cmd.AddCommand(submit)
	return cmd
}

// readLines returns the non-empty trimmed lines of path, or of stdin for "-".
func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out, sc.Err()
}

func checkpointCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "Checkpoint commands",
	}
	submit := &cobra.Command{
		Use:   "submit epoch anchor_hash [anchor_hash...]",
		Short: "Report that an epoch was anchored in the given headers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("epoch: %w", err)
			}
			anchors := make([]chainhash.Hash, len(args)-1)
			for i, s := range args[1:] {
				if anchors[i], err = header.ParseHash(s); err != nil {
					return fmt.Errorf("anchor %d: %w", i, err)
				}
			}
			tagHex, _ := cmd.Flags().GetString(flagTag)
			return a.withClient(func(lc *core.LightClient) error {
				var t tag.Tag
				if tagHex == "" {
					cfg, err := lc.Config()
					if err != nil {
						return err
					}
					t = cfg.BabylonTag
				} else if t, err = tag.Decode(tagHex); err != nil {
					return err
				}
				return executeWith(cmd, lc, core.MsgSubmitCheckpoint{Epoch: epoch, Tag: t, AnchorHashes: anchors})
			})
		},
	}
	submit.Flags().String(flagTag, "", "checkpoint tag (default: the configured tag)")
	cmd.AddCommand(submit)
	return cmd
}

func ackCmd(a *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "ack epoch",
		Short: "Record the companion chain's acknowledgment of an epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("epoch: %w", err)
			}
			return a.execute(cmd, core.MsgAcknowledge{Epoch: epoch})
		},
	}
}

func (a *appState) execute(cmd *cobra.Command, msg core.Msg) error {
	return a.withClient(func(lc *core.LightClient) error {
		return executeWith(cmd, lc, msg)
	})
}

func executeWith(cmd *cobra.Command, lc *core.LightClient, msg core.Msg) error {
	res, err := lc.Execute(net.SystemEnv(), msg)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func queryCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query",
		Aliases: []string{"q"},
		Short:   "Query the light client state",
	}

	simple := func(use, short string, q core.Query) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.query(cmd, q)
			},
		}
	}
	byNumber := func(use, short string, q func(n uint64) core.Query) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return err
				}
				return a.query(cmd, q(n))
			},
		}
	}

	headers := &cobra.Command{
		Use:   "headers",
		Short: "Page through the canonical chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var q core.QueryHeaders
			if cmd.Flags().Changed(flagStartAfter) {
				v, _ := cmd.Flags().GetUint64(flagStartAfter)
				q.StartAfter = &v
			}
			if cmd.Flags().Changed(flagLimit) {
				v, _ := cmd.Flags().GetUint32(flagLimit)
				q.Limit = &v
			}
			q.Reverse, _ = cmd.Flags().GetBool(flagReverse)
			return a.query(cmd, q)
		},
	}
	headers.Flags().Uint64(flagStartAfter, 0, "exclusive height to start after")
	headers.Flags().Uint32(flagLimit, config.DefaultRangeLimit, "page size, at most 100")
	headers.Flags().Bool(flagReverse, false, "walk from the tip downwards")

	cmd.AddCommand(
		simple("config", "Show the configuration", core.QueryConfig{}),
		simple("base", "Show the base header", core.QueryBaseHeader{}),
		simple("tip", "Show the canonical tip", core.QueryTipHeader{}),
		byNumber("header height", "Show the canonical header at a height", func(n uint64) core.Query {
			return core.QueryHeader{Height: n}
		}),
		&cobra.Command{
			Use:   "header-by-hash hash",
			Short: "Show any stored header by hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.query(cmd, core.QueryHeaderByHash{Hash: args[0]})
			},
		},
		headers,
		simple("base-epoch", "Show the first submitted epoch", core.QueryBaseEpoch{}),
		simple("last-epoch", "Show the last finalized epoch", core.QueryLastEpoch{}),
		byNumber("epoch number", "Show an epoch", func(n uint64) core.Query {
			return core.QueryEpoch{Number: n}
		}),
		byNumber("checkpoint epoch", "Show the checkpoint of an epoch", func(n uint64) core.Query {
			return core.QueryCheckpoint{Number: n}
		}),
	)
	return cmd
}

func (a *appState) query(cmd *cobra.Command, q core.Query) error {
	return a.withClient(func(lc *core.LightClient) error {
		v, err := lc.Query(q)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	})
}
