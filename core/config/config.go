// Package config holds the light client parameters fixed at instantiation.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/multierr"

	"btclc/core/header"
	"btclc/core/tag"
)

// Header-chain consensus constants.
const (
	MedianTimeBlocks = 11            // window for median-time-past
	MaxTimeOffset    = 2 * time.Hour // how far a header may run ahead of host time
)

// Header range pagination. Limits outside (0, MaxRangeLimit] are clamped.
const (
	DefaultRangeLimit = 10
	MaxRangeLimit     = 100
)

var ErrConfig = errors.New("invalid configuration")

// Network names a supported proof-of-work network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// Params returns the consensus parameters of the network.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: unsupported network %q", ErrConfig, string(n))
	}
}

// Config is the immutable light client configuration.
type Config struct {
	Network                       Network `json:"network"`
	BabylonTag                    tag.Tag `json:"babylon_tag"`
	BtcConfirmationDepth          uint64  `json:"btc_confirmation_depth"`
	CheckpointFinalizationTimeout uint64  `json:"checkpoint_finalization_timeout"`
	// NotifyCosmosZone makes finalization wait for the companion chain to
	// acknowledge each confirmed checkpoint.
	NotifyCosmosZone bool `json:"notify_cosmos_zone"`
}

// MustParams is Params for a Config that already passed validation.
func (c Config) MustParams() *chaincfg.Params {
	p, err := c.Network.Params()
	if err != nil {
		panic(err)
	}
	return p
}

// InitMsg is the instantiation request. BabylonTag is a hex string, not raw bytes.
type InitMsg struct {
	Network                       string `json:"network" mapstructure:"network"`
	BabylonTag                    string `json:"babylon_tag" mapstructure:"babylon-tag"`
	BtcConfirmationDepth          uint64 `json:"btc_confirmation_depth" mapstructure:"btc-confirmation-depth"`
	CheckpointFinalizationTimeout uint64 `json:"checkpoint_finalization_timeout" mapstructure:"checkpoint-finalization-timeout"`
	NotifyCosmosZone              bool   `json:"notify_cosmos_zone" mapstructure:"notify-cosmos-zone"`

	// BaseHeader is the hex-encoded header the chain is anchored to, at
	// absolute height BaseHeight.
	BaseHeader string `json:"base_header" mapstructure:"base-header"`
	BaseHeight uint64 `json:"base_height" mapstructure:"base-height"`
}

// Validate reports every problem with the message, not just the first.
func (m InitMsg) Validate() error {
	_, _, err := m.parse()
	return err
}

// Config validates the message and returns the configuration and base header.
func (m InitMsg) Config() (Config, *header.Header, error) {
	return m.parse()
}

func (m InitMsg) parse() (Config, *header.Header, error) {
	var errs error

	network := Network(m.Network)
	params, err := network.Params()
	errs = multierr.Append(errs, err)

	t, err := tag.Decode(m.BabylonTag)
	errs = multierr.Append(errs, err)

	if m.BtcConfirmationDepth < 1 {
		errs = multierr.Append(errs, fmt.Errorf("%w: btc_confirmation_depth must be at least 1", ErrConfig))
	}

	base, err := header.DecodeHex(m.BaseHeader)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: base_header: %v", ErrConfig, err))
	} else if params != nil {
		if !base.MeetsTarget() {
			errs = multierr.Append(errs, fmt.Errorf("%w: base_header does not meet its own target", ErrConfig))
		}
		if base.Target().Cmp(params.PowLimit) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: base_header target above %s pow limit", ErrConfig, network))
		}
	}

	if errs != nil {
		return Config{}, nil, errs
	}
	cfg := Config{
		Network:                       network,
		BabylonTag:                    t,
		BtcConfirmationDepth:          m.BtcConfirmationDepth,
		CheckpointFinalizationTimeout: m.CheckpointFinalizationTimeout,
		NotifyCosmosZone:              m.NotifyCosmosZone,
	}
	base.Height = m.BaseHeight
	base.TotalWork = base.Work()
	return cfg, base, nil
}
