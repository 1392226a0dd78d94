// Package core is the light client state machine: header chain tracking,
// fork choice and checkpoint finality, driven one message at a time inside
// a storage transaction.
package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"btclc/core/commit"
	"btclc/core/config"
	"btclc/core/headerstore"
	"btclc/core/storage"
)

var configKey = []byte("config")

// Instantiate validates msg and stores the configuration and base header.
func Instantiate(rw storage.ReadWriter, msg config.InitMsg) error {
	if _, err := rw.Get(configKey); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	cfg, base, err := msg.Config()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := rw.Set(configKey, raw); err != nil {
		return err
	}
	return headerstore.New(rw).Init(base)
}

// LoadConfig reads the configuration stored by Instantiate.
func LoadConfig(r storage.Reader) (config.Config, error) {
	raw, err := r.Get(configKey)
	if errors.Is(err, storage.ErrNotFound) {
		return config.Config{}, ErrNotInitialized
	}
	if err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return config.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Execute applies msg to the state in rw. It depends only on the state, env
// and msg. On error the caller must discard every write made to rw.
func Execute(rw storage.ReadWriter, env Env, msg Msg) (*Result, error) {
	if env.Time.IsZero() {
		return nil, fmt.Errorf("%w: block time not set", ErrInvalidEnv)
	}
	cfg, err := LoadConfig(rw)
	if err != nil {
		return nil, err
	}
	store := headerstore.New(rw)
	prevTip, err := store.Tip()
	if err != nil {
		return nil, err
	}
	finality := NewFinalityTracker(rw, store.Reader, cfg)

	res := &Result{}
	switch m := msg.(type) {
	case MsgBtcHeaders:
		out, err := NewChainTracker(store, cfg, env).ApplyHeaders(m.Headers)
		if err != nil {
			return nil, err
		}
		res.AcceptedHeights, res.Reorg, res.Events = out.AcceptedHeights, out.Reorg, out.Events
	case MsgSubmitCheckpoint:
		events, err := finality.Submit(m, prevTip.Height)
		if err != nil {
			return nil, err
		}
		res.Events = events
	case MsgAcknowledge:
		events, err := finality.Acknowledge(m.Epoch)
		if err != nil {
			return nil, err
		}
		res.Events = events
	default:
		return nil, fmt.Errorf("unknown message %T", msg)
	}

	tipHeight, err := store.TipHeight()
	if err != nil {
		return nil, err
	}
	events, err := finality.Evaluate(tipHeight)
	if err != nil {
		return nil, err
	}
	res.Events = append(res.Events, events...)

	payload, err := digestPayload(res)
	if err != nil {
		return nil, err
	}
	res.Digest = commit.Digest(prevTip.Hash(), env.Height, payload)
	return res, nil
}

func digestPayload(res *Result) ([]byte, error) {
	events, err := marshalEvents(res.Events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		AcceptedHeights []uint64          `json:"accepted_heights"`
		Events          []json.RawMessage `json:"events"`
	}{res.AcceptedHeights, events})
}
