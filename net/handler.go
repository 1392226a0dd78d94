package net

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/header"
)

var (
	ErrBadMessage   = errors.New("malformed gossip message")
	ErrUnknownTopic = errors.New("unknown topic")
)

// Client is the part of core.LightClient the relay drives.
type Client interface {
	Execute(env core.Env, msg core.Msg) (*core.Result, error)
	Query(q core.Query) (any, error)
}

// EnvFunc supplies the host context for each invocation.
type EnvFunc func() core.Env

// SystemEnv uses the wall clock for both the invocation time and height.
func SystemEnv() core.Env {
	now := time.Now().UTC()
	return core.Env{Height: uint64(now.Unix()), Time: now}
}

// Handler turns gossip payloads into light client invocations. It knows
// nothing about libp2p so it can be driven directly.
type Handler struct {
	client Client
	env    EnvFunc
	log    *zap.Logger
}

func NewHandler(client Client, env EnvFunc, log *zap.Logger) *Handler {
	if env == nil {
		env = SystemEnv
	}
	return &Handler{client: client, env: env, log: log.With(zap.String("component", "relay-handler"))}
}

// Handle decodes data as the message type of topic and executes it.
func (h *Handler) Handle(topic string, data []byte) (*core.Result, error) {
	msg, err := decode(topic, data)
	if err != nil {
		return nil, err
	}
	return h.client.Execute(h.env(), msg)
}

func decode(topic string, data []byte) (core.Msg, error) {
	if len(data) > maxWireMsg {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadMessage, len(data))
	}
	switch topic {
	case TopicHeaders:
		var m HeadersMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return m.ToMsg()
	case TopicCheckpoints:
		var m CheckpointMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return m.ToMsg()
	case TopicAcks:
		var m AckMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return m.ToMsg(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

// Tip reports the local canonical tip.
func (h *Handler) Tip() (NewTipMsg, error) {
	v, err := h.client.Query(core.QueryTipHeader{})
	if err != nil {
		return NewTipMsg{}, err
	}
	tip := v.(*header.Header)
	return NewTipMsg{Height: tip.Height, Hash: tip.Hash().String()}, nil
}

// Behind builds the request that would bring us up to a peer's tip. The
// request starts a confirmation depth below our tip so that a peer on a
// competing branch sends the fork as well; headers we already store are
// skipped on application.
func (h *Handler) Behind(peerTip NewTipMsg) (HeaderRequest, bool, error) {
	v, err := h.client.Query(core.QueryTipHeader{})
	if err != nil {
		return HeaderRequest{}, false, err
	}
	tip := v.(*header.Header)
	if peerTip.Height <= tip.Height {
		return HeaderRequest{}, false, nil
	}
	v, err = h.client.Query(core.QueryBaseHeader{})
	if err != nil {
		return HeaderRequest{}, false, err
	}
	base := v.(*header.Header)
	v, err = h.client.Query(core.QueryConfig{})
	if err != nil {
		return HeaderRequest{}, false, err
	}
	depth := v.(config.Config).BtcConfirmationDepth

	after := base.Height
	if tip.Height-base.Height > depth {
		after = tip.Height - depth
	}
	return HeaderRequest{After: after, Limit: config.MaxRangeLimit}, true, nil
}

// Serve answers a header request from the canonical chain. It returns false
// when there is nothing to send.
func (h *Handler) Serve(req HeaderRequest) (HeadersMsg, bool, error) {
	after, limit := req.After, req.Limit
	v, err := h.client.Query(core.QueryHeaders{StartAfter: &after, Limit: &limit})
	if err != nil {
		return HeadersMsg{}, false, err
	}
	headers := v.([]*header.Header)
	if len(headers) == 0 {
		return HeadersMsg{}, false, nil
	}
	return NewHeadersMsg(headers), true, nil
}

// resultLabel classifies an outcome for the relay metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, core.ErrEmptyBatch):
		return "duplicate"
	case errors.Is(err, ErrBadMessage):
		return "malformed"
	default:
		return "rejected"
	}
}
