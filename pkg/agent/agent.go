// Package agent is the public contract a stage handler implements:
// subscribe to a queue, and for every received
// request produce exactly one response with a matching correlation id
// before the stage's timeout. It generalizes cellorg/public/agent's
// AgentRunner/AgentFramework event-loop shape (Init/Process/Cleanup
// driven by a framework that owns connection setup and the message
// loop) from Gox's ingress/egress pipe wiring to requests pulled
// directly off a comm.Manager queue.
package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/envelope"
)

// RetryableError wraps a handler failure the retry layer should attempt
// again ("the handler MAY include retryable: bool"). A plain
// error returned from Handle is treated as non-retryable.
type RetryableError struct {
	Err error
}

func (r *RetryableError) Error() string { return r.Err.Error() }
func (r *RetryableError) Unwrap() error { return r.Err }

// Retryable wraps err so the fabric's retry layer attempts it again.
func Retryable(err error) error { return &RetryableError{Err: err} }

// Handler is the contract a stage implementation satisfies: given a
// request envelope, produce the response payload or fail.
type Handler interface {
	Handle(ctx context.Context, req *envelope.Envelope) (interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req *envelope.Envelope) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, req *envelope.Envelope) (interface{}, error) {
	return f(ctx, req)
}

// Runner drives one agent's event loop: register, then repeatedly
// Receive from the manager's queue and dispatch to Handler, matching the
// teacher's "framework owns the loop, runner supplies the logic" split.
type Runner struct {
	AgentID      string
	AgentType    string
	Capabilities []string
	Metadata     map[string]string

	manager *comm.Manager
	handler Handler
	log     zerolog.Logger

	heartbeatInterval time.Duration
}

// NewRunner constructs a Runner bound to manager and handler. Call
// Run to register and begin pulling from the queue.
func NewRunner(manager *comm.Manager, agentID, agentType string, capabilities []string, handler Handler, log zerolog.Logger) *Runner {
	return &Runner{
		AgentID:           agentID,
		AgentType:         agentType,
		Capabilities:      capabilities,
		manager:           manager,
		handler:           handler,
		log:               log.With().Str("agent_id", agentID).Str("agent_type", agentType).Logger(),
		heartbeatInterval: 5 * time.Second,
	}
}

// WithHeartbeatInterval overrides the default heartbeat cadence.
func (r *Runner) WithHeartbeatInterval(d time.Duration) *Runner {
	r.heartbeatInterval = d
	return r
}

// Run registers the agent and blocks, pulling requests off its queue
// until ctx is cancelled. Each request dispatches to Handler on its own
// goroutine so a slow handler doesn't stall the queue's FIFO draining
// for unrelated messages ("cooperative concurrency inside each
// agent").
func (r *Runner) Run(ctx context.Context) error {
	r.manager.RegisterAgent(r.AgentID, r.AgentType, r.Capabilities, r.Metadata)
	r.log.Info().Msg("agent registered")

	heartbeat := time.NewTicker(r.heartbeatInterval)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				r.manager.RegisterAgent(r.AgentID, r.AgentType, r.Capabilities, r.Metadata)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := r.manager.Receive(ctx, r.AgentID, time.Time{})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn().Err(err).Msg("receive failed")
			continue
		}

		go r.dispatch(ctx, req)
	}
}

func (r *Runner) dispatch(ctx context.Context, req *envelope.Envelope) {
	payload, err := r.handler.Handle(ctx, req)
	if err != nil {
		retryable := false
		if _, ok := err.(*RetryableError); ok {
			retryable = true
		}
		errEnv, buildErr := envelope.NewErrorEnvelope(req, r.AgentID, err.Error(), retryable)
		if buildErr != nil {
			r.log.Error().Err(buildErr).Msg("failed to build error envelope")
			return
		}
		if sendErr := r.manager.Send(ctx, errEnv, time.Time{}); sendErr != nil {
			r.log.Error().Err(sendErr).Msg("failed to send error response")
		}
		return
	}

	resp, err := envelope.NewResponse(req, r.AgentID, payload)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to build response envelope")
		return
	}
	if err := r.manager.Send(ctx, resp, time.Time{}); err != nil {
		r.log.Error().Err(err).Msg("failed to send response")
	}

	if req.RequiresAck {
		if err := r.manager.Ack(ctx, req, r.AgentID); err != nil {
			r.log.Warn().Err(err).Msg("failed to send ack")
		}
	}
}
