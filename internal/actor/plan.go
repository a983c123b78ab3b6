package actor

import (
	"context"
	"fmt"
	"time"
)

// replyEnvelopeType is the discriminator used for the runtime's own
// ask-response envelopes, both explicit (ResponsePlan) and smart-default
// (context-as-reply).
const replyEnvelopeType = "RESPONSE"

// planInterpreter turns a Plan returned by a behaviour into the ordered
// side effects spec.md's message-plan interpreter describes: context
// update, sends, response, emits, then asks. Each step runs in the
// textual order the Plan was built in.
type planInterpreter struct {
	addr  Address
	bus   *EventBus
	deps  Deps
	asks  *AskTable
	askOpts AskOptions

	// setContext stores the actor's new context value. It is called at
	// most once per plan.
	setContext func(any)
}

// interpret runs plan's side effects in order. incoming is the envelope
// that produced this plan (used to derive the smart-default response).
func (pi *planInterpreter) interpret(ctx context.Context, incoming Envelope, plan Plan) error {
	if plan.hasContext {
		pi.setContext(plan.context)
	}

	for _, s := range plan.sends {
		if err := IsEnvelope(s.Msg); err != nil {
			return err
		}
		msg := s.Msg.WithSender(pi.addr)
		if err := pi.deps.Send(ctx, s.To, msg); err != nil {
			return fmt.Errorf("message plan send to %s: %w", s.To, err)
		}
	}

	if err := pi.sendResponse(ctx, incoming, plan); err != nil {
		return err
	}

	for _, ev := range plan.emits {
		if err := IsDomainEvent(ev); err != nil {
			return err
		}
		pi.bus.Emit(ctx, ev)
	}

	for _, a := range plan.asks {
		if err := pi.dispatchAsk(ctx, a); err != nil {
			return err
		}
	}

	return nil
}

func (pi *planInterpreter) dispatchAsk(ctx context.Context, a AskInstruction) error {
	if err := IsEnvelope(a.Msg); err != nil {
		return err
	}

	opts := pi.askOpts
	if a.Timeout != nil && *a.Timeout > 0 {
		opts.Timeout = time.Duration(*a.Timeout) * time.Millisecond
	}
	if a.Retries != nil {
		opts.Retries = *a.Retries
	}

	id := NewCorrelationID()
	p := NewPromise[Envelope]()

	send := func() error {
		msg := a.Msg.WithSender(pi.addr).WithCorrelationID(id)
		return pi.deps.Send(ctx, a.To, msg)
	}

	pi.asks.Register(id, p, opts, send, a.OnReply)

	return send()
}

// sendResponse implements the response/smart-default rule: an explicit
// ResponsePlan always wins; otherwise, if the incoming envelope carried a
// correlation id and sender (meaning it was itself an ask), and the plan
// replaced the context, the runtime auto-replies with the new context as
// the payload. This applies uniformly regardless of behaviour shape.
func (pi *planInterpreter) sendResponse(ctx context.Context, incoming Envelope, plan Plan) error {
	if incoming.CorrelationID == nil || incoming.Sender == nil {
		return nil
	}

	var response Envelope
	switch {
	case plan.hasResponse:
		response = plan.response
	case plan.hasContext:
		response = NewEnvelope(replyEnvelopeType, map[string]any{
			"value": plan.context,
		})
	default:
		return nil
	}

	response = response.WithSender(pi.addr).WithCorrelationID(*incoming.CorrelationID)
	if err := IsEnvelope(response); err != nil {
		return err
	}
	return pi.deps.Send(ctx, *incoming.Sender, response)
}

// handleReply routes an inbound reply envelope (one whose correlation id
// matched an outstanding ask) to the resolved OnReply handler and
// interprets the resulting plan the same way as a normal dispatch.
func (pi *planInterpreter) handleReply(ctx context.Context, reply Envelope, call func(MessageCall) Plan) error {
	mc := MessageCall{Msg: reply, Self: pi.addr, Deps: pi.deps}
	plan := call(mc)
	return pi.interpret(ctx, reply, plan)
}

