package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
)

// ErrUnexpectedEvent is returned when a transition is handed an event of a
// different kind than the one it was registered for.
var ErrUnexpectedEvent = errors.New("unexpected event")

// errReadyHeightUnknown is returned for a confirmed channel without a ready
// height, which MarkConfirmed never produces.
var errReadyHeightUnknown = errors.New("ready height unknown")

// RejectHook is called whenever a peer message fails validation and the
// channel is moved to StateFailing.
type RejectHook func(ctx context.Context, c *channeldb.Channel,
	eventType protofsm.EventType, reason error)

// Transitions holds the protocol steps of the opening lifecycle. Every
// effect goes through the ChannelLogic, the only state touched directly is
// the channel handed to each step.
//
// A step returns a non-nil error only for operational faults. Rejected peer
// messages move the channel to StateFailing without an error.
type Transitions struct {
	logic    ChannelLogic
	onReject RejectHook
}

// NewTransitions creates the protocol steps on top of logic. onReject may be
// nil.
func NewTransitions(logic ChannelLogic, onReject RejectHook) *Transitions {
	return &Transitions{
		logic:    logic,
		onReject: onReject,
	}
}

// messageOf extracts the message of type T carried by event.
func messageOf[T lnwire.Message](event ChannelEvent) (T, error) {
	var zero T

	msgEvent, ok := event.(*MessageEvent)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedEvent, event)
	}

	msg, ok := msgEvent.Msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedEvent,
			msgEvent.Msg)
	}

	return msg, nil
}

// reject records a failed validation and returns the failing state.
func (t *Transitions) reject(ctx context.Context, c *channeldb.Channel,
	eventType protofsm.EventType, reason error) protofsm.StateID {

	log.WarnS(ctx, "Peer message rejected, failing channel", reason,
		"msg_type", eventType)

	if t.onReject != nil {
		t.onReject(ctx, c, eventType, reason)
	}

	return StateFailing
}

// OnAcceptChannel handles the peer's accept_channel: once the message
// passes validation the funding transaction is created and our signature
// for the peer's first commitment is sent in funding_created.
func (t *Transitions) OnAcceptChannel(ctx context.Context,
	c *channeldb.Channel, event ChannelEvent) (protofsm.StateID, error) {

	msg, err := messageOf[*lnwire.AcceptChannel](event)
	if err != nil {
		return "", err
	}

	res, err := t.logic.ValidateAcceptChannel(ctx, c, msg)
	if err != nil {
		return "", fmt.Errorf("unable to validate accept_channel: %w",
			err)
	}
	accepted, err := res.Unpack()
	if err != nil {
		return t.reject(ctx, c, event.EventType(), err), nil
	}

	c.AttachAcceptChannel(accepted)

	fundingTx, err := t.logic.CreateFundingTx(ctx, c)
	if err != nil {
		return "", fmt.Errorf("unable to create funding tx: %w", err)
	}
	if err := c.AttachFundingTx(fundingTx); err != nil {
		return "", fmt.Errorf("unable to attach funding tx: %w", err)
	}

	commitTx, err := t.logic.CreateRemoteCommitmentTx(ctx, c)
	if err != nil {
		return "", fmt.Errorf("unable to create remote commitment: %w",
			err)
	}

	sig, err := t.logic.SignCommitmentTx(ctx, c, commitTx)
	if err != nil {
		return "", fmt.Errorf("unable to sign remote commitment: %w",
			err)
	}

	fundingCreated, err := t.logic.CreateFundingCreated(ctx, c, sig)
	if err != nil {
		return "", fmt.Errorf("unable to create funding_created: %w",
			err)
	}

	err = t.logic.SendMessage(ctx, c.PeerID, fundingCreated)
	if err != nil {
		return "", fmt.Errorf("unable to send funding_created: %w",
			err)
	}

	log.DebugS(ctx, "Sent funding_created",
		"chan_point", fundingCreated.FundingPoint)

	return StateAwaitingFundingSigned, nil
}

// OnFundingSigned handles the peer's signature for our first commitment. A
// valid signature is stored and the funding transaction broadcast.
func (t *Transitions) OnFundingSigned(ctx context.Context,
	c *channeldb.Channel, event ChannelEvent) (protofsm.StateID, error) {

	msg, err := messageOf[*lnwire.FundingSigned](event)
	if err != nil {
		return "", err
	}

	res, err := t.logic.ValidateFundingSigned(ctx, c, msg)
	if err != nil {
		return "", fmt.Errorf("unable to validate funding_signed: %w",
			err)
	}
	signed, err := res.Unpack()
	if err != nil {
		return t.reject(ctx, c, event.EventType(), err), nil
	}

	c.AttachFundingSigned(signed)

	fundingTx, err := c.FundingTx.UnwrapOrErr(lnwallet.ErrNoFundingTx)
	if err != nil {
		return "", err
	}
	if err := t.logic.BroadcastTx(ctx, fundingTx); err != nil {
		return "", fmt.Errorf("unable to broadcast funding tx: %w", err)
	}

	return StateAwaitingFundingDepth, nil
}

// OnBlockConnected tracks the funding transaction until it is buried deep
// enough. The block that confirms the funding transaction only records the
// confirmation. A later block at or above the ready height sends our
// channel_ready.
func (t *Transitions) OnBlockConnected(ctx context.Context,
	c *channeldb.Channel, event ChannelEvent) (protofsm.StateID, error) {

	block, ok := event.(*BlockConnected)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnexpectedEvent, event)
	}

	if !c.IsConfirmed() {
		outPoint, err := c.FundingOutPoint.UnwrapOrErr(
			lnwallet.ErrNoFundingTx,
		)
		if err != nil {
			return "", err
		}

		if !block.Index.ContainsOutPoint(outPoint) {
			return StateAwaitingFundingDepth, nil
		}

		if err := c.MarkConfirmed(block.Height); err != nil {
			return "", err
		}

		log.InfoS(ctx, "Funding transaction confirmed",
			"chan_point", outPoint,
			"height", block.Height,
			"ready_height", c.ReadyHeight.UnwrapOr(0))

		return StateAwaitingFundingDepth, nil
	}

	readyHeight, err := c.ReadyHeight.UnwrapOrErr(errReadyHeightUnknown)
	if err != nil {
		return "", err
	}
	if block.Height < readyHeight {
		log.TraceS(ctx, "Funding transaction not deep enough",
			"height", block.Height, "ready_height", readyHeight)

		return StateAwaitingFundingDepth, nil
	}

	channelReady, err := t.logic.CreateChannelReady(ctx, c)
	if err != nil {
		return "", fmt.Errorf("unable to create channel_ready: %w", err)
	}
	err = t.logic.SendMessage(ctx, c.PeerID, channelReady)
	if err != nil {
		return "", fmt.Errorf("unable to send channel_ready: %w", err)
	}

	// The peer may have sent its channel_ready before we saw the funding
	// transaction buried deep enough.
	if c.HasChannelReady {
		return StateNormal, nil
	}

	return StateAwaitingChannelReady, nil
}

// OnChannelReady returns the handler of the peer's channel_ready. A valid
// message is recorded and the channel moves to next.
func (t *Transitions) OnChannelReady(next protofsm.StateID) ChannelTransition {

	return func(ctx context.Context, c *channeldb.Channel,
		event ChannelEvent) (protofsm.StateID, error) {

		msg, err := messageOf[*lnwire.ChannelReady](event)
		if err != nil {
			return "", err
		}

		res, err := t.logic.ValidateChannelReady(ctx, c, msg)
		if err != nil {
			return "", fmt.Errorf("unable to validate "+
				"channel_ready: %w", err)
		}
		ready, err := res.Unpack()
		if err != nil {
			return t.reject(ctx, c, event.EventType(), err), nil
		}

		if err := c.AttachChannelReady(ready); err != nil {
			return "", err
		}

		log.DebugS(ctx, "Received channel_ready", "next", next)

		return next, nil
	}
}
