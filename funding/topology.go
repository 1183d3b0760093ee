package funding

import (
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/protofsm"
)

// The states of the channel opening lifecycle.
const (
	StateChannel protofsm.StateID = "channel"

	StateOpening protofsm.StateID = "channel.opening"

	// StateAwaitingAcceptChannel is the state of a new outbound channel.
	StateAwaitingAcceptChannel protofsm.StateID = "channel.opening." +
		"awaiting_accept_channel"

	StateAwaitingFundingSigned protofsm.StateID = "channel.opening." +
		"awaiting_funding_signed"

	StateAwaitingFundingDepth protofsm.StateID = "channel.opening." +
		"awaiting_funding_depth"

	StateAwaitingChannelReady protofsm.StateID = "channel.opening." +
		"awaiting_channel_ready"

	// StateFailing is entered when the peer sent a message we rejected.
	// It handles no events.
	StateFailing protofsm.StateID = "channel.failing"

	// StateNormal is entered once both sides sent channel_ready. It
	// handles no events.
	StateNormal protofsm.StateID = "channel.normal"
)

// ChannelState is a node of the channel opening state tree.
type ChannelState = protofsm.State[*channeldb.Channel, ChannelEvent]

// ChannelStateMachine dispatches events to channels.
type ChannelStateMachine = protofsm.StateMachine[
	*channeldb.Channel, ChannelEvent,
]

// ChannelTransition is a step of the opening lifecycle.
type ChannelTransition = protofsm.TransitionFunc[
	*channeldb.Channel, ChannelEvent,
]

func newChannelState(id protofsm.StateID) *ChannelState {
	return protofsm.NewState[*channeldb.Channel, ChannelEvent](id.Name())
}

// NewChannelStateMachine builds the opening lifecycle tree:
//
//	channel
//	├── opening
//	│   ├── awaiting_accept_channel  (accept_channel)
//	│   ├── awaiting_funding_signed  (funding_signed)
//	│   ├── awaiting_funding_depth   (block_connected, channel_ready)
//	│   └── awaiting_channel_ready   (channel_ready)
//	├── failing
//	└── normal
//
// The returned machine is shared by every channel.
func NewChannelStateMachine(t *Transitions) *ChannelStateMachine {
	awaitingAccept := newChannelState(StateAwaitingAcceptChannel).
		AddTransition(AcceptChannelEvent, t.OnAcceptChannel)

	awaitingSigned := newChannelState(StateAwaitingFundingSigned).
		AddTransition(FundingSignedEvent, t.OnFundingSigned)

	awaitingDepth := newChannelState(StateAwaitingFundingDepth).
		AddTransition(BlockConnectedEvent, t.OnBlockConnected).
		AddTransition(
			ChannelReadyEvent,
			t.OnChannelReady(StateAwaitingFundingDepth),
		)

	awaitingReady := newChannelState(StateAwaitingChannelReady).
		AddTransition(ChannelReadyEvent, t.OnChannelReady(StateNormal))

	opening := newChannelState(StateOpening).
		MustAddSubState(awaitingAccept).
		MustAddSubState(awaitingSigned).
		MustAddSubState(awaitingDepth).
		MustAddSubState(awaitingReady)

	root := newChannelState(StateChannel).
		MustAddSubState(opening).
		MustAddSubState(newChannelState(StateFailing)).
		MustAddSubState(newChannelState(StateNormal))

	return protofsm.NewStateMachine(root)
}
