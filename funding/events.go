package funding

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
)

var (
	// AcceptChannelEvent is the event type of a received accept_channel.
	AcceptChannelEvent = msgEventType(lnwire.MsgAcceptChannel)

	// FundingSignedEvent is the event type of a received funding_signed.
	FundingSignedEvent = msgEventType(lnwire.MsgFundingSigned)

	// ChannelReadyEvent is the event type of a received channel_ready.
	ChannelReadyEvent = msgEventType(lnwire.MsgChannelReady)
)

// BlockConnectedEvent is the event type of a newly connected block.
const BlockConnectedEvent protofsm.EventType = "block_connected"

// ErrEmptyBlock is returned when the height of a block without a coinbase
// is needed.
var ErrEmptyBlock = errors.New("block has no transactions")

func msgEventType(t lnwire.MessageType) protofsm.EventType {
	return protofsm.EventType(t.String())
}

// ChannelEvent is an input of the channel opening state machine. It is
// either a MessageEvent or a BlockConnected.
type ChannelEvent interface {
	protofsm.Event

	// channelEvent seals the interface.
	channelEvent()
}

// MessageEvent carries a message received from the channel's peer.
type MessageEvent struct {
	Msg lnwire.Message
}

// NewMessageEvent wraps msg in an event.
func NewMessageEvent(msg lnwire.Message) *MessageEvent {
	return &MessageEvent{Msg: msg}
}

// EventType is the message type name, for example "accept_channel".
func (m *MessageEvent) EventType() protofsm.EventType {
	return msgEventType(m.Msg.MsgType())
}

func (m *MessageEvent) channelEvent() {}

// BlockConnected signals a new block on the best chain.
type BlockConnected struct {
	// Block is the connected block.
	Block *btcutil.Block

	// Height is the height of Block.
	Height uint32

	// Index is the output index of the block's transactions. It is built
	// once and shared by every channel the event is delivered to.
	Index *BlockIndex
}

// NewBlockConnected creates the event for block and indexes its
// transactions. Blocks that were not given a height are read from the BIP 34
// height push of their coinbase.
func NewBlockConnected(block *btcutil.Block) (*BlockConnected, error) {
	height, err := blockHeight(block)
	if err != nil {
		return nil, err
	}

	return &BlockConnected{
		Block:  block,
		Height: height,
		Index:  NewBlockIndex(block.MsgBlock().Transactions),
	}, nil
}

// EventType returns BlockConnectedEvent.
func (b *BlockConnected) EventType() protofsm.EventType {
	return BlockConnectedEvent
}

func (b *BlockConnected) channelEvent() {}

func blockHeight(block *btcutil.Block) (uint32, error) {
	if height := block.Height(); height != btcutil.BlockHeightUnknown {
		return uint32(height), nil
	}

	txns := block.Transactions()
	if len(txns) == 0 {
		return 0, ErrEmptyBlock
	}

	height, err := blockchain.ExtractCoinbaseHeight(txns[0])
	if err != nil {
		return 0, fmt.Errorf("unable to extract block height: %w", err)
	}

	return uint32(height), nil
}

// A compile time check to ensure both events implement ChannelEvent.
var (
	_ ChannelEvent = (*MessageEvent)(nil)
	_ ChannelEvent = (*BlockConnected)(nil)
)
