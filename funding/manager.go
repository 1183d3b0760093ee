package funding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	goerrors "github.com/go-errors/errors"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnutils"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMailboxSize is the number of events that can be queued for a
	// channel before the queue spills into its overflow list.
	DefaultMailboxSize = 16
)

var (
	// ErrFundingManagerShuttingDown is an error returned when attempting
	// to deliver an event while the funding manager is shutting down.
	ErrFundingManagerShuttingDown = errors.New("funding manager shutting " +
		"down")

	// ErrUnknownChannel is returned for events addressed to a channel
	// the manager does not track.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrChannelStalled is returned when a transition of the channel
	// failed with an operational fault. The channel rejects events until
	// ResumeChannel is called.
	ErrChannelStalled = errors.New("channel stalled")

	// ErrChannelNotStalled is returned when resuming a channel that has
	// no fault recorded.
	ErrChannelNotStalled = errors.New("channel not stalled")

	// ErrUnsupportedMessage is returned for messages that are not part
	// of the opening flow of an outbound channel.
	ErrUnsupportedMessage = errors.New("unsupported message")
)

// ChannelStore persists channels between transitions.
type ChannelStore interface {
	// SaveChannel writes the channel along with the state it is in.
	SaveChannel(state string, c *channeldb.Channel) error

	// RemoveChannel deletes the channel with the given temporary id.
	RemoveChannel(tempID [32]byte) error

	// FetchChannel reads the channel with the given temporary id.
	FetchChannel(tempID [32]byte) (*channeldb.ChannelRecord, error)

	// FetchChannels reads every stored channel.
	FetchChannels() ([]*channeldb.ChannelRecord, error)
}

// A compile time check to ensure the channel database is a ChannelStore.
var _ ChannelStore = (*channeldb.DB)(nil)

// Config holds the collaborators of the Manager.
type Config struct {
	// Logic performs the effects of every transition.
	Logic ChannelLogic

	// Store persists channels after each transition.
	Store ChannelStore

	// Clock stamps the LastUpdate of channels.
	Clock clock.Clock

	// Registerer is used to export the manager's metrics. Metrics are
	// collected but not exported if it is nil.
	Registerer prometheus.Registerer

	// MailboxSize overrides DefaultMailboxSize if non-zero.
	MailboxSize int
}

// ChannelSnapshot is a point in time copy of a channel and its state.
type ChannelSnapshot struct {
	// State is the id of the state the channel is in.
	State protofsm.StateID

	// Channel is a copy of the channel. Changing it has no effect on the
	// manager.
	Channel *channeldb.Channel

	// Fault is the operational fault that stalled the channel, nil if the
	// channel accepts events.
	Fault *goerrors.Error
}

// Stalled returns true if the channel rejects events until it is resumed.
func (s *ChannelSnapshot) Stalled() bool {
	return s.Fault != nil
}

// envelope carries an event through a channel's mailbox.
type envelope struct {
	ctx     context.Context
	event   ChannelEvent
	errChan chan error
}

// channelActor serializes the events of one channel. Only the goroutine
// draining the mailbox runs transitions, all other access goes through mu.
type channelActor struct {
	tempID  [32]byte
	mailbox *queue.ConcurrentQueue

	mu      sync.RWMutex
	state   protofsm.StateID
	channel *channeldb.Channel
	fault   *goerrors.Error
	removed bool

	quit chan struct{}
}

func (a *channelActor) snapshot() *ChannelSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return &ChannelSnapshot{
		State:   a.state,
		Channel: a.channel.Copy(),
		Fault:   a.fault,
	}
}

// Manager drives every channel we open through the opening lifecycle. It
// routes peer messages and blocks to channels, runs at most one transition
// per channel at a time and persists each channel after it advanced.
type Manager struct {
	started sync.Once
	stopped sync.Once

	cfg *Config

	machine *ChannelStateMachine
	metrics *managerMetrics

	// actors maps the temporary id of each channel to its actor.
	actors lnutils.SyncMap[[32]byte, *channelActor]

	// aliases maps the permanent id of a channel to its temporary id once
	// the funding outpoint is known.
	aliases lnutils.SyncMap[lnwire.ChannelID, [32]byte]

	gm   *fn.GoroutineManager
	quit chan struct{}
}

// NewManager creates a funding manager. Start must be called before events
// are delivered.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Logic == nil || cfg.Store == nil {
		return nil, fmt.Errorf("logic and store required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	m := &Manager{
		cfg:  cfg,
		gm:   fn.NewGoroutineManager(),
		quit: make(chan struct{}),
	}
	m.metrics = newManagerMetrics(func() float64 {
		return float64(m.actors.Len())
	})
	m.machine = NewChannelStateMachine(NewTransitions(
		cfg.Logic, func(_ context.Context, _ *channeldb.Channel,
			eventType protofsm.EventType, reason error) {

			m.metrics.reject(eventType, reason)
		},
	))

	if cfg.Registerer != nil {
		if err := m.metrics.register(cfg.Registerer); err != nil {
			return nil, fmt.Errorf("unable to register metrics: %w",
				err)
		}
	}

	return m, nil
}

// StateMachine returns the state tree shared by all channels.
func (m *Manager) StateMachine() *ChannelStateMachine {
	return m.machine
}

// Start reloads the channels of the store. Funding transactions of channels
// still waiting for confirmation are broadcast again.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.started.Do(func() {
		log.Info("Funding manager starting")
		err = m.start(ctx)
	})

	return err
}

func (m *Manager) start(ctx context.Context) error {
	records, err := m.cfg.Store.FetchChannels()
	if err != nil {
		return fmt.Errorf("unable to fetch channels: %w", err)
	}

	for _, record := range records {
		state := protofsm.StateID(record.State)
		if _, ok := m.machine.Find(state); !ok {
			return fmt.Errorf("channel %v: %w: %v", record.Channel,
				protofsm.ErrUnknownState, state)
		}

		if err := m.addActor(state, record.Channel); err != nil {
			return err
		}

		log.DebugS(ctx, "Loaded channel",
			lnutils.LogID("temp_id", record.Channel.TemporaryID),
			"state", state)

		c := record.Channel
		if state == StateAwaitingFundingDepth && !c.IsConfirmed() {
			m.rebroadcastFundingTx(ctx, c)
		}
	}

	log.Infof("Loaded %d channels", len(records))

	return nil
}

// rebroadcastFundingTx publishes the funding transaction of c again. Errors
// are only logged, the transaction is likely already in the mempool.
func (m *Manager) rebroadcastFundingTx(ctx context.Context,
	c *channeldb.Channel) {

	c.FundingTx.WhenSome(func(tx *wire.MsgTx) {
		err := m.cfg.Logic.BroadcastTx(ctx, tx)
		if err != nil {
			log.WarnS(ctx, "Unable to rebroadcast funding tx", err,
				"txid", tx.TxHash())
		}
	})
}

// Stop waits for in-flight transitions to finish and stops every channel.
// Queued events are rejected with ErrFundingManagerShuttingDown.
func (m *Manager) Stop() error {
	m.stopped.Do(func() {
		log.Info("Funding manager shutting down")

		close(m.quit)
		m.gm.Stop()

		m.actors.Range(func(_ [32]byte, a *channelActor) bool {
			a.mailbox.Stop()
			return true
		})
	})

	return nil
}

// addActor starts tracking c in the given state.
func (m *Manager) addActor(state protofsm.StateID,
	c *channeldb.Channel) error {

	a := &channelActor{
		tempID:  c.TemporaryID,
		mailbox: queue.NewConcurrentQueue(m.cfg.MailboxSize),
		state:   state,
		channel: c,
		quit:    make(chan struct{}),
	}

	if _, loaded := m.actors.LoadOrStore(a.tempID, a); loaded {
		return fmt.Errorf("channel %x already tracked", a.tempID[:])
	}
	c.ChannelID.WhenSome(func(id lnwire.ChannelID) {
		m.aliases.Store(id, a.tempID)
	})

	a.mailbox.Start()
	started := m.gm.Go(context.Background(), func(ctx context.Context) {
		m.runActor(ctx, a)
	})
	if !started {
		m.actors.Delete(a.tempID)
		a.mailbox.Stop()

		return ErrFundingManagerShuttingDown
	}

	return nil
}

// runActor drains the mailbox of a, one event at a time.
func (m *Manager) runActor(ctx context.Context, a *channelActor) {
	for {
		select {
		case item, ok := <-a.mailbox.ChanOut():
			if !ok {
				return
			}

			env := item.(*envelope)
			env.errChan <- m.handleEvent(env.ctx, a, env.event)

		case <-a.quit:
			return

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent runs the transition for event on a copy of the channel. The
// copy replaces the channel only if the transition succeeded and the result
// was persisted, so a fault leaves both state and channel untouched.
func (m *Manager) handleEvent(ctx context.Context, a *channelActor,
	event ChannelEvent) error {

	// Once started a transition runs to completion, even if the caller
	// stops waiting for it.
	ctx = context.WithoutCancel(ctx)
	ctx = btclog.WithCtx(ctx, lnutils.LogID("temp_id", a.tempID))

	a.mu.RLock()
	state, fault := a.state, a.fault
	working := a.channel.Copy()
	a.mu.RUnlock()

	if fault != nil {
		return fmt.Errorf("%w: %v", ErrChannelStalled, fault)
	}

	eventType := event.EventType()
	result, err := m.machine.Dispatch(ctx, state, working, event)
	if err != nil {
		return m.stall(ctx, a, state, eventType, err)
	}

	m.metrics.observe(result, eventType)
	if !result.Handled {
		return nil
	}

	if err := working.CheckInvariants(); err != nil {
		return m.stall(ctx, a, state, eventType, err)
	}
	working.LastUpdate = m.cfg.Clock.Now()

	a.mu.Lock()
	if a.removed {
		a.mu.Unlock()
		return fmt.Errorf("%w: %x", ErrUnknownChannel, a.tempID[:])
	}
	err = m.cfg.Store.SaveChannel(result.Next.String(), working)
	if err == nil {
		a.state = result.Next
		a.channel = working
	}
	a.mu.Unlock()

	if err != nil {
		return m.stall(ctx, a, state, eventType,
			fmt.Errorf("unable to save channel: %w", err))
	}

	working.ChannelID.WhenSome(func(id lnwire.ChannelID) {
		m.aliases.Store(id, a.tempID)
	})

	if result.Changed() {
		log.InfoS(ctx, "Channel state changed",
			"from", result.From, "to", result.Next)
	}

	return nil
}

// stall records fault on a. The channel rejects events until it is resumed.
func (m *Manager) stall(ctx context.Context, a *channelActor,
	state protofsm.StateID, eventType protofsm.EventType,
	fault error) error {

	stackErr := goerrors.Wrap(fault, 1)

	a.mu.Lock()
	a.fault = stackErr
	a.mu.Unlock()

	m.metrics.fault(state, eventType)

	log.ErrorS(ctx, "Transition failed, channel stalled", fault,
		"state", state)
	log.TraceS(ctx, "Stalled transition stack",
		"stack", lnutils.NewLogClosure(stackErr.ErrorStack))

	return fmt.Errorf("%w: %w", ErrChannelStalled, fault)
}

// deliver queues event for a and waits for its transition to finish.
func (m *Manager) deliver(ctx context.Context, a *channelActor,
	event ChannelEvent) error {

	a.mu.RLock()
	fault := a.fault
	a.mu.RUnlock()
	if fault != nil {
		return fmt.Errorf("%w: %v", ErrChannelStalled, fault)
	}

	env := &envelope{
		ctx:     ctx,
		event:   event,
		errChan: make(chan error, 1),
	}

	select {
	case a.mailbox.ChanIn() <- env:
	case <-a.quit:
		return fmt.Errorf("%w: %x", ErrUnknownChannel, a.tempID[:])
	case <-m.quit:
		return ErrFundingManagerShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-env.errChan:
		return err
	case <-a.quit:
		return fmt.Errorf("%w: %x", ErrUnknownChannel, a.tempID[:])
	case <-m.quit:
		return ErrFundingManagerShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup resolves a temporary or permanent channel id.
func (m *Manager) lookup(id [32]byte) (*channelActor, error) {
	if a, ok := m.actors.Load(id); ok {
		return a, nil
	}

	if tempID, ok := m.aliases.Load(lnwire.ChannelID(id)); ok {
		if a, ok := m.actors.Load(tempID); ok {
			return a, nil
		}
	}

	return nil, fmt.Errorf("%w: %x", ErrUnknownChannel, id[:])
}

// OpenChannel creates a new outbound channel and sends open_channel to the
// peer. The channel is stored before the message is sent. It returns the
// temporary id of the channel.
func (m *Manager) OpenChannel(ctx context.Context,
	req *lnwallet.OpenChannelRequest) ([32]byte, error) {

	select {
	case <-m.quit:
		return [32]byte{}, ErrFundingManagerShuttingDown
	default:
	}

	c, err := m.cfg.Logic.CreateChannel(ctx, req)
	if err != nil {
		return [32]byte{}, err
	}

	openChannel, err := m.cfg.Logic.CreateOpenChannel(ctx, c)
	if err != nil {
		return [32]byte{}, err
	}

	c.LastUpdate = m.cfg.Clock.Now()
	err = m.cfg.Store.SaveChannel(StateAwaitingAcceptChannel.String(), c)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unable to save channel: %w", err)
	}

	if err := m.addActor(StateAwaitingAcceptChannel, c); err != nil {
		return [32]byte{}, errors.Join(
			err, m.cfg.Store.RemoveChannel(c.TemporaryID),
		)
	}

	err = m.cfg.Logic.SendMessage(ctx, c.PeerID, openChannel)
	if err != nil {
		return [32]byte{}, errors.Join(
			fmt.Errorf("unable to send open_channel: %w", err),
			m.ForgetChannel(c.TemporaryID),
		)
	}

	log.InfoS(ctx, "Sent open_channel",
		lnutils.LogID("temp_id", c.TemporaryID),
		lnutils.LogPubKey("peer", c.PeerID))

	return c.TemporaryID, nil
}

// messageChanID returns the id msg addresses its channel with.
func messageChanID(msg lnwire.Message) ([32]byte, error) {
	switch msg := msg.(type) {
	case *lnwire.AcceptChannel:
		return msg.PendingChannelID, nil

	case *lnwire.FundingSigned:
		return msg.ChanID, nil

	case *lnwire.ChannelReady:
		return msg.ChanID, nil

	default:
		return [32]byte{}, fmt.Errorf("%w: %v", ErrUnsupportedMessage,
			msg.MsgType())
	}
}

// ProcessMessage delivers a message from peer to the channel it addresses
// and waits for the resulting transition. Messages for channels of another
// peer are treated like messages for unknown channels.
func (m *Manager) ProcessMessage(ctx context.Context, peer *btcec.PublicKey,
	msg lnwire.Message) error {

	id, err := messageChanID(msg)
	if err != nil {
		return err
	}

	a, err := m.lookup(id)
	if err != nil {
		return err
	}

	a.mu.RLock()
	chanPeer := a.channel.PeerID
	a.mu.RUnlock()
	if peer == nil || !chanPeer.IsEqual(peer) {
		return fmt.Errorf("%w: %x", ErrUnknownChannel, id[:])
	}

	return m.deliver(ctx, a, NewMessageEvent(msg))
}

// ConnectBlock delivers block to every channel that is not stalled. The
// block is indexed once, channels process it concurrently.
func (m *Manager) ConnectBlock(ctx context.Context,
	block *btcutil.Block) error {

	event, err := NewBlockConnected(block)
	if err != nil {
		return err
	}

	log.DebugS(ctx, "Dispatching block", "height", event.Height,
		"num_txns", event.Index.NumTransactions())

	eg := &errgroup.Group{}
	m.actors.Range(func(_ [32]byte, a *channelActor) bool {
		a.mu.RLock()
		stalled := a.fault != nil
		a.mu.RUnlock()

		if stalled {
			return true
		}

		eg.Go(func() error {
			return m.deliver(ctx, a, event)
		})

		return true
	})

	return eg.Wait()
}

// ResumeChannel clears the fault of a stalled channel so it accepts events
// again. The channel stays in the state it stalled in.
func (m *Manager) ResumeChannel(id [32]byte) error {
	a, err := m.lookup(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fault == nil {
		return ErrChannelNotStalled
	}

	log.Infof("Resuming channel %x in state %v after fault: %v",
		a.tempID[:], a.state, a.fault)
	a.fault = nil

	return nil
}

// ChannelState returns a snapshot of the channel with the given temporary or
// permanent id.
func (m *Manager) ChannelState(id [32]byte) (*ChannelSnapshot, error) {
	a, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	return a.snapshot(), nil
}

// ListChannels returns a snapshot of every channel ordered by temporary id.
func (m *Manager) ListChannels() []*ChannelSnapshot {
	var snapshots []*ChannelSnapshot
	m.actors.Range(func(_ [32]byte, a *channelActor) bool {
		snapshots = append(snapshots, a.snapshot())
		return true
	})

	slices.SortFunc(snapshots, func(a, b *ChannelSnapshot) int {
		return bytes.Compare(
			a.Channel.TemporaryID[:], b.Channel.TemporaryID[:],
		)
	})

	return snapshots
}

// ForgetChannel stops tracking a channel and removes it from the store.
// Events queued for it are rejected with ErrUnknownChannel.
func (m *Manager) ForgetChannel(id [32]byte) error {
	a, err := m.lookup(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.removed {
		a.mu.Unlock()
		return fmt.Errorf("%w: %x", ErrUnknownChannel, id[:])
	}
	a.removed = true
	chanID := a.channel.ChannelID
	err = m.cfg.Store.RemoveChannel(a.tempID)
	a.mu.Unlock()

	if err != nil && !errors.Is(err, channeldb.ErrChannelNotFound) {
		return fmt.Errorf("unable to remove channel: %w", err)
	}

	m.actors.Delete(a.tempID)
	chanID.WhenSome(func(id lnwire.ChannelID) {
		m.aliases.Delete(id)
	})

	close(a.quit)
	a.mailbox.Stop()

	log.Infof("Forgot channel %x", a.tempID[:])

	return nil
}
