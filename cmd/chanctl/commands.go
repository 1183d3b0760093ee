package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/funding"
	"github.com/lightningnetwork/lnchan/lnutils"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
	"github.com/urfave/cli"
)

// channelInfo is the JSON view of a stored channel.
type channelInfo struct {
	State           string `json:"state"`
	TemporaryID     string `json:"temporary_id"`
	ChannelID       string `json:"channel_id,omitempty"`
	ChannelPoint    string `json:"channel_point,omitempty"`
	Peer            string `json:"peer"`
	Public          bool   `json:"public"`
	CapacitySat     int64  `json:"capacity_sat"`
	LocalBalance    uint64 `json:"local_balance_msat"`
	RemoteBalance   uint64 `json:"remote_balance_msat"`
	FeeRatePerKw    uint64 `json:"fee_rate_per_kw"`
	MinimumDepth    uint32 `json:"minimum_depth"`
	ConfirmedHeight uint32 `json:"confirmed_height,omitempty"`
	ReadyHeight     uint32 `json:"ready_height,omitempty"`
	PeerReady       bool   `json:"peer_ready"`
	LastUpdate      string `json:"last_update,omitempty"`
}

func newChannelInfo(record *channeldb.ChannelRecord) *channelInfo {
	c := record.Channel

	info := &channelInfo{
		State:         record.State,
		TemporaryID:   hex.EncodeToString(c.TemporaryID[:]),
		Public:        c.IsPublic,
		CapacitySat:   int64(c.FundingAmount),
		LocalBalance:  uint64(c.OurSide.Balance),
		RemoteBalance: uint64(c.TheirSide.Balance),
		FeeRatePerKw:  uint64(c.FeeRatePerKw),
		MinimumDepth:  c.MinimumDepth,
		PeerReady:     c.HasChannelReady,
	}
	if c.PeerID != nil {
		info.Peer = hex.EncodeToString(c.PeerID.SerializeCompressed())
	}

	c.ChannelID.WhenSome(func(id lnwire.ChannelID) {
		info.ChannelID = id.String()
	})
	c.FundingOutPoint.WhenSome(func(op wire.OutPoint) {
		info.ChannelPoint = op.String()
	})
	info.ConfirmedHeight = c.FundingConfirmedHeight.UnwrapOr(0)
	info.ReadyHeight = c.ReadyHeight.UnwrapOr(0)

	if !c.LastUpdate.IsZero() {
		info.LastUpdate = c.LastUpdate.UTC().Format(time.RFC3339)
	}

	return info
}

func printJSON(w io.Writer, resp interface{}) error {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n", b)

	return err
}

// parseID decodes a 32-byte channel id given in hex.
func parseID(s string) ([32]byte, error) {
	var id [32]byte

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid channel id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid channel id: expected %d "+
			"bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)

	return id, nil
}

// findChannel looks up a channel by its temporary id and falls back to a
// scan for a matching permanent channel id.
func findChannel(db *channeldb.DB,
	id [32]byte) (*channeldb.ChannelRecord, error) {

	record, err := db.FetchChannel(id)
	if err == nil || !errors.Is(err, channeldb.ErrChannelNotFound) {
		return record, err
	}

	records, err := db.FetchChannels()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		chanID := record.Channel.ChannelID
		if chanID.IsSome() &&
			chanID.UnsafeFromSome() == lnwire.ChannelID(id) {

			return record, nil
		}
	}

	return nil, channeldb.ErrChannelNotFound
}

var listChannelsCommand = cli.Command{
	Name:     "listchannels",
	Category: "Channels",
	Usage:    "List the channels being opened.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: "state",
			Usage: "Only list channels whose state id ends " +
				"with the given name, e.g. " +
				"awaiting_funding_depth.",
		},
	},
	Action: listChannels,
}

func listChannels(ctx *cli.Context) error {
	db, cleanUp, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer cleanUp()

	records, err := db.FetchChannels()
	if err != nil {
		return err
	}

	slices.SortFunc(records, func(a, b *channeldb.ChannelRecord) int {
		return bytes.Compare(
			a.Channel.TemporaryID[:], b.Channel.TemporaryID[:],
		)
	})

	state := ctx.String("state")
	infos := make([]*channelInfo, 0, len(records))
	for _, record := range records {
		if state != "" && !strings.HasSuffix(record.State, state) {
			continue
		}

		infos = append(infos, newChannelInfo(record))
	}

	return printJSON(os.Stdout, struct {
		Channels []*channelInfo `json:"channels"`
	}{
		Channels: infos,
	})
}

var showChannelCommand = cli.Command{
	Name:      "showchannel",
	Category:  "Channels",
	Usage:     "Show a channel by its temporary or permanent id.",
	ArgsUsage: "id",
	Action:    showChannel,
}

func showChannel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "showchannel")
	}

	id, err := parseID(ctx.Args().First())
	if err != nil {
		return err
	}

	db, cleanUp, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer cleanUp()

	record, err := findChannel(db, id)
	if err != nil {
		return err
	}

	return printJSON(os.Stdout, newChannelInfo(record))
}

var removeChannelCommand = cli.Command{
	Name:      "removechannel",
	Category:  "Channels",
	Usage:     "Forget a channel.",
	ArgsUsage: "id",
	Description: `
	Removes a channel from the channel database. The node must be stopped
	since it holds the database lock while running. A channel whose funding
	transaction was already broadcast is not abandoned on chain, its funds
	must be recovered separately.`,
	Action: removeChannel,
}

func removeChannel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "removechannel")
	}

	id, err := parseID(ctx.Args().First())
	if err != nil {
		return err
	}

	db, cleanUp, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer cleanUp()

	record, err := findChannel(db, id)
	if err != nil {
		return err
	}

	err = db.RemoveChannel(record.Channel.TemporaryID)
	if err != nil {
		return err
	}

	return printJSON(os.Stdout, newChannelInfo(record))
}

var topologyCommand = cli.Command{
	Name:     "topology",
	Category: "Debug",
	Usage:    "Print the states a channel moves through.",
	Action: func(ctx *cli.Context) error {
		return printTopology(os.Stdout)
	},
}

// printTopology writes the opening state tree along with the events each
// state reacts to.
func printTopology(w io.Writer) error {
	machine := funding.NewChannelStateMachine(
		funding.NewTransitions(nil, nil),
	)

	var err error
	machine.Walk(func(s *funding.ChannelState) bool {
		depth := strings.Count(s.ID().String(), ".")
		line := strings.Repeat("    ", depth) + s.Name()

		events := s.EventTypes()
		if len(events) > 0 {
			names := lnutils.Map(
				events, func(e protofsm.EventType) string {
					return string(e)
				},
			)
			slices.Sort(names)

			line += " (" + strings.Join(names, ", ") + ")"
		}

		_, err = fmt.Fprintln(w, line)

		return err == nil
	})

	return err
}
