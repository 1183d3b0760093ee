package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnchan"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[chanctl] %v\n", err)
	os.Exit(1)
}

// dataDir returns the directory holding the channel database. An explicit
// --datadir wins over the one derived from --lnchandir.
func dataDir(ctx *cli.Context) string {
	if ctx.GlobalIsSet("datadir") {
		return lnchan.CleanAndExpandPath(ctx.GlobalString("datadir"))
	}

	return filepath.Join(
		lnchan.CleanAndExpandPath(ctx.GlobalString("lnchandir")),
		"data",
	)
}

// openDB opens the channel database. The daemon holds the file lock while
// it is running, so writes are only possible while it is stopped.
func openDB(ctx *cli.Context, readOnly bool) (*channeldb.DB, func(),
	error) {

	db, err := channeldb.Open(
		dataDir(ctx),
		channeldb.OptionSetDBTimeout(ctx.GlobalDuration("dbtimeout")),
		channeldb.OptionReadOnly(readOnly),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open channel db: %w",
			err)
	}

	cleanUp := func() {
		_ = db.Close()
	}

	return db, cleanUp, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "chanctl"
	app.Usage = "inspect and repair the channels of an lnchan node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "lnchandir",
			Value:     lnchan.DefaultLnchanDir,
			Usage:     "The path to the node's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "datadir",
			Usage: "The directory of the channel database, " +
				"overrides the one within lnchandir.",
			TakesFile: true,
		},
		cli.DurationFlag{
			Name:  "dbtimeout",
			Value: channeldb.DefaultDBTimeout,
			Usage: "How long to wait for the database file lock.",
		},
	}
	app.Commands = []cli.Command{
		listChannelsCommand,
		showChannelCommand,
		removeChannelCommand,
		topologyCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
