package lnchan

import (
	"fmt"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnchan/build"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/funding"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/protofsm"
)

// Subsystem defines the logging code of the root package.
const Subsystem = "LNCH"

// lnchLog is the logger of the root package. Like every package logger it is
// disabled until SetupLoggers replaces it.
var lnchLog = build.NewSubLogger(Subsystem, nil)

// SetupLoggers creates the logger of every subsystem through root and hands
// it to its package.
func SetupLoggers(root *build.SubLoggerManager) {
	AddSubLogger(root, Subsystem, func(logger btclog.Logger) {
		lnchLog = logger
	})

	AddSubLogger(root, funding.Subsystem, funding.UseLogger)
	AddSubLogger(root, protofsm.Subsystem, protofsm.UseLogger)
	AddSubLogger(root, channeldb.Subsystem, channeldb.UseLogger)
	AddSubLogger(root, lnwallet.Subsystem, lnwallet.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// InitLogging sets up the console and rotating file loggers described by cfg
// and applies its debug levels. The returned writer must be closed on
// shutdown.
func InitLogging(cfg *Config) (*build.SubLoggerManager,
	*build.RotatingLogWriter, error) {

	logWriter := build.NewRotatingLogWriter()
	if !cfg.LogConfig.File.Disable {
		err := logWriter.InitLogRotator(
			cfg.LogConfig.File, cfg.LogFile(),
		)
		if err != nil {
			return nil, nil, err
		}
	}

	root := build.NewSubLoggerManager(cfg.LogConfig, logWriter)
	SetupLoggers(root)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		DisableLoggers()
		_ = logWriter.Close()

		return nil, nil, fmt.Errorf("unable to set log levels: %w",
			err)
	}

	return root, logWriter, nil
}

// DisableLoggers hands a disabled logger back to every subsystem. It must be
// called before the writer returned by InitLogging is closed if the process
// keeps running.
func DisableLoggers() {
	lnchLog = btclog.Disabled

	funding.DisableLog()
	protofsm.DisableLog()
	channeldb.DisableLog()
	lnwallet.DisableLog()
}
