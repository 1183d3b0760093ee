package lnchan

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnchan/build"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/funding"
	"github.com/lightningnetwork/lnchan/lnwallet"
)

const (
	defaultConfigFilename = "lnchan.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "lnchan.log"
	defaultLogLevel       = "info"
	defaultNetwork        = "mainnet"

	defaultPrometheusListen = "127.0.0.1:8989"
)

var (
	// DefaultLnchanDir is the default directory holding the configuration
	// file, the channel database and the logs.
	DefaultLnchanDir = btcutil.AppDataDir("lnchan", false)

	// DefaultConfigFile is the default full path of the configuration
	// file.
	DefaultConfigFile = filepath.Join(
		DefaultLnchanDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultLnchanDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultLnchanDir, defaultLogDirname)

	// networks maps the accepted values of --network to their chain
	// parameters.
	networks = map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
		"simnet":  &chaincfg.SimNetParams,
		"signet":  &chaincfg.SigNetParams,
	}
)

// PrometheusConfig holds the settings of the metrics exporter.
//
//nolint:lll
type PrometheusConfig struct {
	Enable bool   `long:"enable" description:"Export the channel metrics over HTTP"`
	Listen string `long:"listen" description:"The interface and port the metrics exporter listens on"`
}

// Config defines the configuration options for the channel opening engine.
//
// See LoadConfig for further details regarding the configuration loading and
// parsing process.
//
//nolint:lll
type Config struct {
	LnchanDir  string `long:"lnchandir" description:"The base directory that contains the channel database, logs and configuration file"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the channel database within"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Network string `long:"network" description:"The network channels are opened on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`

	DBTimeout    time.Duration `long:"dbtimeout" description:"How long to wait for the channel database file lock"`
	SyncFreelist bool          `long:"sync-freelist" description:"Whether the channel database should sync its freelist to disk"`

	MailboxSize int `long:"mailboxsize" description:"The number of events queued per channel before they spill into an unbounded list"`

	Prometheus *PrometheusConfig `group:"prometheus" namespace:"prometheus"`

	Channel *lnwallet.ChannelPolicy `group:"channel" namespace:"channel"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		LnchanDir:   DefaultLnchanDir,
		ConfigFile:  DefaultConfigFile,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		Network:     defaultNetwork,
		DBTimeout:   channeldb.DefaultDBTimeout,
		MailboxSize: funding.DefaultMailboxSize,
		Prometheus: &PrometheusConfig{
			Listen: defaultPrometheusListen,
		},
		Channel:   lnwallet.DefaultChannelPolicy(),
		LogConfig: build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// given command line arguments.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their base directory, then we should assume they intend to
	// use the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.LnchanDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultLnchanDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about a missing config file only after all other
	// configuration is done.
	if configFileError != nil {
		lnchLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized and the data and log directories are created. The
// cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the base directory is not the default, the data and log
	// directories move along with it.
	lnchanDir := CleanAndExpandPath(cfg.LnchanDir)
	if lnchanDir != DefaultLnchanDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(
				lnchanDir, defaultDataDirname,
			)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(
				lnchanDir, defaultLogDirname,
			)
		}
	}

	cfg.LnchanDir = lnchanDir
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	for _, dir := range []string{cfg.LnchanDir, cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("unable to create directory "+
				"%v: %w", dir, err)
		}
	}

	if _, ok := networks[cfg.Network]; !ok {
		return nil, fmt.Errorf("unknown network: %v", cfg.Network)
	}

	if cfg.DBTimeout <= 0 {
		return nil, fmt.Errorf("dbtimeout must be positive")
	}

	if cfg.MailboxSize < 0 {
		return nil, fmt.Errorf("mailboxsize must not be negative")
	}

	if cfg.Prometheus.Enable && cfg.Prometheus.Listen == "" {
		return nil, fmt.Errorf("prometheus.listen must be set when " +
			"the exporter is enabled")
	}

	if err := cfg.Channel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channel policy: %w", err)
	}

	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return &cfg, nil
}

// ChainParams returns the parameters of the configured network.
func (c *Config) ChainParams() *chaincfg.Params {
	params, ok := networks[c.Network]
	if !ok {
		return networks[defaultNetwork]
	}

	return params
}

// LogFile returns the path of the rotating log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
