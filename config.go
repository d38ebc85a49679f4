package lnpay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnpay/build"
	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/lightningnetwork/lnpay/signal"
)

const (
	defaultLogLevel = "info"

	// DefaultFundingDelay is the time the local funding simulator waits
	// before it confirms a new channel.
	DefaultFundingDelay = 3 * time.Second

	// DefaultAlias is the alias of the node in its own graph.
	DefaultAlias = "lnpay"

	// DefaultColor is the color of the node in its own graph.
	DefaultColor = "#4968ad"
)

var (
	// DefaultLpayDir is the default directory where lnpayd tries to find
	// its configuration file and store its data. This is a directory in
	// the user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Lnpay on Windows
	//   ~/.lnpay on Linux
	//   ~/Library/Application Support/Lnpay on MacOS
	DefaultLpayDir = btcutil.AppDataDir("lnpay", false)

	// DefaultConfigFile is the default full path of lnpayd's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultLpayDir, lncfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultLpayDir, lncfg.DefaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultLpayDir, lncfg.DefaultLogDirname)
)

// networks maps the supported network names to their parameters.
var networks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"regtest": &chaincfg.RegressionNetParams,
	"simnet":  &chaincfg.SimNetParams,
}

// NetworkParams returns the parameters of a network by name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	params, ok := networks[name]
	if !ok {
		return nil, &lncfg.ConfigError{
			Field: "network",
			Value: name,
			Err:   lncfg.ErrInvalidValue,
		}
	}

	return params, nil
}

// Config defines the configuration options for lnpayd.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	LpayDir    string `long:"lnpaydir" description:"The base directory that contains lnpayd's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store lnpayd's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Network string `long:"network" description:"The network invoices are issued for." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet"`

	Alias string `long:"alias" description:"The alias of the node in its channel graph."`
	Color string `long:"color" description:"The color of the node in hex format (i.e. '#3399FF')."`

	NoLightning bool `long:"nolightning" description:"Start with invoice issuance, payments and channel opens disabled."`

	FundingDelay time.Duration `long:"fundingdelay" description:"The time the local funding simulator waits before it confirms a new channel."`

	Channels *lncfg.Channels `group:"channels" namespace:"channels"`

	Invoices *lncfg.Invoices `group:"invoices" namespace:"invoices"`

	Payments *lncfg.Payments `group:"payments" namespace:"payments"`

	Routing *lncfg.Routing `group:"routing" namespace:"routing"`

	Escrow *lncfg.Escrow `group:"escrow" namespace:"escrow"`

	DB *lncfg.DB `group:"db" namespace:"db"`

	Prometheus *lncfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *lncfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// SubLogMgr is the root logger that all the daemon's subloggers are
	// hooked up to.
	SubLogMgr *build.SubLoggerManager

	// LogRotator is the log file writer.
	LogRotator *build.RotatingLogWriter

	// ActiveNetParams are the parameters of the selected network.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		LpayDir:      DefaultLpayDir,
		ConfigFile:   DefaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		Network:      "mainnet",
		Alias:        DefaultAlias,
		Color:        DefaultColor,
		FundingDelay: DefaultFundingDelay,
		Channels:     lncfg.DefaultChannels(),
		Invoices:     lncfg.DefaultInvoices(),
		Payments:     lncfg.DefaultPayments(),
		Routing:      lncfg.DefaultRouting(),
		Escrow:       lncfg.DefaultEscrow(),
		DB:           lncfg.DefaultDB(),
		Prometheus:   lncfg.DefaultPrometheus(),
		HealthChecks: lncfg.DefaultHealthCheck(),
		LogConfig:    build.DefaultLogConfig(),
		LogRotator:   build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their lnpaydir, then we should assume they intend to use
	// the config file within it.
	configFileDir := lncfg.CleanAndExpandPath(preCfg.LpayDir)
	configFilePath := lncfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultLpayDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, lncfg.DefaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
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
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, interceptor)
	if usageErr, ok := err.(*usageError); ok {
		// The logging system might not yet be initialized, so we also
		// write to stderr to make sure the error appears somewhere.
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)
		lpayLog.Warnf("Incorrect usage: %v", usageMessage)

		// The log subsystem might not yet be initialized. But we still
		// try to log the error there since some packaging solutions
		// might only look at the log and not stdout/stderr.
		lpayLog.Warnf("Error validating config: %v", usageErr.err)

		return nil, usageErr.err
	}
	if err != nil {
		// The log subsystem might not yet be initialized. But we still
		// try to log the error there since some packaging solutions
		// might only look at the log and not stdout/stderr.
		lpayLog.Warnf("Error validating config: %v", err)

		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid options.
	// Note this should go directly before the return.
	if configFileError != nil {
		lpayLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config,
	interceptor signal.Interceptor) (*Config, error) {

	// If the provided lnpay directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	lpayDir := lncfg.CleanAndExpandPath(cfg.LpayDir)
	if lpayDir != DefaultLpayDir {
		cfg.DataDir = filepath.Join(lpayDir, lncfg.DefaultDataDirname)
		cfg.LogDir = filepath.Join(lpayDir, lncfg.DefaultLogDirname)
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	// Create the lnpay directory and all other sub directories if they
	// don't already exist.
	for _, dir := range []string{lpayDir, cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory "+
				"%v: %w", dir, err)
		}
	}

	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, &usageError{err}
	}
	cfg.ActiveNetParams = params

	// The data and log directories are namespaced by network so a node
	// can be switched between networks without mixing state.
	network := lncfg.NormalizeNetwork(params.Name)
	cfg.DataDir = filepath.Join(cfg.DataDir, network)
	cfg.LogDir = filepath.Join(cfg.LogDir, network)

	if cfg.FundingDelay < 0 {
		return nil, &usageError{&lncfg.ConfigError{
			Field: "fundingdelay",
			Value: cfg.FundingDelay.String(),
			Err:   lncfg.ErrOutOfRange,
		}}
	}

	// Validate the option groups.
	err = lncfg.Validate(
		cfg.Channels, cfg.Invoices, cfg.Payments, cfg.Routing,
		cfg.Escrow, cfg.DB, cfg.Prometheus, cfg.HealthChecks,
		cfg.LogConfig,
	)
	if err != nil {
		return nil, err
	}

	// The panel has the narrower bounds, so the initial settings are
	// checked against it as well.
	settings := cfg.PanelSettings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	// A log writer must be passed in, otherwise we can't function and
	// would run into a panic later on.
	if cfg.LogRotator == nil {
		return nil, errors.New("log writer missing in config")
	}

	if !cfg.LogConfig.File.Disable {
		err := cfg.LogRotator.InitLogRotator(
			cfg.LogConfig.File,
			filepath.Join(cfg.LogDir, lncfg.DefaultLogFilename),
		)
		if err != nil {
			return nil, err
		}
	}

	// Set up the root logger and hook every subsystem up to it.
	handler := build.NewDefaultLogHandler(cfg.LogConfig, cfg.LogRotator)
	cfg.SubLogMgr = build.NewSubLoggerManager(handler)
	SetupLoggers(cfg.SubLogMgr, interceptor)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		return nil, &usageError{err}
	}

	// Finally, ensure that the user's color is correctly formatted.
	if err := validateColor(cfg.Color); err != nil {
		return nil, &usageError{err}
	}

	// All good, return the sanitized result.
	return &cfg, nil
}

// validColorRegexp matches a node color of the form #rrggbb.
var validColorRegexp = regexp.MustCompile("^#[A-Fa-f0-9]{6}$")

// validateColor checks that a node color is of the form #rrggbb.
func validateColor(color string) error {
	if !validColorRegexp.MatchString(color) {
		return &lncfg.ConfigError{
			Field: "color",
			Value: color,
			Err:   lncfg.ErrInvalidValue,
		}
	}

	return nil
}

// PanelSettings returns the live settings the node starts with.
func (c *Config) PanelSettings() lncfg.PanelSettings {
	return lncfg.PanelSettings{
		LightningEnabled:      !c.NoLightning,
		DefaultNetwork:        c.Network,
		MinChannelCapacity:    c.Channels.MinCapacity,
		MaxChannelCapacity:    c.Channels.MaxCapacity,
		InvoiceExpiry:         int64(c.Invoices.Expiry / time.Second),
		MaxPaymentRetries:     int64(c.Payments.MaxRetries),
		PaymentTimeout:        int64(c.Payments.Timeout / time.Second),
		AutoChannelManagement: c.Channels.AutoManage(),
	}
}

// dbDir returns the path of the database directory.
func (c *Config) dbDir() string {
	return filepath.Join(c.DataDir, "graph")
}
