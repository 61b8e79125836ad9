// OHLCV History CLI
// This application downloads historical OHLCV (Open, High, Low, Close, Volume)
// candles from a cryptocurrency exchange into CSV and Parquet files, and
// resamples stored series into coarser resolutions.
//
// Usage:
//
//	ohlcv fetch --symbol BTC/USDT --resolution 1m --start 2024-01-01 --end 2024-02-01
//	ohlcv resample --input data/BTCUSDT_1min.csv --resolutions 5min,15min,60min,1D
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/go-ohlcv-history/internal/app"
	"github.com/johnayoung/go-ohlcv-history/internal/collector"
	"github.com/johnayoung/go-ohlcv-history/internal/config"
	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/exchange"
	"github.com/johnayoung/go-ohlcv-history/internal/logger"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"github.com/johnayoung/go-ohlcv-history/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "ohlcv"
	ConfigFile = "ohlcv.yaml"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitSourceError = 3
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI holds what every command needs once configuration is loaded
type CLI struct {
	config *config.AppConfig
	logs   *logger.LoggerManager
	logger *slog.Logger
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:])
	cancel()
	os.Exit(code)
}

// run executes one command and returns the process exit code
func run(ctx context.Context, command string, args []string) int {
	var err error

	switch command {
	case "fetch":
		err = handleFetch(ctx, args)
	case "resample":
		err = handleResample(ctx, args)
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", errorKind(err), err)
		return exitCode(err)
	}
	return ExitSuccess
}

// newCLI loads configuration and sets up logging
func newCLI(ctx context.Context, configPath string) (*CLI, error) {
	cfg, err := config.NewConfigManager(configPath, nil).LoadConfig(ctx)
	if err != nil {
		return nil, configErrorf("failed to load configuration: %w", err)
	}

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return nil, configErrorf("failed to setup logging: %w", err)
	}

	return &CLI{
		config: cfg,
		logs:   logs,
		logger: logs.GetComponentLogger("cli"),
	}, nil
}

func (cli *CLI) close() {
	if err := cli.logs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log output: %v\n", err)
	}
}

// handleFetch handles the 'fetch' command for downloading a time range
func handleFetch(ctx context.Context, args []string) error {
	flags, err := parseFetchFlags(args)
	if err != nil {
		return usageErrorf("%w", err)
	}
	if flags.Help {
		printCommandHelp("fetch")
		return nil
	}

	// Validate required parameters
	if flags.Symbol == "" {
		return usageErrorf("--symbol is required")
	}
	if flags.Start == "" || flags.End == "" {
		return usageErrorf("both --start and --end are required")
	}
	res, err := models.ParseResolution(flags.Resolution)
	if err != nil {
		return usageErrorf("invalid --resolution: %w", err)
	}
	timeRange, err := models.ParseTimeRange(flags.Start, flags.End)
	if err != nil {
		return usageErrorf("invalid time range: %w", err)
	}
	if timeRange.Start > timeRange.End {
		return usageErrorf("start time cannot be after end time")
	}

	cli, err := newCLI(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer cli.close()

	cfg := cli.config
	if flags.Source != "" {
		cfg.Source.Type = flags.Source
	}
	if flags.Limit != 0 {
		cfg.Fetch.PageLimit = flags.Limit
	}
	cfg.Fetch.Stream = cfg.Fetch.Stream || flags.Stream
	cfg.Fetch.KeepPartial = cfg.Fetch.KeepPartial || flags.KeepPartial

	source, err := exchange.NewSource(cfg.Source, cli.logs.GetComponentLogger("exchange"))
	if err != nil {
		return configErrorf("failed to initialize source: %w", err)
	}
	retry, err := ohlcverr.NewRetryPolicy(cfg.Source.RetryPolicy, cli.logs.GetComponentLogger("retry"))
	if err != nil {
		return configErrorf("invalid retry policy: %w", err)
	}
	store, err := storage.NewStore(cfg.Storage, cli.logs.GetComponentLogger("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	dest := flags.Out
	if dest == "" {
		dest = defaultOutputPath(cfg.Storage.OutputDir, flags.Symbol, res)
	}

	cli.logger.Info("Starting historical fetch",
		"source", source.Name(),
		"symbol", flags.Symbol,
		"resolution", res.Name,
		"start", storage.FormatTime(timeRange.Start),
		"end", storage.FormatTime(timeRange.End),
		"dest", dest)

	result, err := app.FetchRange(ctx, app.FetchOptions{
		Symbol:      flags.Symbol,
		Resolution:  res,
		Range:       timeRange,
		PageLimit:   cfg.Fetch.PageLimit,
		Dest:        dest,
		Stream:      cfg.Fetch.Stream,
		KeepPartial: cfg.Fetch.KeepPartial,
		Source:      source,
		Store:       store,
		Retry:       retry,
		Logger:      cli.logs.GetComponentLogger("fetch"),
	})
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", flags.Symbol, res, err)
	}

	fmt.Printf("Fetched %d %s %s candles from %s (%s, %d pages, %d retries, %s)\n",
		result.RowsFetched, flags.Symbol, res, source.Name(), result.Status,
		result.Stats.Pages, result.Stats.Retries, result.Elapsed.Round(time.Millisecond))
	for _, path := range store.Destinations(dest) {
		fmt.Printf("  -> %s\n", path)
	}
	return nil
}

// handleResample handles the 'resample' command for deriving coarser series
func handleResample(ctx context.Context, args []string) error {
	flags, err := parseResampleFlags(args)
	if err != nil {
		return usageErrorf("%w", err)
	}
	if flags.Help {
		printCommandHelp("resample")
		return nil
	}
	if flags.Input == "" {
		return usageErrorf("--input is required")
	}

	cli, err := newCLI(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer cli.close()

	cfg := cli.config
	var resolutions []models.Resolution
	if flags.Resolutions != "" {
		resolutions, err = models.ParseResolutions(flags.Resolutions)
		if err != nil {
			return usageErrorf("invalid --resolutions: %w", err)
		}
	} else {
		resolutions, err = cfg.ResampleResolutions()
		if err != nil {
			return configErrorf("invalid resample resolutions: %w", err)
		}
	}

	asOfValue := flags.AsOf
	if asOfValue == "" {
		asOfValue = cfg.Resample.AsOf
	}
	var asOf time.Time
	if asOfValue != "" {
		asOf, err = models.ParseTimestamp(asOfValue)
		if err != nil {
			return usageErrorf("invalid --as-of: %w", err)
		}
	}

	concurrency := cfg.Resample.Concurrency
	if flags.Concurrency > 0 {
		concurrency = flags.Concurrency
	}

	store, err := storage.NewStore(cfg.Storage, cli.logs.GetComponentLogger("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	outputs, err := app.ResampleSeries(ctx, app.ResampleOptions{
		Base:        flags.Input,
		Resolutions: resolutions,
		OutputDir:   flags.OutDir,
		AsOf:        asOf,
		Concurrency: concurrency,
		Store:       store,
		Logger:      cli.logs.GetComponentLogger("resample"),
	})
	if err != nil {
		return fmt.Errorf("resample %s: %w", flags.Input, err)
	}

	for _, out := range outputs {
		fmt.Printf("Wrote %d %s candles\n", out.Rows, out.Resolution)
		for _, path := range store.Destinations(out.Path) {
			fmt.Printf("  -> %s\n", path)
		}
	}
	return nil
}

// defaultOutputPath names a fetch output like BTCUSDT_1min.csv under dir
func defaultOutputPath(dir, symbol string, res models.Resolution) string {
	stem := strings.NewReplacer("/", "", "-", "", "_", "", ":", "").Replace(strings.ToUpper(symbol))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", stem, res.Suffix()))
}

// Command line errors

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func configErrorf(format string, args ...any) error {
	return &configError{err: fmt.Errorf(format, args...)}
}

// exitCode maps an error to the process exit code
func exitCode(err error) int {
	var (
		usage       *usageError
		cfg         *configError
		unavailable *collector.SourceUnavailableError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, app.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfg):
		return ExitConfigError
	case errors.As(err, &unavailable):
		return ExitSourceError
	default:
		return ExitDataError
	}
}

// errorKind is the label printed in front of an error message
func errorKind(err error) string {
	var (
		usage       *usageError
		cfg         *configError
		unavailable *collector.SourceUnavailableError
		noProgress  *collector.NoProgressError
		storageErr  *storage.StorageError
	)

	switch {
	case errors.Is(err, app.ErrInterrupted), errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.As(err, &usage):
		return "usage"
	case errors.As(err, &cfg):
		return "config"
	case errors.As(err, &unavailable):
		return "source unavailable: " + string(ohlcverr.GetErrorType(unavailable.Err))
	case errors.As(err, &noProgress):
		return "no progress"
	case errors.As(err, &storageErr):
		return "io"
	default:
		return "error"
	}
}

// Command line flags

// FetchFlags represents flags for the fetch command
type FetchFlags struct {
	Symbol      string
	Resolution  string
	Start       string
	End         string
	Out         string
	Source      string
	Limit       int
	Stream      bool
	KeepPartial bool
	ConfigPath  string
	Help        bool
}

// ResampleFlags represents flags for the resample command
type ResampleFlags struct {
	Input       string
	Resolutions string
	OutDir      string
	AsOf        string
	Concurrency int
	ConfigPath  string
	Help        bool
}

// flagValue returns the value following the flag at args[*i]
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

// parseFetchFlags parses command line arguments for the fetch command
func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{
		Resolution: "1m", // Default resolution
		ConfigPath: ConfigFile,
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--symbol", "-s":
			flags.Symbol, err = flagValue(args, &i)
		case "--resolution", "-r":
			flags.Resolution, err = flagValue(args, &i)
		case "--start":
			flags.Start, err = flagValue(args, &i)
		case "--end":
			flags.End, err = flagValue(args, &i)
		case "--out", "-o":
			flags.Out, err = flagValue(args, &i)
		case "--source":
			flags.Source, err = flagValue(args, &i)
		case "--limit", "-l":
			var value string
			if value, err = flagValue(args, &i); err == nil {
				flags.Limit, err = strconv.Atoi(value)
				if err != nil {
					err = fmt.Errorf("invalid limit value: %w", err)
				}
			}
		case "--config", "-c":
			flags.ConfigPath, err = flagValue(args, &i)
		case "--stream":
			flags.Stream = true
		case "--keep-partial":
			flags.KeepPartial = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	return flags, nil
}

// parseResampleFlags parses command line arguments for the resample command
func parseResampleFlags(args []string) (*ResampleFlags, error) {
	flags := &ResampleFlags{
		ConfigPath: ConfigFile,
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--input", "-i":
			flags.Input, err = flagValue(args, &i)
		case "--resolutions", "-r":
			flags.Resolutions, err = flagValue(args, &i)
		case "--out-dir", "-o":
			flags.OutDir, err = flagValue(args, &i)
		case "--as-of":
			flags.AsOf, err = flagValue(args, &i)
		case "--concurrency":
			var value string
			if value, err = flagValue(args, &i); err == nil {
				flags.Concurrency, err = strconv.Atoi(value)
				if err != nil {
					err = fmt.Errorf("invalid concurrency value: %w", err)
				}
			}
		case "--config", "-c":
			flags.ConfigPath, err = flagValue(args, &i)
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	return flags, nil
}

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - OHLCV History CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    fetch       Download historical candles for a symbol into CSV/Parquet
    resample    Aggregate a stored series into coarser resolutions

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Download one month of BTC/USDT minute candles from Binance
    %s fetch --symbol BTC/USDT --resolution 1m --start 2024-01-01 --end 2024-02-01

    # Same range from Coinbase, streaming pages to disk as they arrive
    %s fetch --symbol BTC-USD --source coinbase --start 2024-01-01 --end 2024-02-01 --stream

    # Derive 5min, 15min, 60min and daily series next to the input
    %s resample --input data/BTCUSDT_1min.csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (YAML or JSON, chosen by extension)
    - A .env file in the working directory
    - Environment variables: OHLCV_* (e.g., OHLCV_SOURCE_TYPE, OHLCV_PAGE_LIMIT)

    Example config file:
        source:
          type: binance
          rate_limit: 10
          retry_policy:
            max_attempts: 8
        storage:
          output_dir: data
          write_parquet: true

EXIT CODES:
    0 success, 1 usage error, 2 config error, 3 source unavailable,
    4 data or I/O error, 130 interrupted

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "fetch":
		fmt.Printf(`%s fetch - Download historical OHLCV candles

USAGE:
    %s fetch [options]

OPTIONS:
    --symbol, -s <symbol>     Market symbol (required)
                              Examples: BTC/USDT, ETH-USD, BTCUSDT

    --resolution, -r <res>    Candle resolution (default: 1m)
                              Supported: 1m, 5m, 15m, 30m, 1h, 4h, 1d

    --start <time>            Start of the range, inclusive (required)
    --end <time>              End of the range, exclusive (required)
                              Formats: 2024-01-01, 2024-01-01T12:00:00Z

    --out, -o <path>          Output CSV (default: <output_dir>/<SYMBOL>_<res>.csv)
                              A .parquet twin is written alongside unless disabled

    --source <name>           Exchange to fetch from: binance, coinbase
    --limit, -l <n>           Candles per request, clamped to the exchange maximum
    --stream                  Append each page to disk as it arrives
    --keep-partial            Write fetched rows even when the exchange stays unavailable
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help

    Interrupting a fetch (Ctrl-C) writes the rows fetched so far and prints the
    cursor to resume from.

EXAMPLES:
    %s fetch --symbol BTC/USDT --start 2024-01-01 --end 2024-01-08
    %s fetch --symbol ETH-USD --source coinbase --resolution 1h --start 2023-01-01 --end 2024-01-01 --out data/eth_1h.csv
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "resample":
		fmt.Printf(`%s resample - Aggregate a stored series into coarser resolutions

USAGE:
    %s resample [options]

OPTIONS:
    --input, -i <path>        Base series, CSV or Parquet (required)
    --resolutions, -r <list>  Comma separated targets (default: 1min,5min,15min,60min,1D)
    --out-dir, -o <dir>       Output directory (default: the input's directory)
    --as-of <time>            Drop buckets that end after this instant
    --concurrency <n>         Resolutions processed at once (default: CPU count)
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help

    Outputs are named after the input with its resolution label replaced:
    data/BTCUSDT_1min.csv resampled to 5min becomes data/BTCUSDT_5min.csv.

EXAMPLES:
    %s resample --input data/BTCUSDT_1min.csv
    %s resample --input data/BTCUSDT_1min.csv --resolutions 4h,1D --as-of 2024-02-01
`, AppName, AppName, ConfigFile, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
	}
}
