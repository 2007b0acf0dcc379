package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/thread2text/api"
	"github.com/brettboylen/thread2text/convert"
	"github.com/brettboylen/thread2text/db"
	"github.com/brettboylen/thread2text/utils"
)

const usage = `Usage: thread2text [flags] IN_DIR

Converts BDFR archive output (.json/.yaml) into pretty text files.
IN_DIR is the output dir of BDFR; OUT_DIR is emptied before every run.

Flags:
`

type cliFlags struct {
	inDir       string
	outDir      string
	indent      int
	parsable    bool
	shortenURLs bool
	timestamps  bool
	dbPath      string
	serve       bool
	envPath     string
	logLevel    string
}

func main() {
	flags, set, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log := setupLogger(flags.logLevel)

	config, err := utils.LoadConfig(flags.envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	applyFlags(config, flags, set)
	if err := utils.ValidateConfig(config); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if flags.inDir == "" && !flags.serve {
		fmt.Fprint(os.Stderr, usage)
		log.Fatal("IN_DIR is required unless -serve is given")
	}

	var database *db.Database
	if config.Database.Path != "" {
		database, err = db.NewDatabase(config.Database.Path, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to open conversion ledger")
		}
		defer database.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForShutdown(cancel, log)

	if flags.inDir != "" {
		var ledger convert.Ledger
		if database != nil {
			ledger = database
		}

		converter := convert.NewConverter(convert.Config{
			InDir:   flags.inDir,
			OutDir:  flags.outDir,
			Options: config.Render.Options(),
		}, ledger, log)

		summary, err := converter.Run(ctx)
		if err != nil {
			log.WithError(err).Fatal("Conversion failed")
		}
		if summary.Failed > 0 {
			log.WithField("failed", summary.Failed).Warn("Some files could not be converted")
		}
	}

	if flags.serve {
		var ledger api.Ledger
		if database != nil {
			ledger = database
		}
		startEchoServer(ctx, config, ledger, log)
	}
}

// parseFlags parses the command line. IN_DIR may appear before, between or
// after the flags. The returned set holds the names of flags given explicitly.
func parseFlags(args []string, output io.Writer) (*cliFlags, map[string]bool, error) {
	flags := &cliFlags{}

	fs := flag.NewFlagSet("thread2text", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&flags.outDir, "o", "", "output dir (emptied before each run, default: IN_DIR + \"_out\")")
	fs.IntVar(&flags.indent, "indent", 6, "indent level")
	fs.BoolVar(&flags.parsable, "parsable-out", false, "generate parsable output")
	fs.BoolVar(&flags.parsable, "p", false, "shorthand for -parsable-out")
	fs.BoolVar(&flags.shortenURLs, "shorten-urls", false, "add IDs instead of full URLs")
	fs.BoolVar(&flags.shortenURLs, "s", false, "shorthand for -shorten-urls")
	fs.BoolVar(&flags.timestamps, "timestamps", false, "add timestamps instead of ages")
	fs.BoolVar(&flags.timestamps, "t", false, "shorthand for -timestamps")
	fs.StringVar(&flags.dbPath, "db", "", "path of the SQLite conversion ledger (default: DATABASE_PATH, disabled when empty)")
	fs.BoolVar(&flags.serve, "serve", false, "serve the HTTP API after converting")
	fs.StringVar(&flags.envPath, "env", ".env", "Path to .env file")
	fs.StringVar(&flags.logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, nil, err
		}
		// everything after a "--" terminator is positional
		if consumedTerminator(fs, args[:len(args)-fs.NArg()]) {
			positional = append(positional, fs.Args()...)
			break
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if len(positional) > 1 {
		err := fmt.Errorf("expected one input dir, got %d", len(positional))
		fmt.Fprintln(output, err)
		fs.Usage()
		return nil, nil, err
	}
	if len(positional) == 1 {
		flags.inDir = positional[0]
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	return flags, set, nil
}

// consumedTerminator reports whether the parsed arguments ended with a "--"
// terminator rather than with "--" given as the value of a flag like -o
func consumedTerminator(fs *flag.FlagSet, consumed []string) bool {
	n := len(consumed)
	if n == 0 || consumed[n-1] != "--" {
		return false
	}
	if n == 1 {
		return true
	}

	prev := consumed[n-2]
	if !strings.HasPrefix(prev, "-") || strings.Contains(prev, "=") {
		return true
	}
	f := fs.Lookup(strings.TrimLeft(prev, "-"))
	if f == nil {
		return true
	}
	if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
		return true
	}
	return false
}

// applyFlags lets explicitly given flags override the environment
func applyFlags(config *utils.Config, flags *cliFlags, set map[string]bool) {
	if set["indent"] {
		config.Render.IndentWidth = flags.indent
	}
	if set["parsable-out"] || set["p"] {
		config.Render.Parsable = flags.parsable
	}
	if set["shorten-urls"] || set["s"] {
		config.Render.ShortenURLs = flags.shortenURLs
	}
	if set["timestamps"] || set["t"] {
		config.Render.Timestamps = flags.timestamps
	}
	if set["db"] {
		config.Database.Path = flags.dbPath
	}
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// startEchoServer runs the HTTP API until ctx is canceled
func startEchoServer(ctx context.Context, config *utils.Config, ledger api.Ledger, log *logrus.Logger) {
	e := api.NewServer(ledger, config.Render.Options(), config.Server.MaxRequestsPerMinute, log)

	go func() {
		serverAddr := fmt.Sprintf(":%d", config.Server.Port)
		log.WithField("port", config.Server.Port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// wait for context cancellation to shut down server
	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown cancels the run on SIGINT or SIGTERM
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()
}
