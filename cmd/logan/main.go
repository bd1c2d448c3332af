package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	envFile     = flag.String("env", ".env", "Optional dotenv file loaded before the config")
	showVersion = flag.Bool("version", false, "Print version and exit")
	version     = "dev" // Set via ldflags: -X main.version=v1.0.0
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"ingest", "parse access log files into the configured sink", runIngest},
	{"report", "print a report: " + reportNames(), runReport},
	{"query", "list stored rows matching filters", runQuery},
	{"serve", "serve reports as a JSON API", runServe},
	{"watch", "ingest files dropped into a spool directory", runWatch},
}

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("logan version", version)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, cancel := signalContext()
		err := c.run(ctx, &app{cfg: cfg, logger: logger}, args)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logan %s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: logan [flags] <command> [command flags] [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
