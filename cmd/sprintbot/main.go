// sprintbot - group-chat writing sprint bot
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/sprintbot/internal/bot"
	"github.com/ernie/sprintbot/internal/config"
	"github.com/ernie/sprintbot/internal/identity"
	"github.com/ernie/sprintbot/internal/sprint"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
	"github.com/klauspost/compress/gzip"
	flag "github.com/spf13/pflag"
)

var version = "dev"

const defaultConfigPath = "/etc/sprintbot/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "export":
		cmdExport(os.Args[2:])
	case "version":
		fmt.Printf("sprintbot %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: sprintbot <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                         Start the bot")
	fmt.Println("  stats <room> [--days N]       Show a room's leaderboard (default: 7 days)")
	fmt.Println("  export [--output FILE]        Dump daily stats as gzipped JSON")
	fmt.Println("  version                       Show version")
	fmt.Println("  help                          Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/sprintbot/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sprintbot serve --config ./config.yml")
	fmt.Println("  sprintbot stats room-12345 --days 30")
	fmt.Println("  sprintbot export --output stats.json.gz")
}

// loadConfig resolves the config path and loads it
func loadConfig(configPath string) *config.Config {
	cfgPath := configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// cmdServe starts the bot
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	log.Printf("Sprintbot %s starting...", version)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to resolve timezone: %v", err)
	}

	// Initialize storage
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Pick the chat transport
	var trans transport.Transport
	switch cfg.Transport.Mode {
	case "nats":
		trans = transport.NewNATSBridge(cfg.Transport.NATSURL, cfg.Transport.Embedded)
	case "gateway":
		if cfg.Transport.GatewayURL == "" {
			log.Fatalf("transport.gateway_url is required in gateway mode")
		}
		trans = transport.NewGateway(cfg.Transport.GatewayURL, cfg.Transport.GatewaySecret, cfg.Transport.TokenDuration)
	default:
		log.Fatalf("Unknown transport mode %q (use nats or gateway)", cfg.Transport.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the core
	tracker := sprint.NewTracker(store, trans, loc, cfg.Bot.StorageTimeout)
	resolver := identity.NewResolver(store, trans)
	dispatcher := bot.NewDispatcher(cfg, store, tracker, resolver, trans, loc)
	scheduler := bot.NewScheduler(store, tracker, trans, cfg.Bot.SweepInterval)

	// Rehydrate sprints that survived a restart, then open the transport
	if err := tracker.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore sprint snapshots: %v", err)
	}

	if err := trans.Start(ctx, dispatcher.HandleMessage); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}
	scheduler.Start(ctx)
	log.Printf("Sprintbot running (transport: %s, sweep every %v)", cfg.Transport.Mode, cfg.Bot.SweepInterval)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	// Sequential shutdown
	scheduler.Stop()
	trans.Stop()
	tracker.Stop()
	cancel()
	log.Println("Shutdown complete")
}

// cmdStats prints a room's windowed leaderboard
func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	days := fs.Int("days", 7, "window size in days")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: sprintbot stats <room> [--days N]\n")
		os.Exit(1)
	}
	roomID := remaining[0]

	cfg := loadConfig(*configPath)
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	since := time.Now().In(loc).AddDate(0, 0, -(*days - 1)).Format("2006-01-02")
	entries, err := store.AggregateWindow(context.Background(), roomID, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPARTICIPANT\tWORDS")
	fmt.Fprintln(w, "----\t-----------\t-----")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, e.DisplayName, e.Words)
	}
	w.Flush()
}

// cmdExport writes all daily stats as gzipped JSON
func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	output := fs.String("output", "sprintbot-stats.json.gz", "output file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	rooms, err := store.AllRooms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	total := 0
	for _, roomID := range rooms {
		stats, err := store.AllDailyStats(ctx, roomID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, st := range stats {
			if err := enc.Encode(st); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			total++
		}
	}
	if err := gz.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Exported %d stat rows to %s\n", total, *output)
}
