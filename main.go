package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/app"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("app")

var (
	showHelp    = flag.Bool("h", false, "Show help")
	version     = flag.Bool("version", false, "Show version")
	openBrowser = flag.Bool("open", false, "Open the call viewer in the browser (peer)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopcall v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command, dir := args[0], args[1]
	switch command {
	case "peer":
		runCLI(dir, false)
	case "relay":
		runCLI(dir, true)
	case "init":
		runInit(dir)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func peerDir(arg string) string {
	absDir, err := filepath.Abs(arg)
	if err != nil {
		fatal("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		fatal("Cannot create peer directory: %v", err)
	}
	return absDir
}

func runCLI(dirArg string, relay bool) {
	absDir := peerDir(dirArg)
	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config: %s\n", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg, relay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{PeerDir: absDir, CfgPath: cfgPath, Cfg: cfg}
	mode := "peer"
	if relay {
		mode = "relay"
		err = app.RunRelay(ctx, opts)
	} else {
		if *openBrowser && cfg.Viewer.HTTPAddr != "" {
			go openViewer(cfg.Viewer.HTTPAddr)
		}
		err = app.Run(ctx, opts)
	}
	if err != nil {
		fatal("goopcall %s failed: %v", mode, err)
	}
}

func openViewer(httpAddr string) {
	_, url, tcpAddr := app.NormalizeLocalViewer(httpAddr)
	if err := app.WaitTCP(tcpAddr, util.DefaultConnectTimeout); err != nil {
		log.Warnw("viewer not reachable", "err", err)
		return
	}
	if err := util.OpenURL(url); err != nil {
		log.Warnw("open browser failed", "url", url, "err", err)
	}
}

func runInit(dirArg string) {
	absDir := peerDir(dirArg)
	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, err := config.LoadPartial(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	cfg = app.PromptInteractive(os.Stdin, os.Stdout, absDir, cfgPath, cfg)
	if err := config.Save(cfgPath, cfg); err != nil {
		fatal("Failed to save config: %v", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func showUsage() {
	fmt.Println("goopcall - one-to-one voice and video calls")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopcall peer <directory>    Run a calling client")
	fmt.Println("  goopcall relay <directory>   Host a relay that clients reach over ws")
	fmt.Println("  goopcall init <directory>    Write a client config interactively")
	fmt.Println()
	fmt.Println("The directory holds goopcall.json; a default one is created if missing.")
	fmt.Println("Two clients on one host share a relay by pointing relay.sqlite_path at")
	fmt.Println("the same file (the default, ../relay.db, does this for sibling folders).")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -open     Open the call viewer once it is listening (peer)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopcall peer ./peers/alice")
	fmt.Println("  goopcall peer ./peers/bob")
	fmt.Println("  goopcall relay ./relay")
}

func printBanner(dir, cfgPath string, cfg config.Config, relay bool) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    goopcall runner                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Directory:      %s\n", dir)
	fmt.Printf("Config File:    %s\n", cfgPath)

	if relay {
		fmt.Printf("Relay:          ws://%s:%d/ws (%s)\n", cfg.Server.Bind, cfg.Server.Port, cfg.Server.Backend)
	} else {
		if cfg.Identity.ID != "" {
			fmt.Printf("Identity:       %s\n", cfg.Identity.ID)
		} else {
			fmt.Println("Identity:       (none, calling disabled)")
		}
		fmt.Printf("Relay Backend:  %s\n", cfg.Relay.Backend)
		if cfg.Viewer.HTTPAddr != "" {
			_, url, _ := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
			fmt.Printf("Call Viewer:    %s\n", url)
		}
	}
	fmt.Println()
	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
