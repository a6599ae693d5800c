// ABOUTME: Entry point for the piertotum broker server
// ABOUTME: Coordinates coding-agent workers over the LAN message broker

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/skvil/piertotum/internal/broker"
	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/config"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _         _ _             _           _        _
  ___ | | ____ _(_) |      _ __ (_) ___ _ __| |_ ___ | |_ _   _ _ __ ___
 / __|| |/ / _' | | |_____| '_ \| |/ _ \ '__| __/ _ \| __| | | | '_ ' _ \
 \__ \|   < (_| | | |_____| |_) | |  __/ |  | || (_) | |_| |_| | | | | | |
 |___/|_|\_\__, |_|_|     | .__/|_|\___|_|   \__\___/ \__|\__,_|_| |_| |_|
              |_|         |_|
`

// getConfigPath returns the path to the broker config file.
// Priority: SP_CONFIG env var > XDG_CONFIG_HOME/piertotum/broker.yaml > ~/.config/piertotum/broker.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "broker.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "piertotum", "broker.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "agents":
		err = runAgents(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		// A bare port number means "serve on that port".
		if isPort(command) {
			err = runServe(ctx, []string{command})
		} else {
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
			printUsage()
			os.Exit(1)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: piertotum-broker [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [port]   Start the broker (default)")
	fmt.Println("  health         Check broker health")
	fmt.Println("  status         Show broker status")
	fmt.Println("  agents         List registered agents")
}

func isPort(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func runServe(ctx context.Context, args []string) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	positionalPort := ""
	if len(args) > 0 {
		positionalPort = args[0]
	}
	if err := cfg.ApplyOverrides(positionalPort); err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Port:   %d\n", cfg.Server.Port)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Println(cfg.Tailscale.Hostname)
	}
	fmt.Println()

	logger.Info("starting piertotum broker", "config", configPath, "port", cfg.Server.Port)

	b := broker.New(cfg, logger)
	return b.Run(ctx)
}

// localClient builds a client for the locally running broker.
func localClient() *client.Client {
	port := config.DefaultPort
	if envPort := os.Getenv("BROKER_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	return client.New(fmt.Sprintf("http://localhost:%d", port))
}

func runHealth(ctx context.Context) error {
	if err := localClient().Health(ctx); err != nil {
		return fmt.Errorf("broker not healthy: %w", err)
	}
	color.Green("broker is healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	st, err := localClient().Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("broker: %s\n", st.Broker)
	fmt.Printf("uptime: %s\n", st.Uptime)
	fmt.Printf("agents: %d\n", st.TotalAgents)
	fmt.Printf("context keys: %d\n", st.TotalContextKeys)
	for _, a := range st.Agents {
		fmt.Printf("  %s (%s) unread=%d\n", color.CyanString(a.ID), a.Name, a.UnreadMessages)
	}
	return nil
}

func runAgents(ctx context.Context) error {
	agents, err := localClient().ListAgents(ctx)
	if err != nil {
		return err
	}

	if len(agents) == 0 {
		color.Yellow("no agents registered")
		return nil
	}
	for _, a := range agents {
		fmt.Printf("%s  %s  project=%s  last_seen=%s\n",
			color.CyanString(a.ID), a.Name, a.Project, a.LastSeen.Format("15:04:05"))
	}
	return nil
}
