// File: cmd/mcpserver/main.go
// Standalone entry for the page tool server. The main binary's serve-mcp
// subcommand runs the same server; this one exists for clients that want a
// dedicated executable to spawn.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"pagepilot/internal/config"
	"pagepilot/internal/mcp"
	"pagepilot/internal/observability"
)

// newViper builds the server's configuration source: defaults plus
// PAGEPILOT_* environment overrides, with nested keys mapped through
// underscores (PAGEPILOT_BROWSER_HEADLESS -> browser.headless).
func newViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("PAGEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfigFromViper(newViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitializeLogger(cfg.Logger())
	defer observability.Sync()

	srv := mcp.NewServer(cfg.Browser(), cfg.Network(), observability.GetLogger())
	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "server stopped: %v\n", err)
		os.Exit(1)
	}
}
