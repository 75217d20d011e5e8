// Subway - reverse tunnel relay
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subwaynet/subway/internal/client"
	"github.com/subwaynet/subway/internal/server"
	"github.com/subwaynet/subway/pkg/logger"
)

const version = "subway v0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <server|client|version> [flags]\n", os.Args[0])
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cfgFile := fs.String("config", "server.json", "Path to configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	_ = fs.Parse(args)

	cfg, err := loadServerConfig(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetDebug(cfg.Log.Debug || *debug)
	logger.SetFile(cfg.Log.File)

	srv := server.New(&cfg.Config)
	if cfg.Metrics.Enabled {
		srv.EnablePrometheus(cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.HTTP.Listen != "" {
		go srv.AdminServe(ctx)
	}
	go srv.Housekeeping(ctx)
	go srv.ReportLoop(ctx, 60*time.Second)
	go watchConfig(ctx, *cfgFile, srv)

	go func() {
		if err := srv.ProxyServe(ctx); err != nil {
			logger.Error("proxy: %v", err)
			cancel()
		}
	}()
	go func() {
		if err := srv.AcceptLoop(ctx); err != nil {
			logger.Error("accept loop: %v", err)
			cancel()
		}
	}()

	select {
	case <-sigCh:
		logger.Info("shutting down...")
	case <-ctx.Done():
	}
	cancel()

	// Give in-flight teardown a moment.
	time.Sleep(2 * time.Second)
	logger.Info("shutdown complete")
}

func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	cfgFile := fs.String("config", "", "Path to configuration file (optional)")
	serverHost := fs.String("host", "", "Relay server host")
	serverPort := fs.Int("port", 0, "Relay server control port")
	localPort := fs.Int("local", 0, "Local service port to expose")
	subdomain := fs.String("subdomain", "", "Requested subdomain (server picks one when empty)")
	reconnect := fs.Bool("reconnect", false, "Re-dial the server when the session drops")
	debug := fs.Bool("debug", false, "Enable debug logging")
	_ = fs.Parse(args)

	cfg, err := loadClientConfig(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Flags override the file.
	if *serverHost != "" {
		cfg.Server.Host = *serverHost
	}
	if *serverPort != 0 {
		cfg.Server.Port = *serverPort
	}
	if *localPort != 0 {
		cfg.Local.Port = *localPort
	}
	if *subdomain != "" {
		cfg.Subdomain = *subdomain
	}
	if *reconnect {
		cfg.Reconnect = true
	}
	if err := validateClientConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.SetDebug(*debug)

	agent, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build agent: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()
	}()

	if err := agent.Run(ctx); err != nil {
		logger.Error("tunnel: %v", err)
		os.Exit(1)
	}
}
