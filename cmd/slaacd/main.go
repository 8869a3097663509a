// slaacd tracks the SLAAC addresses of DHCP clients and publishes the
// confirmed ones in DNS.
//
// It reads DHCP leases, derives each client's EUI-64 address on every
// advertised prefix, confirms it with ICMPv6 echo probes and serves the
// result over DNS and an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/psaab/slaacd/pkg/config"
	"github.com/psaab/slaacd/pkg/daemon"
	"github.com/psaab/slaacd/pkg/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "check" {
		os.Exit(check(os.Args[2:]))
	}

	configFile := flag.String("config", daemon.DefaultConfigFile, "configuration file path")
	apiAddr := flag.String("api-addr", "", "HTTP API listen address (overrides system api listen)")
	noRadvd := flag.Bool("no-radvd", false, "do not manage radvd")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	syslog := logging.NewSyslogSlogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	defer syslog.Close()
	logger := slog.New(syslog)
	slog.SetDefault(logger)

	d := daemon.New(daemon.Options{
		ConfigFile: *configFile,
		APIAddr:    *apiAddr,
		NoRadvd:    *noRadvd,
		Syslog:     syslog,
		Logger:     logger,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "slaacd: %v\n", err)
		os.Exit(1)
	}
}

// check parses the configuration and prints its warnings without starting
// the daemon.
func check(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configFile := fs.String("config", daemon.DefaultConfigFile, "configuration file path")
	fs.Parse(args)

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *configFile, err)
		return 1
	}
	for _, w := range cfg.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("%s: configuration check succeeds (%d router-advertisement interfaces)\n",
		*configFile, len(cfg.Protocols.RouterAdvertisement))
	return 0
}
