// Command nt4probe connects to an NT4 server, subscribes to a list of
// topic names (matched exactly, not as prefixes), and logs every status
// tick and value update it receives.
//
// Usage:
//
//	nt4probe -mode team -team 1234 -topics /SmartDashboard
//	nt4probe -mode custom -custom 10.0.0.2 -topics /SmartDashboard
//	nt4probe -mode localhost -topics /SmartDashboard
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"nt4client/internal/address"
	"nt4client/internal/config"
	"nt4client/internal/nt4"
	"nt4client/internal/supervisor"
)

// modeFromFlag parses the -mode flag against the persisted default, used
// when the flag is left unset.
func modeFromFlag(s string, fallback address.Mode) (address.Mode, error) {
	switch strings.ToLower(s) {
	case "":
		return fallback, nil
	case "localhost":
		return address.ModeLocalhost, nil
	case "team":
		return address.ModeTeamNumber, nil
	case "mdns":
		return address.ModeMDNS, nil
	case "custom":
		return address.ModeCustom, nil
	default:
		return 0, fmt.Errorf("unknown -mode %q (want localhost, team, mdns, or custom)", s)
	}
}

func main() {
	cfg := config.Load()

	mode := flag.String("mode", "", "server location mode: localhost, team, mdns, or custom (default: last used)")
	team := flag.Int("team", cfg.LastTeamNumber, "FRC team number, for -mode team or -mode mdns")
	custom := flag.String("custom", cfg.LastCustomHost, "literal host, for -mode custom")
	port := flag.Int("port", 5810, "NT4 server port")
	name := flag.String("name", cfg.ClientName, "client name presented in the connection handshake")
	topicsFlag := flag.String("topics", "", "comma-separated list of exact topic names to subscribe to")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	save := flag.Bool("save", true, "persist these settings as the defaults for next time")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *topicsFlag == "" {
		fmt.Fprintln(os.Stderr, "Usage: nt4probe -mode team -team 1234 -topics /SmartDashboard,/FMSInfo")
		flag.PrintDefaults()
		os.Exit(1)
	}
	topics := strings.Split(*topicsFlag, ",")

	resolveMode, err := modeFromFlag(*mode, cfg.LastMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := address.Resolve(ctx, address.Config{
		Mode:       resolveMode,
		TeamNumber: *team,
		CustomHost: *custom,
	})
	if err != nil {
		logger.Error("failed to resolve server address", "mode", *mode, "err", err)
		os.Exit(1)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(*port))

	if *save {
		cfg.ClientName = *name
		cfg.LastMode = resolveMode
		cfg.LastTeamNumber = *team
		cfg.LastCustomHost = *custom
		cfg.Servers = addServerEntry(cfg.Servers, *name, addr)
		if err := config.Save(cfg); err != nil {
			logger.Warn("failed to save config", "err", err)
		}
	}

	sup := supervisor.New(logger)
	sup.SetServerAddress(addr, nt4.Config{
		Name: *name,
		OnAnnounce: func(t nt4.Topic) {
			logger.Info("topic announced", "name", t.Name, "id", t.ID, "type", t.Type.String())
		},
		OnUnannounce: func(t nt4.Topic) {
			logger.Info("topic unannounced", "name", t.Name, "id", t.ID)
		},
	})
	defer sup.Client().Close()

	sink := make(chan supervisor.Update, 64)
	go func() {
		if err := sup.Run(ctx, topics, sink); err != nil {
			logger.Debug("supervisor run exited", "err", err)
		}
		close(sink)
	}()

	for update := range sink {
		switch u := update.(type) {
		case supervisor.StatusUpdate:
			logger.Debug("status", "session", u.SessionID, "addr", u.Address, "connected", u.Connected, "latency", u.Latency)
		case supervisor.ValueUpdate:
			logger.Info("value", "topic", u.Topic, "value", u.Value, "timestamp", u.Timestamp)
		}
	}
}

// addServerEntry upserts name/addr into servers, keeping the list free of
// duplicate addresses.
func addServerEntry(servers []config.ServerEntry, name, addr string) []config.ServerEntry {
	for i, s := range servers {
		if s.Addr == addr {
			servers[i].Name = name
			return servers
		}
	}
	return append(servers, config.ServerEntry{Name: name, Addr: addr})
}
