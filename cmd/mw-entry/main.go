// Command mw-entry runs the Entry node: it accepts plain client
// connections and fans each one out across the configured middle-hop
// paths.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getlantern/multiwisp/internal/config"
	"github.com/getlantern/multiwisp/internal/profile"
	"github.com/getlantern/multiwisp/internal/relay"
	"github.com/getlantern/multiwisp/internal/runlog"
)

func main() {
	listenPort := flag.Int("listen-port", config.DefaultEntryPort, "Listen port for client connections")
	middlePorts := flag.String("middle-ports", "", "Comma-separated middle hop ports, overrides the resolved config's topology")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mw-entry: loading config: %v", err)
	}

	ports := cfg.MiddlePorts
	if *middlePorts != "" {
		ports = parsePorts(*middlePorts)
	}

	catalog, err := profile.Load()
	if err != nil {
		log.Fatalf("mw-entry: loading profile catalog: %v", err)
	}

	nextHops := make([]relay.NextHop, 0, len(ports))
	for i, p := range ports {
		nextHops = append(nextHops, relay.NextHop{
			PathID:  uint32(i + 1),
			Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(p)),
		})
	}

	rl, err := runlog.Open(cfg.OutDir, cfg.RunID)
	if err != nil {
		log.Fatalf("mw-entry: opening run log: %v", err)
	}
	defer rl.Close()

	node, err := relay.New(relay.Config{
		Role:           relay.Entry,
		ListenAddr:     net.JoinHostPort("", strconv.Itoa(*listenPort)),
		NextHops:       nextHops,
		Seed:           cfg.Seed,
		RedundancyK:    cfg.RedundancyK,
		BatchSize:      cfg.BatchSize,
		WindowSize:     time.Duration(cfg.WindowSizeSec) * time.Second,
		LinkConfig:     cfg.LinkConfig(),
		Catalog:        catalog,
		ShapeParams:    cfg.ShapeParams(),
		StrategyConfig: cfg.StrategyConfig(),
		RunLog:         rl,
		SessionID:      1,
	})
	if err != nil {
		log.Fatalf("mw-entry: creating node: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("mw-entry: shutting down")
		node.Close()
	}()

	log.Printf("mw-entry: listening on :%d, middle hops %v", *listenPort, ports)
	if err := node.ListenAndServe(); err != nil {
		log.Fatalf("mw-entry: %v", err)
	}
}

func parsePorts(s string) []int {
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			log.Fatalf("mw-entry: invalid port %q in --middle-ports", p)
		}
		ports = append(ports, n)
	}
	return ports
}
