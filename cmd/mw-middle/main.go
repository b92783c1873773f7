// Command mw-middle runs one Middle hop: it accepts framed connections
// from the Entry (or a previous Middle) and relays each reassembled
// message onward to the next hop, routing replies back the way they
// came.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getlantern/multiwisp/internal/config"
	"github.com/getlantern/multiwisp/internal/profile"
	"github.com/getlantern/multiwisp/internal/relay"
	"github.com/getlantern/multiwisp/internal/runlog"
)

func main() {
	listenPort := flag.Int("listen-port", 0, "Listen port for the upstream hop")
	nextHop := flag.String("next-hop", "", "Address of the next hop (another middle, or the exit node)")
	flag.Parse()

	if *listenPort == 0 {
		log.Fatal("mw-middle: --listen-port is required")
	}
	if *nextHop == "" {
		log.Fatal("mw-middle: --next-hop is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mw-middle: loading config: %v", err)
	}

	catalog, err := profile.Load()
	if err != nil {
		log.Fatalf("mw-middle: loading profile catalog: %v", err)
	}

	rl, err := runlog.Open(cfg.OutDir, cfg.RunID)
	if err != nil {
		log.Fatalf("mw-middle: opening run log: %v", err)
	}
	defer rl.Close()

	node, err := relay.New(relay.Config{
		Role:       relay.Middle,
		ListenAddr: net.JoinHostPort("", strconv.Itoa(*listenPort)),
		NextHops: []relay.NextHop{
			{PathID: 1, Address: *nextHop},
		},
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
		log.Fatalf("mw-middle: creating node: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("mw-middle: shutting down")
		node.Close()
	}()

	log.Printf("mw-middle: listening on :%d, next hop %s", *listenPort, *nextHop)
	if err := node.ListenAndServe(); err != nil {
		log.Fatalf("mw-middle: %v", err)
	}
}
