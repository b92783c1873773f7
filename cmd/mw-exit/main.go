// Command mw-exit runs the Exit node: it accepts framed connections
// from the last Middle hop, turns each reassembled message around
// against the upstream echo server, and replies back upstream.
package main

import (
	"context"
	"flag"
	"io"
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
	listenPort := flag.Int("listen-port", config.DefaultExitPort, "Listen port for the upstream hop")
	serverPort := flag.Int("server-port", config.DefaultServerPort, "Port of the upstream echo server")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mw-exit: loading config: %v", err)
	}

	catalog, err := profile.Load()
	if err != nil {
		log.Fatalf("mw-exit: loading profile catalog: %v", err)
	}

	serverAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(*serverPort))

	rl, err := runlog.Open(cfg.OutDir, cfg.RunID)
	if err != nil {
		log.Fatalf("mw-exit: opening run log: %v", err)
	}
	defer rl.Close()

	node, err := relay.New(relay.Config{
		Role:           relay.Exit,
		ListenAddr:     net.JoinHostPort("", strconv.Itoa(*listenPort)),
		Seed:           cfg.Seed,
		RedundancyK:    cfg.RedundancyK,
		BatchSize:      cfg.BatchSize,
		WindowSize:     time.Duration(cfg.WindowSizeSec) * time.Second,
		LinkConfig:     cfg.LinkConfig(),
		Catalog:        catalog,
		ShapeParams:    cfg.ShapeParams(),
		StrategyConfig: cfg.StrategyConfig(),
		ExitEcho:       echoUpstream(serverAddr),
		RunLog:         rl,
		SessionID:      1,
	})
	if err != nil {
		log.Fatalf("mw-exit: creating node: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("mw-exit: shutting down")
		node.Close()
	}()

	log.Printf("mw-exit: listening on :%d, echoing via %s", *listenPort, serverAddr)
	if err := node.ListenAndServe(); err != nil {
		log.Fatalf("mw-exit: %v", err)
	}
}

// echoUpstream dials the echo server fresh for each message: writes
// the payload, then reads back exactly as many bytes as it sent,
// since the server's echo is byte-for-byte.
func echoUpstream(addr string) func(ctx context.Context, payload []byte) ([]byte, error) {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		if _, err := conn.Write(payload); err != nil {
			return nil, err
		}

		reply := make([]byte, len(payload))
		if _, err := io.ReadFull(conn, reply); err != nil {
			return nil, err
		}
		return reply, nil
	}
}
