// Command mw-launcher starts one full tunnel topology — echo server,
// exit, middles, entry, in dependency order — as child processes, and
// tears them all down on a shutdown signal or when the entry process
// exits. Exits of the other children are not watched.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getlantern/multiwisp/internal/config"
	"github.com/getlantern/multiwisp/internal/runlog"
)

func main() {
	listenPort := flag.Int("listen-port", config.DefaultEntryPort, "Entry's client-facing listen port")
	middlePortsFlag := flag.String("middle-ports", "", "Comma-separated middle hop ports")
	exitPort := flag.Int("exit-port", config.DefaultExitPort, "Exit node's listen port")
	serverPort := flag.Int("server-port", config.DefaultServerPort, "Echo server's listen port")
	runID := flag.String("run-id", "", "Run identifier, overrides RUN_ID")
	outDir := flag.String("out-dir", "", "Output directory, overrides OUT_DIR")
	flag.Parse()

	if *runID != "" {
		os.Setenv("RUN_ID", *runID)
	}
	if *outDir != "" {
		os.Setenv("OUT_DIR", *outDir)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mw-launcher: loading config: %v", err)
	}

	middlePorts := cfg.MiddlePorts
	if *middlePortsFlag != "" {
		middlePorts = parsePorts(*middlePortsFlag)
	}

	writer, err := runlog.Open(cfg.OutDir, cfg.RunID)
	if err != nil {
		log.Fatalf("mw-launcher: opening run output dir: %v", err)
	}
	defer writer.Close()

	if err := writer.WriteConfigDump(cfg); err != nil {
		log.Fatalf("mw-launcher: writing config dump: %v", err)
	}
	if err := writer.WriteMeta(runlog.Meta{
		RunID:               cfg.RunID,
		Seed:                cfg.Seed,
		StartedAt:           time.Now(),
		RedundancySemantics: "inclusive",
		RedundantAckScope:   "per_path",
		ExitGroupIDPolicy:   "preserve",
	}); err != nil {
		log.Fatalf("mw-launcher: writing run meta: %v", err)
	}

	procs := []*exec.Cmd{
		spawn("mw-server", "--listen-port", strconv.Itoa(*serverPort)),
	}
	waitForPort(*serverPort)

	procs = append(procs, spawn("mw-exit",
		"--listen-port", strconv.Itoa(*exitPort),
		"--server-port", strconv.Itoa(*serverPort)))
	waitForPort(*exitPort)

	hopAddr := fmt.Sprintf("127.0.0.1:%d", *exitPort)
	for i := len(middlePorts) - 1; i >= 0; i-- {
		port := middlePorts[i]
		procs = append(procs, spawn("mw-middle",
			"--listen-port", strconv.Itoa(port),
			"--next-hop", hopAddr))
		waitForPort(port)
		hopAddr = fmt.Sprintf("127.0.0.1:%d", port)
	}

	procs = append(procs, spawn("mw-entry",
		"--listen-port", strconv.Itoa(*listenPort),
		"--middle-ports", joinPorts(middlePorts)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- procs[len(procs)-1].Wait()
	}()

	select {
	case <-sigCh:
		log.Println("mw-launcher: shutting down")
	case err := <-done:
		if err != nil {
			log.Printf("mw-launcher: entry process exited: %v", err)
		}
	}

	stopAll(procs)
}

// spawn starts a sibling binary (expected on PATH, as installed
// alongside mw-launcher) with the given args, inheriting this
// process's environment so behavior knobs like SEED and
// OBFUSCATION_LEVEL reach every child uniformly.
func spawn(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatalf("mw-launcher: starting %s: %v", name, err)
	}
	log.Printf("mw-launcher: started %s (pid %d)", name, cmd.Process.Pid)
	return cmd
}

// waitForPort blocks until a just-started child's listener accepts
// connections, so the next hop in the chain can dial it immediately.
func waitForPort(port int) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Printf("mw-launcher: timed out waiting for %s to come up", addr)
}

func stopAll(procs []*exec.Cmd) {
	for i := len(procs) - 1; i >= 0; i-- {
		p := procs[i]
		if p.Process == nil {
			continue
		}
		if err := p.Process.Signal(syscall.SIGTERM); err != nil {
			continue
		}
	}
	for _, p := range procs {
		p.Wait()
	}
}

func parsePorts(s string) []int {
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			log.Fatalf("mw-launcher: invalid port %q", p)
		}
		ports = append(ports, n)
	}
	return ports
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
