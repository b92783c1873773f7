// Command mw-monitor is a transparent byte-for-byte tap: it forwards a
// TCP connection to a target unmodified, while logging the wire-frame
// metadata it observes passing through as JSON lines, the way a
// passive on-path observer would see it.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/getlantern/multiwisp/internal/frame"
)

func main() {
	listenPort := flag.Int("listen-port", 0, "Listen port for the tap")
	targetAddr := flag.String("target", "", "Address to forward to")
	flag.Parse()

	if *listenPort == 0 || *targetAddr == "" {
		log.Fatal("mw-monitor: --listen-port and --target are required")
	}

	addr := net.JoinHostPort("", strconv.Itoa(*listenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("mw-monitor: binding %s: %v", addr, err)
	}
	log.Printf("mw-monitor: tapping %s -> %s", addr, *targetAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatalf("mw-monitor: accept: %v", err)
		}
		go handle(conn, *targetAddr)
	}
}

func handle(conn net.Conn, targetAddr string) {
	defer conn.Close()
	target, err := net.DialTimeout("tcp", targetAddr, 10*time.Second)
	if err != nil {
		log.Printf("mw-monitor: dialing target %s: %v", targetAddr, err)
		return
	}
	defer target.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		proxy(target, conn, "forward")
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		proxy(conn, target, "reverse")
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	wg.Wait()
}

// proxy copies src to dst unmodified while an observer decodes the
// same bytes as they pass, logging frame metadata without altering
// anything written to dst.
func proxy(dst io.Writer, src io.Reader, direction string) {
	obs := &frameObserver{direction: direction, enc: json.NewEncoder(os.Stdout)}
	if _, err := io.Copy(io.MultiWriter(dst, obs), src); err != nil {
		log.Printf("mw-monitor: %s copy: %v", direction, err)
	}
}

// frameObserver is a write-only io.Writer that never rejects or
// mutates a byte: frame decoding is purely for the JSON-line log. A
// partial frame waits for more bytes; a malformed frame stops further
// decoding on this connection. Neither affects what's forwarded.
type frameObserver struct {
	direction string
	buf       []byte
	enc       *json.Encoder
	done      bool
}

type frameLogEntry struct {
	Direction  string `json:"direction"`
	ProtoID    uint8  `json:"proto_id"`
	Flags      uint8  `json:"flags"`
	ExtraLen   int    `json:"extra_len"`
	FragID     uint16 `json:"frag_id"`
	FragTotal  uint16 `json:"frag_total"`
	PayloadLen int    `json:"payload_len"`
}

func (o *frameObserver) Write(p []byte) (int, error) {
	if o.done {
		return len(p), nil
	}
	o.buf = append(o.buf, p...)

	for {
		f, n, err := frame.Decode(o.buf)
		if err == frame.ErrNeedMore {
			break
		}
		if err != nil {
			o.done = true
			break
		}
		o.enc.Encode(frameLogEntry{
			Direction:  o.direction,
			ProtoID:    f.ProtoID,
			Flags:      f.Flags,
			ExtraLen:   len(f.ExtraHdr),
			FragID:     f.FragID,
			FragTotal:  f.FragTotal,
			PayloadLen: int(f.PayloadLen()),
		})
		o.buf = o.buf[n:]
	}
	return len(p), nil
}
