// Package relay composes the wire-format, obfuscation, shaping,
// scheduling and strategy packages into one forwarding node: Entry,
// Middle or Exit. The three roles share the same accept/forward
// skeleton and differ in where inbound data originates and where a
// reassembled reply is sent back.
//
// Entry's inbound side is a plain client TCP connection; every other
// hop's inbound side is itself framed (a previous hop's outbound
// Link), so Middle and Exit wrap each accepted connection as a Link
// too. A message flows client -> Entry -> Middle(s) -> Exit, where the
// Exit turns it around (echoing upstream) and the reply flows back
// exactly the way it came: Middle replies on the same upstream Link
// the request arrived on, Entry writes the reply directly to the
// originating client connection.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getlantern/golog"
	"golang.org/x/net/netutil"

	"github.com/getlantern/multiwisp/internal/frame"
	"github.com/getlantern/multiwisp/internal/obfuscate"
	"github.com/getlantern/multiwisp/internal/pathlink"
	"github.com/getlantern/multiwisp/internal/profile"
	"github.com/getlantern/multiwisp/internal/randx"
	"github.com/getlantern/multiwisp/internal/runlog"
	"github.com/getlantern/multiwisp/internal/schedule"
	"github.com/getlantern/multiwisp/internal/shape"
	"github.com/getlantern/multiwisp/internal/strategy"
)

var log = golog.LoggerFor("relay")

// Role identifies a node's position in the chain.
type Role int

const (
	Entry Role = iota
	Middle
	Exit
)

func (r Role) String() string {
	switch r {
	case Entry:
		return "entry"
	case Middle:
		return "middle"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// NextHop is one downstream address this node dials to establish an
// outbound path.
type NextHop struct {
	PathID  uint32
	Address string
}

// Config parameterizes a Node.
type Config struct {
	Role           Role
	ListenAddr     string
	MaxConns       int
	NextHops       []NextHop
	Seed           int64
	RedundancyK    int
	BatchSize      int
	WindowSize     time.Duration
	LinkConfig     pathlink.Config
	Catalog        *profile.Catalog
	ShapeParams    shape.Params
	StrategyConfig strategy.Config
	ExitEcho       func(ctx context.Context, payload []byte) ([]byte, error)

	// RunLog, if non-nil, receives this node's window/latency/trace
	// artifacts. Left nil, a Node produces no persisted output (used by
	// tests that don't care about artifacts).
	RunLog    *runlog.Writer
	SessionID int
}

func (c Config) applyDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 1000
	}
	if c.RedundancyK <= 0 {
		c.RedundancyK = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 5 * time.Second
	}
	return c
}

// Node is one Entry, Middle or Exit process.
type Node struct {
	cfg Config

	listener  net.Listener
	scheduler *schedule.Scheduler
	engine    *strategy.Engine
	obf       *obfuscate.Obfuscator
	reasm     *frame.Reassembler

	// Downstream: outbound Links this node dials, and the scheduler and
	// per-path shapers that feed them. Empty for Exit nodes.
	shapers   map[uint32]*shape.PathShaper
	shapersMu sync.RWMutex
	links     map[uint32]*pathlink.Link
	linksMu   sync.RWMutex

	// Upstream: Links formed by accepting a connection from the
	// previous hop (Middle, Exit) and the shapers used to shape a
	// reply sent back over them. Unused by Entry, whose inbound side
	// is the unframed client connection instead.
	upstreamLinks     map[uint32]*pathlink.Link
	upstreamLinksMu   sync.RWMutex
	upstreamShapers   map[uint32]*shape.PathShaper
	upstreamShapersMu sync.RWMutex
	upstreamCounter   atomic.Uint32

	// groupOrigin remembers, for Middle/Exit, which upstream Link a
	// given group_id's request arrived on, so its reply is routed back
	// the same way instead of through the downstream scheduler.
	groupOrigin   map[uint32]uint32
	groupOriginMu sync.Mutex

	// clientConns remembers, for Entry, which client connection a
	// given group_id's request came from, so its reply is written back
	// to that connection instead of dialed anywhere.
	clientConns   map[uint32]net.Conn
	clientConnsMu sync.Mutex

	connStates   map[uint32]*obfuscate.ConnState
	connStatesMu sync.Mutex

	// sentAt records when a client-originated group_id was first sent
	// out, so replyClient can compute its round-trip latency for
	// latency_logs.jsonl. Entries that never get a reply are reaped and
	// logged as failures at the first window tick after they are three
	// windows old.
	sentAt   map[uint32]time.Time
	sentAtMu sync.Mutex

	// traceWriters holds one CSV writer per path/direction this node has
	// observed traffic on, keyed by "<pathID>:<direction>", opened
	// lazily on first use. traceLastAt tracks the previous write's
	// timestamp per key for inter-arrival-time accounting.
	traceWriters   map[string]*runlog.TraceWriter
	traceLastAt    map[string]time.Time
	traceWritersMu sync.Mutex

	seqCounter   atomic.Uint32
	groupCounter atomic.Uint32
	windowIndex  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Node in the given role, wiring one pathlink.Link per
// configured next hop.
func New(cfg Config) (*Node, error) {
	cfg = cfg.applyDefaults()
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("relay: Catalog is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:             cfg,
		scheduler:       schedule.New(cfg.BatchSize),
		engine:          strategy.NewEngine(cfg.StrategyConfig),
		shapers:         make(map[uint32]*shape.PathShaper),
		links:           make(map[uint32]*pathlink.Link),
		upstreamLinks:   make(map[uint32]*pathlink.Link),
		upstreamShapers: make(map[uint32]*shape.PathShaper),
		groupOrigin:     make(map[uint32]uint32),
		clientConns:     make(map[uint32]net.Conn),
		obf:             obfuscate.New(cfg.Catalog, cfg.Seed),
		reasm:           frame.NewReassembler(3 * cfg.WindowSize),
		connStates:      make(map[uint32]*obfuscate.ConnState),
		sentAt:          make(map[uint32]time.Time),
		traceWriters:    make(map[string]*runlog.TraceWriter),
		traceLastAt:     make(map[string]time.Time),
		ctx:             ctx,
		cancel:          cancel,
	}

	for _, hop := range cfg.NextHops {
		if err := n.dialHop(hop); err != nil {
			cancel()
			return nil, fmt.Errorf("dialing next hop %s: %w", hop.Address, err)
		}
	}

	n.wg.Add(1)
	go n.windowTickLoop()

	return n, nil
}

func (n *Node) dialHop(hop NextHop) error {
	conn, err := net.Dial("tcp", hop.Address)
	if err != nil {
		return err
	}
	link := pathlink.New(hop.PathID, conn, n.cfg.LinkConfig)
	n.scheduler.AddPath(link, 1.0)
	n.shapersMu.Lock()
	n.shapers[hop.PathID] = shape.NewPathShaper(n.cfg.ShapeParams)
	n.shapersMu.Unlock()
	n.linksMu.Lock()
	n.links[hop.PathID] = link
	n.linksMu.Unlock()

	n.wg.Add(1)
	go n.inboundFromHopLoop(link)
	return nil
}

// ListenAndServe starts accepting inbound connections and blocks until
// the node's context is cancelled or Accept fails permanently.
func (n *Node) ListenAndServe() error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.cfg.ListenAddr, err)
	}
	ln = netutil.LimitListener(ln, n.cfg.MaxConns)
	n.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return nil
			default:
				return fmt.Errorf("accepting connection: %w", err)
			}
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleInbound(conn)
		}()
	}
}

// Addr returns the node's listen address, or nil before
// ListenAndServe has bound it.
func (n *Node) Addr() net.Addr {
	if n.listener != nil {
		return n.listener.Addr()
	}
	return nil
}

// Close cancels the node's context, closing every Link and the
// listener. Pending sends are dropped without rerouting.
func (n *Node) Close() error {
	n.cancel()
	var err error
	if n.listener != nil {
		err = n.listener.Close()
	}
	n.scheduler.Close()

	n.linksMu.RLock()
	for _, l := range n.links {
		l.Close()
	}
	n.linksMu.RUnlock()
	n.upstreamLinksMu.RLock()
	for _, l := range n.upstreamLinks {
		l.Close()
	}
	n.upstreamLinksMu.RUnlock()

	n.wg.Wait()

	n.traceWritersMu.Lock()
	for _, tw := range n.traceWriters {
		tw.Close()
	}
	n.traceWritersMu.Unlock()

	return err
}

// windowTickLoop runs the strategy engine's periodic recomputation and
// applies the new snapshot's weights and behavior params to the
// scheduler and every path's shaper.
func (n *Node) windowTickLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.WindowSize)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.tick()
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) tick() {
	idx := int(n.windowIndex.Add(1))

	metrics := n.pathMetrics()
	snap := n.engine.Tick(metrics, idx)

	n.scheduler.SetWeights(snap.Weights)

	// Window logs must be written before Adopt resets each shaper's
	// padding budget counters below.
	n.writeWindowLogs(idx, snap, metrics)

	newParams := shape.Params{
		SizeBins:     n.cfg.ShapeParams.SizeBins,
		PaddingAlpha: snap.PaddingAlpha,
		JitterMs:     snap.JitterMs,
		Mode:         n.cfg.ShapeParams.Mode,
	}

	n.shapersMu.RLock()
	for _, s := range n.shapers {
		s.Adopt(newParams)
	}
	n.shapersMu.RUnlock()

	n.upstreamShapersMu.RLock()
	for _, s := range n.upstreamShapers {
		s.Adopt(newParams)
	}
	n.upstreamShapersMu.RUnlock()

	n.reapStaleLatency()
}

// writeWindowLogs appends one window_logs.jsonl row per downstream
// path, pairing this tick's recomputed weight and profile with the
// path's RTT/loss snapshot and its just-ending window's padding/real
// byte counts.
func (n *Node) writeWindowLogs(idx int, snap *strategy.Snapshot, metrics []strategy.PathMetrics) {
	if n.cfg.RunLog == nil {
		return
	}
	n.shapersMu.RLock()
	defer n.shapersMu.RUnlock()

	for _, m := range metrics {
		var pad, real int64
		if s, ok := n.shapers[m.PathID]; ok {
			pad, real = s.BudgetBytes()
		}
		entry := runlog.WindowEntry{
			WindowID:     idx,
			PathID:       m.PathID,
			Weight:       snap.Weights[m.PathID],
			ProtoFamily:  snap.ProfileID,
			PaddingBytes: pad,
			RealBytes:    real,
			RTTMs:        m.RTTMs,
			Loss:         m.Loss,
		}
		if err := n.cfg.RunLog.WriteWindow(entry); err != nil {
			log.Debugf("writing window log for path %d: %v", m.PathID, err)
		}
	}
}

// reapStaleLatency logs a failed round trip for any client request
// that never received a reply within a few windows, so a dropped
// message still shows up in latency_logs.jsonl instead of silently
// never appearing.
func (n *Node) reapStaleLatency() {
	if n.cfg.RunLog == nil {
		return
	}
	cutoff := time.Now().Add(-3 * n.cfg.WindowSize)

	n.sentAtMu.Lock()
	defer n.sentAtMu.Unlock()
	for groupID, sentAt := range n.sentAt {
		if sentAt.After(cutoff) {
			continue
		}
		delete(n.sentAt, groupID)
		entry := runlog.LatencyEntry{
			SessionID: n.cfg.SessionID,
			GroupID:   groupID,
			LatencyMs: float64(time.Since(sentAt).Microseconds()) / 1000,
			Success:   false,
		}
		if err := n.cfg.RunLog.WriteLatency(entry); err != nil {
			log.Debugf("writing latency log for group %d: %v", groupID, err)
		}
	}
}

// pathMetrics snapshots RTT/loss from every outbound Link for the
// strategy engine's weight recomputation, and the average real-chunk
// size this window from each path's padding budget as the behavior
// adaptation's size-variance input.
func (n *Node) pathMetrics() []strategy.PathMetrics {
	n.linksMu.RLock()
	defer n.linksMu.RUnlock()

	n.shapersMu.RLock()
	defer n.shapersMu.RUnlock()

	metrics := make([]strategy.PathMetrics, 0, len(n.links))
	for id, link := range n.links {
		stats := link.Stats()
		meanSize := 0.0
		if s, ok := n.shapers[id]; ok {
			if _, real := s.BudgetBytes(); real > 0 {
				meanSize = float64(real)
			}
		}
		metrics = append(metrics, strategy.PathMetrics{
			PathID:   id,
			RTTMs:    float64(stats.RTT.Milliseconds()),
			Loss:     stats.Loss,
			MeanSize: meanSize,
		})
		if stats.Loss >= 0.5 {
			n.scheduler.DrainUnhealthy(id)
		}
	}
	return metrics
}

// handleInbound dispatches an accepted connection per role: Entry
// treats it as a plain client byte stream, Middle and Exit treat it as
// a framed upstream Link from the previous hop.
func (n *Node) handleInbound(conn net.Conn) {
	if n.cfg.Role != Entry {
		n.handleUpstreamLink(conn)
		return
	}

	defer conn.Close()
	src := randx.Derive(n.cfg.Seed, uint64(n.seqCounter.Load()))

	buf := make([]byte, 4096)
	for {
		nr, err := conn.Read(buf)
		if nr > 0 {
			if ferr := n.forward(buf[:nr], conn, src); ferr != nil {
				log.Debugf("forwarding inbound data: %v", ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("reading inbound connection: %v", err)
			}
			return
		}
	}
}

// handleUpstreamLink wraps one accepted connection as a Link and
// drains it for the life of the connection. Unlike a dialed Link,
// nothing here is added to the downstream scheduler: this is the
// previous hop's path to us, not one of our own outbound paths.
func (n *Node) handleUpstreamLink(conn net.Conn) {
	id := n.upstreamCounter.Add(1)
	link := pathlink.New(id, conn, n.cfg.LinkConfig)

	n.upstreamLinksMu.Lock()
	n.upstreamLinks[id] = link
	n.upstreamLinksMu.Unlock()

	n.upstreamShapersMu.Lock()
	n.upstreamShapers[id] = shape.NewPathShaper(n.cfg.ShapeParams)
	n.upstreamShapersMu.Unlock()

	n.inboundFromUpstreamLoop(link)
}

// forward mints a fresh group_id for one chunk of client data,
// remembers which connection to reply to, and sends it via
// forwardReply.
func (n *Node) forward(data []byte, conn net.Conn, src *randx.Source) error {
	groupID := n.groupCounter.Add(1)
	n.clientConnsMu.Lock()
	n.clientConns[groupID] = conn
	n.clientConnsMu.Unlock()

	if n.cfg.RunLog != nil {
		n.sentAtMu.Lock()
		n.sentAt[groupID] = time.Now()
		n.sentAtMu.Unlock()
	}

	return n.forwardReply(groupID, data, src)
}

// forwardReply shapes, obfuscates and schedules one chunk of real
// payload across the downstream outbound paths, reusing groupID
// rather than minting a fresh one. The exit_group_id_policy: preserve
// resolution applies uniformly to every hop's onward relay, not just
// the Exit's echo.
func (n *Node) forwardReply(groupID uint32, data []byte, src *randx.Source) error {
	snap := n.engine.Load()
	shaperID, shaper := n.anyShaper()
	if shaper == nil {
		return fmt.Errorf("relay: no outbound paths configured")
	}
	shaped := shaper.Shape(data, time.Now(), src)
	for i, chunk := range shaped.Chunks {
		seq := n.seqCounter.Add(1)
		meta := obfuscate.Meta{
			Seq:       seq,
			FragID:    uint16(i),
			FragTotal: uint16(len(shaped.Chunks)),
			GroupID:   groupID,
			RealLen:   uint16(len(chunk)),
		}
		f, err := n.obf.Wrap(chunk, meta, snap.ProfileID, shaperID, n.connStateFor(groupID))
		if err != nil {
			return fmt.Errorf("obfuscating chunk: %w", err)
		}
		chosen, err := n.scheduler.Assign(f, shaped.Deadline, n.cfg.RedundancyK, src)
		if err != nil {
			return fmt.Errorf("scheduling chunk: %w", err)
		}
		for _, pathID := range chosen {
			n.recordTrace(pathID, runlog.TraceForward, wireLen(f))
		}
	}
	return nil
}

// replyUpstream shapes, obfuscates and sends one reply message back
// over the specific upstream Link its request arrived on. Unlike
// forwardReply, there is no path choice to make here: the reply must
// retrace the request's path, not be scheduled fresh.
func (n *Node) replyUpstream(groupID uint32, data []byte, src *randx.Source) error {
	n.groupOriginMu.Lock()
	linkID, ok := n.groupOrigin[groupID]
	n.groupOriginMu.Unlock()
	if !ok {
		return fmt.Errorf("relay: no recorded upstream origin for group %d", groupID)
	}

	n.upstreamLinksMu.RLock()
	link, ok := n.upstreamLinks[linkID]
	n.upstreamLinksMu.RUnlock()
	if !ok {
		return fmt.Errorf("relay: upstream link %d is gone", linkID)
	}

	n.upstreamShapersMu.RLock()
	shaper, ok := n.upstreamShapers[linkID]
	n.upstreamShapersMu.RUnlock()
	if !ok {
		return fmt.Errorf("relay: no shaper for upstream link %d", linkID)
	}

	snap := n.engine.Load()
	shaped := shaper.Shape(data, time.Now(), src)
	for i, chunk := range shaped.Chunks {
		seq := n.seqCounter.Add(1)
		meta := obfuscate.Meta{
			Seq:       seq,
			FragID:    uint16(i),
			FragTotal: uint16(len(shaped.Chunks)),
			GroupID:   groupID,
			RealLen:   uint16(len(chunk)),
		}
		f, err := n.obf.Wrap(chunk, meta, snap.ProfileID, linkID, n.connStateFor(groupID))
		if err != nil {
			return fmt.Errorf("obfuscating reply chunk: %w", err)
		}
		if err := link.Enqueue(f, shaped.Deadline); err != nil {
			return fmt.Errorf("enqueueing reply chunk: %w", err)
		}
		n.recordTrace(linkID, runlog.TraceReverse, wireLen(f))
	}
	return nil
}

// replyClient writes a reassembled reply directly to the client
// connection its request's group_id originated from.
func (n *Node) replyClient(groupID uint32, data []byte) error {
	n.clientConnsMu.Lock()
	conn, ok := n.clientConns[groupID]
	n.clientConnsMu.Unlock()
	if !ok {
		return fmt.Errorf("relay: no recorded client connection for group %d", groupID)
	}
	_, err := conn.Write(data)

	if n.cfg.RunLog != nil {
		n.sentAtMu.Lock()
		sentAt, ok := n.sentAt[groupID]
		if ok {
			delete(n.sentAt, groupID)
		}
		n.sentAtMu.Unlock()
		if ok {
			entry := runlog.LatencyEntry{
				SessionID: n.cfg.SessionID,
				GroupID:   groupID,
				LatencyMs: float64(time.Since(sentAt).Microseconds()) / 1000,
				Success:   err == nil,
			}
			if werr := n.cfg.RunLog.WriteLatency(entry); werr != nil {
				log.Debugf("writing latency log for group %d: %v", groupID, werr)
			}
		}
	}

	return err
}

func (n *Node) anyShaper() (uint32, *shape.PathShaper) {
	n.shapersMu.RLock()
	defer n.shapersMu.RUnlock()
	for id, s := range n.shapers {
		return id, s
	}
	return 0, nil
}

// connStateFor returns this node's handshake-prelude state for a
// group_id, creating one on first use. group_id boundaries stand in
// for "connection" boundaries at this layer, so each message series
// gets its own "prelude emitted" latch.
func (n *Node) connStateFor(groupID uint32) *obfuscate.ConnState {
	n.connStatesMu.Lock()
	defer n.connStatesMu.Unlock()
	cs, ok := n.connStates[groupID]
	if !ok {
		cs = &obfuscate.ConnState{}
		n.connStates[groupID] = cs
	}
	return cs
}

// wireLen returns the on-the-wire byte length of an encoded frame, the
// size a passive observer on the path would actually see, including
// any extra-header filler and trailing padding beyond the real
// payload. Falls back to the real payload length if encoding fails,
// which never happens for a frame this node just built itself.
func wireLen(f *frame.Frame) int {
	b, err := frame.Encode(f)
	if err != nil {
		return len(f.Real())
	}
	return len(b)
}

// recordTrace appends one packet observation to the session's
// per-path, per-direction trace CSV, opening the file on first use.
func (n *Node) recordTrace(pathID uint32, dir runlog.TraceDirection, length int) {
	if n.cfg.RunLog == nil {
		return
	}
	key := fmt.Sprintf("%d:%d", pathID, dir)

	n.traceWritersMu.Lock()
	defer n.traceWritersMu.Unlock()

	tw, ok := n.traceWriters[key]
	if !ok {
		var err error
		tw, err = n.cfg.RunLog.OpenTrace(n.cfg.SessionID, pathID, dir)
		if err != nil {
			log.Debugf("opening trace writer for path %d dir %d: %v", pathID, dir, err)
			return
		}
		n.traceWriters[key] = tw
	}

	now := time.Now()
	var iatMs float64
	if last, ok := n.traceLastAt[key]; ok {
		iatMs = float64(now.Sub(last).Microseconds()) / 1000
	}
	n.traceLastAt[key] = now

	record := runlog.TraceRecord{Timestamp: now, Length: length, IATMs: iatMs}
	if err := tw.Write(record); err != nil {
		log.Debugf("writing trace record for path %d dir %d: %v", pathID, dir, err)
	}
}

// upstreamSender and downstreamSender are the dedup key's "sender"
// component for, respectively, messages arriving from the previous hop
// (forward direction) and messages arriving from the next hop (reply
// direction). Every Link on one side leads to the same single logical
// peer, even though redundancy spreads copies of one message across
// several of them, so dedup must key on the peer, not on which path a
// copy arrived over. The two directions must use distinct keys: since
// group_id is preserved end to end, a Middle's forward reassembly and
// its later reply reassembly for that same group_id would otherwise
// collide on one dedup entry and the reply would be dropped as a false
// duplicate.
const (
	upstreamSender   = "upstream"
	downstreamSender = "downstream"
)

// inboundFromUpstreamLoop drains frames arriving from one accepted
// upstream Link, reassembles them, deduplicates against every other
// upstream Link carrying a redundant copy of the same group, and
// records which Link this group's eventual reply must retrace before
// handing the message to the role-specific relay step.
func (n *Node) inboundFromUpstreamLoop(link *pathlink.Link) {
	reassemblyKey := fmt.Sprintf("up-path-%d", link.ID())

	for f := range link.Inbound() {
		n.recordTrace(link.ID(), runlog.TraceForward, wireLen(f))

		msg, ok := n.reasm.Add(reassemblyKey, f)
		if !ok {
			continue
		}
		if n.scheduler.Dedup(upstreamSender, f.GroupID) {
			continue
		}
		n.groupOriginMu.Lock()
		n.groupOrigin[f.GroupID] = link.ID()
		n.groupOriginMu.Unlock()

		n.onUpstreamMessage(f.GroupID, msg)
	}
}

// onUpstreamMessage is the per-role reaction to a fully reassembled
// message arriving from the previous hop: a Middle relays it onward
// toward the Exit, an Exit turns it around against its echo target
// and replies upstream.
func (n *Node) onUpstreamMessage(groupID uint32, msg []byte) {
	src := randx.Derive(n.cfg.Seed, uint64(groupID))

	switch n.cfg.Role {
	case Middle:
		if err := n.forwardReply(groupID, msg, src); err != nil {
			log.Debugf("relaying message %d onward: %v", groupID, err)
		}
	case Exit:
		if n.cfg.ExitEcho == nil {
			log.Debugf("exit node has no echo target configured, dropping group %d", groupID)
			return
		}
		reply, err := n.cfg.ExitEcho(n.ctx, msg)
		if err != nil {
			log.Debugf("exit echo failed for group %d: %v", groupID, err)
			return
		}
		if err := n.replyUpstream(groupID, reply, src); err != nil {
			log.Debugf("replying upstream for group %d: %v", groupID, err)
		}
	}
}

// inboundFromHopLoop drains frames arriving on a dialed downstream
// Link, carrying a reply flowing back from the next hop, and routes
// the reassembled message to this role's reply sink: Entry writes it
// to the originating client connection, Middle sends it back over the
// upstream Link its request arrived on.
func (n *Node) inboundFromHopLoop(link *pathlink.Link) {
	defer n.wg.Done()
	reassemblyKey := fmt.Sprintf("path-%d", link.ID())

	for f := range link.Inbound() {
		n.recordTrace(link.ID(), runlog.TraceReverse, wireLen(f))

		msg, ok := n.reasm.Add(reassemblyKey, f)
		if !ok {
			continue
		}
		if n.scheduler.Dedup(downstreamSender, f.GroupID) {
			continue
		}
		n.deliver(f.GroupID, msg)
	}
}

// deliver hands a reply message, reassembled from the downstream
// direction, to the role-specific sink.
func (n *Node) deliver(groupID uint32, msg []byte) {
	switch n.cfg.Role {
	case Entry:
		if err := n.replyClient(groupID, msg); err != nil {
			log.Debugf("replying to client for group %d: %v", groupID, err)
		}
	case Middle:
		src := randx.Derive(n.cfg.Seed, uint64(groupID))
		if err := n.replyUpstream(groupID, msg, src); err != nil {
			log.Debugf("replying upstream for group %d: %v", groupID, err)
		}
	case Exit:
		// Exit has no downstream dial links; replies never arrive here.
	}
}
