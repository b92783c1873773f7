// Package pathlink manages one TCP connection to the next hop: a
// deadline-ordered send queue, an ACK tracker with EWMA RTT/loss
// estimators, and the Busy/Ready backpressure signal consumed by the
// scheduler.
package pathlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/getlantern/golog"

	"github.com/getlantern/multiwisp/internal/frame"
)

var log = golog.LoggerFor("pathlink")

const sendChanDepth = 256

// maxMalformedFrames bounds how many bad frames a Link tolerates
// before it gives up on the connection: a single bit flip or
// resync byte shouldn't tear down a path, but a peer that never
// produces a valid frame again is not worth keeping open.
const maxMalformedFrames = 16

// State is a path's current backpressure status.
type State int

const (
	Ready State = iota
	Busy
)

func (s State) String() string {
	if s == Busy {
		return "busy"
	}
	return "ready"
}

// Stats is a point-in-time snapshot of one path's health, read by the
// strategy engine at each window tick.
type Stats struct {
	RTT      time.Duration
	Loss     float64
	Inflight int
	State    State
}

// Link wraps one net.Conn to the next hop.
type Link struct {
	id          uint32
	conn        net.Conn
	maxInflight int

	queue   *sendQueue
	queueMu sync.Mutex
	wake    chan struct{}

	acks *ackTracker

	inbound chan *frame.Frame

	closeOnce sync.Once
	closeCh   chan struct{}
	closed    bool
	mu        sync.Mutex
}

// Config parameterizes a Link's estimators and backpressure threshold.
type Config struct {
	MaxInflight int
	AlphaRTT    float64
	AlphaLoss   float64
}

func (c Config) applyDefaults() Config {
	if c.MaxInflight <= 0 {
		c.MaxInflight = 64
	}
	if c.AlphaRTT <= 0 {
		c.AlphaRTT = 0.2
	}
	if c.AlphaLoss <= 0 {
		c.AlphaLoss = 0.1
	}
	return c
}

// New wraps conn as a Link identified by id, and starts its reader and
// sender goroutines.
func New(id uint32, conn net.Conn, cfg Config) *Link {
	cfg = cfg.applyDefaults()
	l := &Link{
		id:          id,
		conn:        conn,
		maxInflight: cfg.MaxInflight,
		queue:       newSendQueue(),
		wake:        make(chan struct{}, 1),
		acks:        newAckTracker(cfg.AlphaRTT, cfg.AlphaLoss),
		inbound:     make(chan *frame.Frame, sendChanDepth),
		closeCh:     make(chan struct{}),
	}
	go l.senderLoop()
	go l.readerLoop()
	return l
}

// ID returns this path's identifier, used in scheduler weighting and
// window_logs.jsonl.
func (l *Link) ID() uint32 { return l.id }

// Enqueue schedules f for transmission no earlier than deadline. The
// caller is expected to have already checked State() != Busy, but
// Enqueue never blocks: it is always safe to call.
func (l *Link) Enqueue(f *frame.Frame, deadline time.Time) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrPathDown
	}
	l.mu.Unlock()

	l.queueMu.Lock()
	l.queue.push(f, deadline)
	l.queueMu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// State reports whether this path can accept more sends.
func (l *Link) State() State {
	if l.acks.inflight() >= l.maxInflight {
		return Busy
	}
	return Ready
}

// Stats returns the current RTT/loss/inflight snapshot for this path.
func (l *Link) Stats() Stats {
	rtt, loss, inflight := l.acks.snapshot()
	return Stats{RTT: rtt, Loss: loss, Inflight: inflight, State: l.State()}
}

// Inbound returns the channel of frames received from the peer, for
// the scheduler to dedup and hand to a Reassembler.
func (l *Link) Inbound() <-chan *frame.Frame { return l.inbound }

// senderLoop is the single writer goroutine for this path: it drains
// the deadline heap in order, sleeping until each frame's deadline,
// which is what makes the per-path FIFO-by-deadline guarantee hold
// even though frames may be enqueued out of deadline order.
func (l *Link) senderLoop() {
	for {
		l.queueMu.Lock()
		qf, ok := l.queue.peek()
		l.queueMu.Unlock()

		if !ok {
			select {
			case <-l.wake:
				continue
			case <-l.closeCh:
				return
			}
		}

		wait := time.Until(qf.deadline)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-l.wake:
				timer.Stop()
				continue
			case <-l.closeCh:
				timer.Stop()
				return
			}
		}

		l.queueMu.Lock()
		qf, ok = l.queue.peek()
		if ok && !qf.deadline.After(time.Now()) {
			l.queue.pop()
		} else {
			l.queueMu.Unlock()
			continue
		}
		l.queueMu.Unlock()

		if err := l.write(qf.f); err != nil {
			log.Debugf("path %d: write failed: %v", l.id, err)
			l.Close()
			return
		}
	}
}

func (l *Link) write(f *frame.Frame) error {
	if !f.HasFlag(frame.FlagAck) {
		l.acks.recordSent(f.Seq, time.Now())
	}
	buf, err := frame.Encode(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_, err = l.conn.Write(buf)
	return err
}

// readerLoop streams frames off the connection, folding ACK frames
// into the estimator and forwarding data frames to Inbound.
func (l *Link) readerLoop() {
	defer close(l.inbound)

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	malformed := 0

	for {
		n, err := l.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		for {
			f, consumed, derr := frame.Decode(buf)
			if derr != nil {
				if errors.Is(derr, frame.ErrNeedMore) {
					break
				}
				malformed++
				log.Debugf("path %d: malformed frame (%d/%d): %v", l.id, malformed, maxMalformedFrames, derr)
				if malformed >= maxMalformedFrames {
					log.Debugf("path %d: too many malformed frames, closing", l.id)
					l.Close()
					return
				}
				if consumed > 0 {
					buf = buf[consumed:]
					continue
				}
				buf = buf[1:]
				continue
			}
			buf = buf[consumed:]
			malformed = 0

			if f.HasFlag(frame.FlagAck) {
				// An ACK frame's payload is the 4-byte acknowledged seq;
				// its own header Seq is the ACK's sequence number.
				if acked := f.Real(); len(acked) == 4 {
					l.acks.recordAck(binary.BigEndian.Uint32(acked), time.Now())
				}
				continue
			}
			select {
			case l.inbound <- f:
			case <-l.closeCh:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("path %d: read failed: %v", l.id, err)
			}
			l.Close()
			return
		}
	}
}

// Close shuts down the underlying connection and background
// goroutines. Pending sends are dropped without rerouting.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.closeCh)
		l.acks.close()
		err = l.conn.Close()
	})
	return err
}
