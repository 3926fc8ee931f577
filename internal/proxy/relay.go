package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/hexrelay/internal/hexdump"
)

const (
	// ChunkSize is the largest unit read, dumped and written in one cycle.
	ChunkSize = 1024

	dumpQueueLen = 64

	// drainTimeout bounds how long a chunk already read may take to be
	// written once the other direction has stopped.
	drainTimeout = 5 * time.Second
)

// Direction labels one half of the duplex relay.
type Direction int

const (
	InboundToOutbound Direction = iota
	OutboundToInbound
)

func (d Direction) String() string {
	if d == OutboundToInbound {
		return "Remote -> Origin"
	}
	return "Origin -> Remote"
}

func (d Direction) metricLabel() string {
	if d == OutboundToInbound {
		return "remote_to_origin"
	}
	return "origin_to_remote"
}

// Counts is what one direction forwarded.
type Counts struct {
	Bytes  int64
	Chunks int64
}

type Stats struct {
	InboundToOutbound Counts
	OutboundToInbound Counts
}

// SessionError is an I/O failure that ended a relay session after both
// connections were established.
type SessionError struct {
	Direction Direction
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Direction, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// errSourceClosed ends a forwarding loop whose source reached end of stream.
var errSourceClosed = errors.New("source closed")

type dump struct {
	dir   Direction
	chunk []byte
}

// Relay forwards bytes between two established connections.
type Relay struct {
	cfg    Config
	log    *zap.Logger
	pool   *chunkPool
	labels [2]*color.Color
}

func NewRelay(cfg Config) *Relay {
	r := &Relay{
		cfg:  cfg,
		log:  cfg.logger(),
		pool: newChunkPool(ChunkSize),
		labels: [2]*color.Color{
			InboundToOutbound: color.New(color.FgCyan, color.Bold),
			OutboundToInbound: color.New(color.FgMagenta, color.Bold),
		},
	}
	for _, c := range r.labels {
		if cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Run relays between inbound and outbound until either direction reaches end
// of stream, fails, or ctx is canceled. It owns both connections and closes
// them before returning.
//
// When one direction stops, the other is told to stop by expiring its read
// deadline; a chunk it has already read is still written out, and both loops
// are joined before anything is closed. Canceling ctx expires all deadlines
// and returns without error. A mid-session I/O failure is returned as
// *SessionError.
func (r *Relay) Run(ctx context.Context, inbound, outbound net.Conn) (Stats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = inbound.Close()
			_ = outbound.Close()
		})
	}
	defer closeBoth()

	// An interrupt expires every deadline at once. A direction stopping on its
	// own only expires reads, leaving drainTimeout for a write in flight. The
	// lock keeps the second from overriding the first.
	var deadlineMu sync.Mutex
	expire := func(interrupt bool) {
		deadlineMu.Lock()
		defer deadlineMu.Unlock()

		now := time.Now()
		if interrupt {
			_ = inbound.SetDeadline(now)
			_ = outbound.SetDeadline(now)
			return
		}
		if ctx.Err() != nil {
			return
		}
		for _, c := range []net.Conn{inbound, outbound} {
			_ = c.SetReadDeadline(now)
			_ = c.SetWriteDeadline(now.Add(drainTimeout))
		}
	}

	stopInterrupt := context.AfterFunc(ctx, func() { expire(true) })
	defer stopInterrupt()

	dumps := make(chan dump, dumpQueueLen)
	var printer sync.WaitGroup
	printer.Go(func() {
		r.printDumps(dumps)
	})

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)

	stopPeer := context.AfterFunc(gctx, func() { expire(false) })
	defer stopPeer()

	g.Go(func() error {
		return r.forward(gctx, InboundToOutbound, inbound, outbound, dumps, &stats.InboundToOutbound)
	})
	g.Go(func() error {
		return r.forward(gctx, OutboundToInbound, outbound, inbound, dumps, &stats.OutboundToInbound)
	})

	err := g.Wait()
	close(dumps)
	printer.Wait()

	outcome := "closed"
	switch {
	case ctx.Err() != nil:
		err = nil
		outcome = "interrupted"
	case errors.Is(err, errSourceClosed):
		err = nil
	default:
		outcome = "error"
		r.log.Warn("relay session failed", zap.Error(err))
	}
	r.cfg.Metrics.SessionEnded(outcome)

	r.log.Info("connection closed",
		zap.String("outcome", outcome),
		zap.Int64("origin_to_remote_bytes", stats.InboundToOutbound.Bytes),
		zap.Int64("remote_to_origin_bytes", stats.OutboundToInbound.Bytes),
	)
	closeBoth()

	return stats, err
}

func (r *Relay) forward(ctx context.Context, dir Direction, src, dst net.Conn, dumps chan<- dump, counts *Counts) error {
	bp := r.pool.Get()
	defer r.pool.Put(bp)
	buf := *bp

	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if r.cfg.Verbose {
				dumps <- dump{dir: dir, chunk: bytes.Clone(chunk)}
			}
			if _, werr := dst.Write(chunk); werr != nil {
				if ctx.Err() != nil {
					r.log.Debug("chunk dropped during shutdown",
						zap.Stringer("direction", dir),
						zap.Int("bytes", n),
						zap.Error(werr),
					)
					return ctx.Err()
				}
				return &SessionError{Direction: dir, Op: "write", Err: werr}
			}
			counts.Bytes += int64(n)
			counts.Chunks++
			r.cfg.Metrics.AddChunk(dir.metricLabel(), n)
		}

		switch {
		case err == nil && n == 0:
			return errSourceClosed
		case errors.Is(err, io.EOF):
			return errSourceClosed
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &SessionError{Direction: dir, Op: "read", Err: err}
		}
	}
}

// printDumps is the only writer of hex dumps, so concurrent directions never
// interleave within a dump.
func (r *Relay) printDumps(dumps <-chan dump) {
	out := r.cfg.output()

	var b bytes.Buffer
	for d := range dumps {
		b.Reset()
		_, _ = r.labels[d.dir].Fprint(&b, d.dir.String())
		b.WriteByte('\n')
		b.WriteString(hexdump.Format(d.chunk))
		b.WriteByte('\n')

		if _, err := out.Write(b.Bytes()); err != nil {
			r.log.Debug("dump write failed", zap.Error(err))
		}
	}
}
