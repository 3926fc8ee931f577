package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/hexrelay/internal/hexdump"
	"github.com/die-net/hexrelay/internal/metrics"
	"github.com/die-net/hexrelay/internal/testutil"
)

// scriptedConn is a net.Conn whose reads come from a fixed script and whose
// writes are recorded. Once the script is exhausted reads block until a
// deadline or Close.
type scriptedConn struct {
	net.Conn // nil; only the methods below are used

	mu       sync.Mutex
	reads    [][]byte
	written  bytes.Buffer
	writeErr error
	readErr  error
	closed   chan struct{}
	once     sync.Once
	deadline chan struct{}
	dlOnce   sync.Once
}

func newScriptedConn(reads ...[]byte) *scriptedConn {
	return &scriptedConn{reads: reads, closed: make(chan struct{}), deadline: make(chan struct{})}
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.reads) > 0 {
		next := c.reads[0]
		c.reads = c.reads[1:]
		c.mu.Unlock()
		return copy(p, next), nil
	}
	readErr := c.readErr
	c.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}

	select {
	case <-c.closed:
		return 0, net.ErrClosed
	case <-c.deadline:
		return 0, errDeadline
	}
}

var errDeadline = errors.New("i/o timeout")

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *scriptedConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.written.Bytes())
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *scriptedConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && !t.After(time.Now()) {
		c.dlOnce.Do(func() { close(c.deadline) })
	}
	return nil
}

func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func runRelay(t *testing.T, ctx context.Context, cfg Config, inbound, outbound net.Conn) (<-chan Stats, <-chan error) {
	t.Helper()

	statsCh := make(chan Stats, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := NewRelay(cfg).Run(ctx, inbound, outbound)
		statsCh <- s
		errCh <- err
	}()
	return statsCh, errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not shut down")
		return nil
	}
}

func TestRelayForwardsBothDirections(t *testing.T) {
	t.Parallel()

	origin, inbound := testutil.TCPPair(t)
	outbound, remote := testutil.TCPPair(t)

	m := metrics.New(prometheus.NewRegistry())
	statsCh, errCh := runRelay(t, context.Background(), Config{Metrics: m}, inbound, outbound)

	up := [][]byte{[]byte("GET / HTTP/1.1\r\n"), []byte("Host: example\r\n\r\n"), bytes.Repeat([]byte{0xab}, 3000)}
	down := [][]byte{[]byte("HTTP/1.1 200 OK\r\n\r\n"), bytes.Repeat([]byte{0x00, 0xff}, 2500)}

	var g errgroup.Group
	g.Go(func() error {
		for _, c := range up {
			if _, err := origin.Write(c); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, c := range down {
			if _, err := remote.Write(c); err != nil {
				return err
			}
		}
		return nil
	})

	gotUp := make([]byte, len(bytes.Join(up, nil)))
	_, err := io.ReadFull(remote, gotUp)
	require.NoError(t, err)
	gotDown := make([]byte, len(bytes.Join(down, nil)))
	_, err = io.ReadFull(origin, gotDown)
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	assert.Equal(t, bytes.Join(up, nil), gotUp)
	assert.Equal(t, bytes.Join(down, nil), gotDown)

	require.NoError(t, origin.Close())
	require.NoError(t, waitErr(t, errCh))

	stats := <-statsCh
	assert.Equal(t, int64(len(gotUp)), stats.InboundToOutbound.Bytes)
	assert.Equal(t, int64(len(gotDown)), stats.OutboundToInbound.Bytes)
	assert.Equal(t, float64(len(gotUp)), promtestutil.ToFloat64(m.Bytes.WithLabelValues("origin_to_remote")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.Sessions.WithLabelValues("closed")))

	// Both sides were closed by the relay.
	_, err = remote.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRelayChunkBoundaries(t *testing.T) {
	t.Parallel()

	chunks := [][]byte{[]byte("a"), bytes.Repeat([]byte("b"), ChunkSize), []byte("cc")}
	// The trailing empty read is the peer closing its write side.
	inbound := newScriptedConn(chunks[0], chunks[1], chunks[2], []byte{})
	outbound := newScriptedConn()

	var out bytes.Buffer
	_, errCh := runRelay(t, context.Background(), Config{Verbose: true, Output: &out}, inbound, outbound)
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, bytes.Join(chunks, nil), outbound.Written())

	// One dump per chunk, in read order.
	dumps := strings.Split(strings.TrimSuffix(out.String(), "\n"), InboundToOutbound.String()+"\n")
	require.Len(t, dumps, 4)
	assert.Equal(t, "", dumps[0])
	assert.Equal(t, hexdump.Format([]byte("a"))+"\n", dumps[1])
	assert.Equal(t, hexdump.Format(chunks[1])+"\n", dumps[2])
	assert.Equal(t, hexdump.Format([]byte("cc")), dumps[3])
}

func TestRelayZeroLengthReadEndsLoop(t *testing.T) {
	t.Parallel()

	inbound := newScriptedConn([]byte("x"), []byte{})
	outbound := newScriptedConn()

	statsCh, errCh := runRelay(t, context.Background(), Config{}, inbound, outbound)
	require.NoError(t, waitErr(t, errCh))

	stats := <-statsCh
	assert.Equal(t, Counts{Bytes: 1, Chunks: 1}, stats.InboundToOutbound)
	assert.Equal(t, Counts{}, stats.OutboundToInbound)
	assert.Equal(t, []byte("x"), outbound.Written())
}

func TestRelayPeerCloseDeliversPendingData(t *testing.T) {
	t.Parallel()

	origin, inbound := testutil.TCPPair(t)
	outbound, remote := testutil.TCPPair(t)

	_, errCh := runRelay(t, context.Background(), Config{}, inbound, outbound)

	_, err := remote.Write([]byte("goodbye"))
	require.NoError(t, err)
	require.NoError(t, remote.Close())

	got, err := io.ReadAll(origin)
	require.NoError(t, err)
	assert.Equal(t, "goodbye", string(got))
	require.NoError(t, waitErr(t, errCh))
}

func TestRelayInterrupt(t *testing.T) {
	t.Parallel()

	origin, inbound := testutil.TCPPair(t)
	outbound, remote := testutil.TCPPair(t)

	var out bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	_, errCh := runRelay(t, ctx, Config{Verbose: true, Output: &out, Metrics: m}, inbound, outbound)

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, waitErr(t, errCh))

	assert.Empty(t, out.String())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.Sessions.WithLabelValues("interrupted")))

	_, err := origin.Read(make([]byte, 1))
	assert.Error(t, err)
	_, err = remote.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestRelayWriteErrorEndsSession(t *testing.T) {
	t.Parallel()

	inbound := newScriptedConn([]byte("doomed"))
	outbound := newScriptedConn()
	outbound.writeErr = errors.New("broken pipe")

	_, errCh := runRelay(t, context.Background(), Config{}, inbound, outbound)
	err := waitErr(t, errCh)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, InboundToOutbound, se.Direction)
	assert.Equal(t, "write", se.Op)
	assert.Equal(t, "Origin -> Remote: write: broken pipe", err.Error())
}

func TestRelayReadErrorEndsSession(t *testing.T) {
	t.Parallel()

	inbound := newScriptedConn([]byte("partial"))
	inbound.readErr = syscall.ECONNRESET
	outbound := newScriptedConn()

	core, logs := observer.New(zap.DebugLevel)
	m := metrics.New(prometheus.NewRegistry())
	_, errCh := runRelay(t, context.Background(), Config{Logger: zap.New(core), Metrics: m}, inbound, outbound)
	err := waitErr(t, errCh)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, InboundToOutbound, se.Direction)
	assert.Equal(t, "read", se.Op)
	assert.ErrorIs(t, err, syscall.ECONNRESET)

	assert.Equal(t, []byte("partial"), outbound.Written())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.Sessions.WithLabelValues("error")))

	failed := logs.FilterMessage("relay session failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.WarnLevel, failed[0].Level)

	closed := logs.FilterMessage("connection closed").All()
	require.Len(t, closed, 1)
	assert.Equal(t, "error", closed[0].ContextMap()["outcome"])
}

func TestRelayLogsChunkDroppedDuringShutdown(t *testing.T) {
	t.Parallel()

	inbound := newScriptedConn([]byte("late"))
	outbound := newScriptedConn()
	outbound.writeErr = errors.New("i/o timeout")

	core, logs := observer.New(zap.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errCh := runRelay(t, ctx, Config{Logger: zap.New(core)}, inbound, outbound)
	require.NoError(t, waitErr(t, errCh))

	dropped := logs.FilterMessage("chunk dropped during shutdown").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zap.DebugLevel, dropped[0].Level)
	fields := dropped[0].ContextMap()
	assert.Equal(t, "Origin -> Remote", fields["direction"])
	assert.EqualValues(t, 4, fields["bytes"])
}

func TestRelayEcho(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	outbound, err := net.Dial("tcp4", echoLn.Addr().String())
	require.NoError(t, err)
	origin, inbound := testutil.TCPPair(t)

	var out bytes.Buffer
	_, errCh := runRelay(t, ctx, Config{Verbose: true, Output: &out}, inbound, outbound)

	testutil.AssertEcho(t, origin, origin, []byte("ping"))
	require.NoError(t, origin.Close())
	require.NoError(t, waitErr(t, errCh))

	row := hexdump.Format([]byte("ping"))
	assert.Equal(t, "Origin -> Remote\n"+row+"\nRemote -> Origin\n"+row+"\n", out.String())
	assert.Contains(t, row, "70 69 6e 67")
	assert.True(t, strings.HasSuffix(row, "ping"))
}

func TestDirectionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Origin -> Remote", InboundToOutbound.String())
	assert.Equal(t, "Remote -> Origin", OutboundToInbound.String())
}
