package hub

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/message"
	"github.com/erilali/place/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const recvTimeout = 2 * time.Second

func newTestHub(t *testing.T, dim int, cfgs ...Cfg) *Hub {
	t.Helper()
	grid, err := board.NewSquareGrid(dim)
	require.NoError(t, err)
	cfgs = append([]Cfg{
		WithChangeInterval(0),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	}, cfgs...)
	h, err := NewHub(grid, cfgs...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// peer is the client end of a piped connection to the hub.
type peer struct {
	t    *testing.T
	raw  net.Conn
	conn transport.Conn
	errc chan error
}

func connect(t *testing.T, h *Hub) *peer {
	t.Helper()
	a, b := net.Pipe()
	errc := make(chan error, 1)
	go func() { errc <- h.ServeConn(context.Background(), transport.NewStream(b)) }()
	p := &peer{t: t, raw: a, conn: transport.NewStream(a), errc: errc}
	t.Cleanup(func() { p.conn.Close() })
	return p
}

func (p *peer) send(m message.Message) {
	p.t.Helper()
	require.NoError(p.t, p.conn.Send(m))
}

func (p *peer) recv() message.Message {
	p.t.Helper()
	require.NoError(p.t, p.raw.SetReadDeadline(time.Now().Add(recvTimeout)))
	m, err := p.conn.Receive()
	require.NoError(p.t, err)
	return m
}

func (p *peer) recvErr() error {
	p.t.Helper()
	require.NoError(p.t, p.raw.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := p.conn.Receive()
	return err
}

func (p *peer) result() error {
	p.t.Helper()
	select {
	case err := <-p.errc:
		return err
	case <-time.After(recvTimeout):
		p.t.Fatal("handler did not finish")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, recvTimeout, 5*time.Millisecond)
}

func (p *peer) login(identity string) message.GridSnapshot {
	p.t.Helper()
	p.send(message.Login{Identity: identity})
	require.Equal(p.t, message.LoginAccepted{Text: "User " + identity + " successfully logged in."}, p.recv())
	snap, ok := p.recv().(message.GridSnapshot)
	require.True(p.t, ok, "expected a grid snapshot after login")
	return snap
}

func (p *peer) change(row, col int, color board.Color) {
	p.t.Helper()
	p.send(message.ChangeRequest{Cell: board.Cell{Row: row, Col: col, Color: color}})
}

func (p *peer) broadcast() board.Cell {
	p.t.Helper()
	m := p.recv()
	b, ok := m.(message.ChangeBroadcast)
	require.True(p.t, ok, "expected ChangeBroadcast, got %s", m.Type())
	return b.Cell
}

func TestLoginReceivesSnapshot(t *testing.T) {
	h := newTestHub(t, 3)
	snap := connect(t, h).login("A")

	require.Equal(t, 3, snap.Width)
	require.Equal(t, 3, snap.Height)
	require.Len(t, snap.Cells, 9)
	for i, c := range snap.Cells {
		require.Equal(t, i/3, c.Row)
		require.Equal(t, i%3, c.Col)
		require.Equal(t, board.White, c.Color)
	}
	eventually(t, func() bool {
		return h.Registry.Contains("A") &&
			testutil.ToFloat64(h.Metrics().Logins.WithLabelValues("accepted")) == 1 &&
			testutil.ToFloat64(h.Metrics().Connected) == 1
	})
}

func TestChangeIsBroadcastToAll(t *testing.T) {
	h := newTestHub(t, 3)
	a := connect(t, h)
	a.login("A")
	b := connect(t, h)
	b.login("B")

	a.send(message.ChangeRequest{Cell: board.Cell{Row: 1, Col: 2, Owner: "someone-else", Color: board.Red}})
	for _, p := range []*peer{a, b} {
		cell := p.broadcast()
		require.Equal(t, 1, cell.Row)
		require.Equal(t, 2, cell.Col)
		require.Equal(t, "A", cell.Owner)
		require.Equal(t, board.Red, cell.Color)
	}
	got, err := h.Grid.Get(1, 2)
	require.NoError(t, err)
	require.Equal(t, "A", got.Owner)
	require.Equal(t, board.Red, got.Color)

	// a late joiner sees the change in its snapshot
	snap := connect(t, h).login("C")
	require.Equal(t, board.Red, snap.Cells[1*3+2].Color)
}

func TestDuplicateLoginRejected(t *testing.T) {
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("A")

	dup := connect(t, h)
	dup.send(message.Login{Identity: "A"})
	rej, ok := dup.recv().(message.LoginRejected)
	require.True(t, ok)
	require.Contains(t, rej.Reason, "already taken")
	require.Error(t, dup.recvErr())
	require.ErrorIs(t, dup.result(), ErrDuplicateIdentity)

	// the original session is unaffected
	a.change(0, 0, board.Blue)
	require.Equal(t, board.Blue, a.broadcast().Color)
	require.Equal(t, float64(1), testutil.ToFloat64(h.Metrics().Logins.WithLabelValues("duplicate")))
}

func TestInvalidIdentityRejected(t *testing.T) {
	for _, identity := range []string{
		"",
		"   ",
		"tab\there",
		"new\nline",
		strings.Repeat("x", MaxIdentityLen+1),
		strings.Repeat("é", MaxIdentityLen+1),
		"bad\xffutf8",
	} {
		h := newTestHub(t, 2)
		p := connect(t, h)
		p.send(message.Login{Identity: identity})
		_, ok := p.recv().(message.LoginRejected)
		require.True(t, ok, "%q", identity)
		require.Error(t, p.result(), "%q", identity)
		require.Zero(t, h.Registry.Len(), "%q", identity)
	}
}

func TestIdentityMayContainSpaces(t *testing.T) {
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("Alice Smith")
	a.change(1, 1, board.Teal)
	require.Equal(t, "Alice Smith", a.broadcast().Owner)

	b := connect(t, h)
	b.login(strings.Repeat("ü", MaxIdentityLen))
	require.True(t, h.Registry.Contains("Alice Smith"))
}

func TestIdentityReleasedOnDisconnect(t *testing.T) {
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("A")
	b := connect(t, h)
	b.login("B")

	require.NoError(t, a.conn.Close())
	require.NoError(t, a.result())
	require.False(t, h.Registry.Contains("A"))
	require.True(t, h.Registry.Contains("B"))

	// the remaining client keeps receiving broadcasts
	b.change(1, 0, board.Purple)
	cell := b.broadcast()
	require.Equal(t, "B", cell.Owner)
	require.Equal(t, board.Purple, cell.Color)
	require.Equal(t, 1, h.Registry.Len())

	again := connect(t, h)
	snap := again.login("A")
	require.Equal(t, board.Purple, snap.Cells[1*2+0].Color)
}

func TestInvalidChangeRejected(t *testing.T) {
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("A")

	a.change(2, 0, board.Red)
	rej, ok := a.recv().(message.ChangeRejected)
	require.True(t, ok)
	require.Contains(t, rej.Reason, "outside")

	a.change(0, 0, board.Color(20))
	_, ok = a.recv().(message.ChangeRejected)
	require.True(t, ok)

	a.change(1, 1, board.Lime)
	require.Equal(t, board.Lime, a.broadcast().Color)
	require.Equal(t, float64(2), testutil.ToFloat64(h.Metrics().Changes.WithLabelValues("rejected")))
	eventually(t, func() bool {
		return testutil.ToFloat64(h.Metrics().Changes.WithLabelValues("applied")) == 1
	})
}

func TestChangeBeforeLoginIsViolation(t *testing.T) {
	h := newTestHub(t, 2)
	p := connect(t, h)
	p.change(0, 0, board.Red)
	require.Error(t, p.recvErr())
	require.ErrorIs(t, p.result(), message.ErrProtocolViolation)
	require.Equal(t, float64(1), testutil.ToFloat64(h.Metrics().ProtocolViolations))
	c, err := h.Grid.Get(0, 0)
	require.NoError(t, err)
	require.Equal(t, board.DefaultColor, c.Color)
}

func TestChangeIntervalSpacesChanges(t *testing.T) {
	const interval = 200 * time.Millisecond
	h := newTestHub(t, 2, WithChangeInterval(interval))
	a := connect(t, h)
	a.login("A")

	a.change(0, 0, board.Red)
	a.broadcast()
	start := time.Now()
	a.change(0, 1, board.Red)
	a.broadcast()
	require.GreaterOrEqual(t, time.Since(start), interval*3/4)
}

func TestConcurrentWritersConverge(t *testing.T) {
	const perClient = 20
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("A")
	b := connect(t, h)
	b.login("B")

	var wg sync.WaitGroup
	for i, p := range []*peer{a, b} {
		wg.Add(1)
		go func(p *peer, color board.Color) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				if err := p.conn.Send(message.ChangeRequest{Cell: board.Cell{Color: color}}); err != nil {
					return
				}
			}
		}(p, board.Color(i+1))
	}

	var seqA, seqB []board.Cell
	for i := 0; i < 2*perClient; i++ {
		seqA = append(seqA, a.broadcast())
	}
	for i := 0; i < 2*perClient; i++ {
		seqB = append(seqB, b.broadcast())
	}
	wg.Wait()

	require.Equal(t, seqA, seqB)
	final, err := h.Grid.Get(0, 0)
	require.NoError(t, err)
	require.Equal(t, seqA[len(seqA)-1], final)
}

func TestSlowClientDropped(t *testing.T) {
	h := newTestHub(t, 2, WithSendQueue(2))
	slow := connect(t, h)
	slow.send(message.Login{Identity: "slow"})
	eventually(t, func() bool { return h.Registry.Contains("slow") })

	fast := connect(t, h)
	fast.login("fast")
	for i := 0; i < 3; i++ {
		fast.change(0, 0, board.Color(i))
		fast.broadcast()
	}
	eventually(t, func() bool {
		return !h.Registry.Contains("slow") && testutil.ToFloat64(h.Metrics().Dropped) == 1
	})

	// the slow peer gets what was already queued, then the connection ends
	_, ok := slow.recv().(message.LoginAccepted)
	require.True(t, ok)
	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = slow.recvErr()
	}
	require.Error(t, err)
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newTestHub(t, 2)
	a := connect(t, h)
	a.login("A")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	require.Error(t, a.recvErr())
	require.NoError(t, a.result())
	require.Zero(t, h.Registry.Len())
}

func TestServeConnAfterShutdownRefused(t *testing.T) {
	h := newTestHub(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	a, b := net.Pipe()
	defer a.Close()
	require.ErrorIs(t, h.ServeConn(context.Background(), transport.NewStream(b)), ErrHubClosed)
	_, err := transport.NewStream(a).Receive()
	require.True(t, transport.IsClosed(err), "%v", err)
	require.Zero(t, h.Registry.Len())
}

func TestShutdownWaitsForConcurrentConnections(t *testing.T) {
	h := newTestHub(t, 2)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := net.Pipe()
			defer a.Close()
			h.spawn(context.Background(), transport.NewStream(b))
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	wg.Wait()
	require.False(t, h.admit())
}

func TestNewHubRejectsOversizedGrid(t *testing.T) {
	grid, err := board.NewGrid(transport.MaxGridDim+1, 1)
	require.NoError(t, err)
	_, err = NewHub(grid)
	require.ErrorIs(t, err, ErrGridTooLarge)

	grid, err = board.NewGrid(1, transport.MaxGridDim+1)
	require.NoError(t, err)
	_, err = NewHub(grid)
	require.ErrorIs(t, err, ErrGridTooLarge)

	grid, err = board.NewGrid(transport.MaxGridDim, 1)
	require.NoError(t, err)
	h, err := NewHub(grid, WithMetrics(NewMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)
	require.NoError(t, h.Shutdown(context.Background()))
}

func TestServeOverTCP(t *testing.T) {
	h := newTestHub(t, 2)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx, ln) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	p := &peer{t: t, raw: c, conn: transport.NewStream(c), errc: make(chan error, 1)}
	defer p.conn.Close()
	p.login("A")
	p.change(1, 0, board.Navy)
	require.Equal(t, board.Navy, p.broadcast().Color)

	cancel()
	require.NoError(t, <-served)
}

func TestServeWebSocket(t *testing.T) {
	h := newTestHub(t, 2)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := transport.NewWebSocket(ws)
	defer conn.Close()

	require.NoError(t, conn.Send(message.Login{Identity: "A"}))
	m, err := conn.Receive()
	require.NoError(t, err)
	require.IsType(t, message.LoginAccepted{}, m)
	m, err = conn.Receive()
	require.NoError(t, err)
	require.IsType(t, message.GridSnapshot{}, m)

	require.NoError(t, conn.Send(message.ChangeRequest{Cell: board.Cell{Row: 1, Col: 1, Color: board.Teal}}))
	m, err = conn.Receive()
	require.NoError(t, err)
	b, ok := m.(message.ChangeBroadcast)
	require.True(t, ok)
	require.Equal(t, "A", b.Cell.Owner)
	require.Equal(t, board.Teal, b.Cell.Color)
}
