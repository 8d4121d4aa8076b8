package hub

import (
	"sync"
	"testing"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu     sync.Mutex
	msgs   []message.Message
	fail   bool
	closed bool
}

func (f *fakeChannel) Deliver(m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return ErrSlowClient
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) received() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func broadcastOf(row, col int, owner string) message.ChangeBroadcast {
	return message.ChangeBroadcast{Cell: board.Cell{Row: row, Col: col, Owner: owner, Color: board.Red}}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("A", &fakeChannel{}, nil))
	err := r.Register("A", &fakeChannel{}, nil)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
	require.Equal(t, 1, r.Len())
}

func TestConcurrentRegisterAdmitsOne(t *testing.T) {
	r := NewRegistry(nil)
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Register("A", &fakeChannel{}, nil); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
	require.Equal(t, []string{"A"}, r.Identities())
}

func TestUnregisterReleasesIdentity(t *testing.T) {
	r := NewRegistry(nil)
	first := &fakeChannel{}
	require.NoError(t, r.Register("A", first, nil))
	require.True(t, r.Unregister("A", first))
	require.False(t, r.Contains("A"))
	require.False(t, r.Unregister("A", first))

	second := &fakeChannel{}
	require.NoError(t, r.Register("A", second, nil))
	// a late unregister from the old connection must not evict the new one
	require.False(t, r.Unregister("A", first))
	require.True(t, r.Contains("A"))
}

func TestGreetingPrecedesBroadcasts(t *testing.T) {
	r := NewRegistry(nil)
	ch := &fakeChannel{}
	greet := func() []message.Message {
		return []message.Message{message.LoginAccepted{Text: "hi"}, message.GridSnapshot{Width: 1, Height: 1}}
	}
	require.NoError(t, r.Register("A", ch, greet))
	require.Equal(t, 1, r.Broadcast(broadcastOf(0, 0, "B")))

	got := ch.received()
	require.Len(t, got, 3)
	require.IsType(t, message.LoginAccepted{}, got[0])
	require.IsType(t, message.GridSnapshot{}, got[1])
	require.IsType(t, message.ChangeBroadcast{}, got[2])
}

func TestBroadcastDropsFailedMembers(t *testing.T) {
	var dropped []string
	r := NewRegistry(func(identity string, err error) {
		require.ErrorIs(t, err, ErrSlowClient)
		dropped = append(dropped, identity)
	})
	channels := make([]*fakeChannel, 6)
	for i := range channels {
		channels[i] = &fakeChannel{fail: i%3 == 2}
		require.NoError(t, r.Register(string(rune('A'+i)), channels[i], nil))
	}

	require.Equal(t, 4, r.Broadcast(broadcastOf(1, 1, "A")))
	require.Equal(t, []string{"C", "F"}, dropped)
	require.Equal(t, []string{"A", "B", "D", "E"}, r.Identities())
	for i, ch := range channels {
		if i%3 == 2 {
			require.True(t, ch.isClosed())
			require.Empty(t, ch.received())
			continue
		}
		require.False(t, ch.isClosed())
		require.Len(t, ch.received(), 1)
	}

	// the remaining members keep receiving
	require.Equal(t, 4, r.Broadcast(broadcastOf(2, 2, "B")))
}

func TestCommitSkipsBroadcastOnError(t *testing.T) {
	r := NewRegistry(nil)
	ch := &fakeChannel{}
	require.NoError(t, r.Register("A", ch, nil))

	errApply := errors.New("nope")
	n, err := r.Commit(func() error { return errApply }, broadcastOf(0, 0, "A"))
	require.ErrorIs(t, err, errApply)
	require.Zero(t, n)
	require.Empty(t, ch.received())

	n, err = r.Commit(func() error { return nil }, broadcastOf(0, 0, "A"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCommitOrderMatchesApplyOrder(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeChannel{}, &fakeChannel{}
	require.NoError(t, r.Register("A", a, nil))
	require.NoError(t, r.Register("B", b, nil))

	grid, err := board.NewSquareGrid(2)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cell := board.Cell{Row: 0, Col: 0, Owner: "A", Color: board.Color(i % board.NumColors), Time: int64(i)}
			_, err := r.Commit(func() error { return grid.Set(cell) }, message.ChangeBroadcast{Cell: cell})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ga, gb := a.received(), b.received()
	require.Len(t, ga, 100)
	require.Equal(t, ga, gb)
	final, err := grid.Get(0, 0)
	require.NoError(t, err)
	require.Equal(t, ga[len(ga)-1].(message.ChangeBroadcast).Cell, final)
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeChannel{}, &fakeChannel{}
	require.NoError(t, r.Register("A", a, nil))
	require.NoError(t, r.Register("B", b, nil))
	r.CloseAll()
	require.Zero(t, r.Len())
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
}
