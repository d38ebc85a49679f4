package subscribe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvUpdate(t *testing.T, c *Client) interface{} {
	t.Helper()

	select {
	case upd := <-c.Updates():
		return upd
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return nil
	}
}

// TestServerFanOut checks that every client gets updates in send order and
// that filters are honored.
func TestServerFanOut(t *testing.T) {
	t.Parallel()

	s := NewServer()
	require.NoError(t, s.Start())
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	all, err := s.Subscribe()
	require.NoError(t, err)

	evens, err := s.SubscribeFiltered(func(u interface{}) bool {
		return u.(int)%2 == 0
	})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.SendUpdate(i))
	}

	for i := 1; i <= 4; i++ {
		require.Equal(t, i, recvUpdate(t, all))
	}
	require.Equal(t, 2, recvUpdate(t, evens))
	require.Equal(t, 4, recvUpdate(t, evens))
	require.Equal(t, 2, s.NumClients())

	all.Cancel()
	select {
	case <-all.Quit():
	case <-time.After(time.Second):
		t.Fatal("cancelled client not released")
	}
	require.Equal(t, 1, s.NumClients())
}

// TestServerStopped makes sure a stopped server rejects new work.
func TestServerStopped(t *testing.T) {
	t.Parallel()

	s := NewServer()
	require.NoError(t, s.Start())

	c, err := s.Subscribe()
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	<-c.Quit()

	_, err = s.Subscribe()
	require.ErrorIs(t, err, ErrServerShuttingDown)
	require.ErrorIs(t, s.SendUpdate(1), ErrServerShuttingDown)
}
