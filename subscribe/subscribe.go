package subscribe

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"
)

// ErrServerShuttingDown is returned once the server has been stopped.
var ErrServerShuttingDown = errors.New("subscription server shutting down")

// defaultQueueSize is the initial buffer of each client's update queue. The
// queue grows beyond it, so a slow client never blocks the server.
const defaultQueueSize = 20

// Filter decides whether an update is delivered to a client.
type Filter func(update interface{}) bool

// Client receives the updates it subscribed to.
type Client struct {
	cancel func()
	filter Filter

	updates *queue.ConcurrentQueue
	quit    chan struct{}
}

// Updates returns a read-only channel where the updates the client has
// subscribed to will be delivered.
func (c *Client) Updates() <-chan interface{} {
	return c.updates.ChanOut()
}

// Quit is closed when the server stops delivering updates to this client.
func (c *Client) Quit() <-chan struct{} {
	return c.quit
}

// Cancel ends the subscription.
func (c *Client) Cancel() {
	c.cancel()
}

// close stops the update queue and signals Quit.
func (c *Client) close() {
	c.updates.Stop()
	close(c.quit)
}

// Server fans out every update it is sent to all active clients whose
// filter accepts it. A single goroutine owns the client set; subscriptions,
// cancellations and updates reach it over channels.
type Server struct {
	started atomic.Bool
	stopped atomic.Bool

	nextClientID atomic.Uint64
	numClients   atomic.Int64

	clients map[uint64]*Client

	register   chan registration
	unregister chan uint64
	updates    chan interface{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// registration hands a new client to the handler goroutine.
type registration struct {
	id     uint64
	client *Client
}

// NewServer returns a new Server.
func NewServer() *Server {
	return &Server{
		clients:    make(map[uint64]*Client),
		register:   make(chan registration),
		unregister: make(chan uint64),
		updates:    make(chan interface{}),
		quit:       make(chan struct{}),
	}
}

// Start starts the Server, making it ready to accept subscriptions and
// updates.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.wg.Add(1)
	go s.subscriptionHandler()

	return nil
}

// Stop stops the server and closes the Quit channel of every client.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(s.quit)
	s.wg.Wait()

	return nil
}

// Subscribe returns a Client that receives every future update.
func (s *Server) Subscribe() (*Client, error) {
	return s.SubscribeFiltered(nil)
}

// SubscribeFiltered returns a Client that only receives updates accepted by
// filter. A nil filter accepts everything.
func (s *Server) SubscribeFiltered(filter Filter) (*Client, error) {
	id := s.nextClientID.Add(1)

	client := &Client{
		filter:  filter,
		updates: queue.NewConcurrentQueue(defaultQueueSize),
		quit:    make(chan struct{}),
		cancel: func() {
			select {
			case s.unregister <- id:
			case <-s.quit:
			}
		},
	}

	select {
	case s.register <- registration{id: id, client: client}:
		return client, nil

	case <-s.quit:
		return nil, ErrServerShuttingDown
	}
}

// SendUpdate delivers update to all currently active clients.
func (s *Server) SendUpdate(update interface{}) error {
	select {
	case s.updates <- update:
		return nil

	case <-s.quit:
		return ErrServerShuttingDown
	}
}

// NumClients returns the number of active subscriptions.
func (s *Server) NumClients() int {
	return int(s.numClients.Load())
}

// subscriptionHandler owns the client set and forwards updates.
//
// NOTE: MUST be run as a goroutine.
func (s *Server) subscriptionHandler() {
	defer s.wg.Done()

	for {
		select {
		case reg := <-s.register:
			reg.client.updates.Start()
			s.clients[reg.id] = reg.client
			s.numClients.Add(1)

		case id := <-s.unregister:
			if client, ok := s.clients[id]; ok {
				delete(s.clients, id)
				s.numClients.Add(-1)
				client.close()
			}

		case update := <-s.updates:
			if !s.broadcast(update) {
				return
			}

		case <-s.quit:
			for _, client := range s.clients {
				client.close()
			}

			return
		}
	}
}

// broadcast hands update to every client accepting it. It returns false if
// the server quit meanwhile.
func (s *Server) broadcast(update interface{}) bool {
	for _, client := range s.clients {
		if client.filter != nil && !client.filter(update) {
			continue
		}

		select {
		case client.updates.ChanIn() <- update:
		case <-client.quit:
		case <-s.quit:
			return false
		}
	}

	return true
}
