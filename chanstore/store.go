package chanstore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/multimutex"
	"github.com/lightningnetwork/lnpay/subscribe"
)

// maxIDAttempts bounds the number of channel id draws before giving up on
// an entropy source that keeps returning known ids.
const maxIDAttempts = 10

// Config holds the dependencies and limits of the channel store.
type Config struct {
	// MinCapacity is the smallest channel that may be opened.
	MinCapacity btcutil.Amount

	// MaxCapacity is the largest channel that may be opened.
	MaxCapacity btcutil.Amount

	// Entropy is the source of channel ids. Defaults to crypto/rand.
	Entropy io.Reader

	// Clock provides open and close timestamps.
	Clock clock.Clock

	// DB persists channel records. When nil the store is memory only.
	DB Persister
}

// Store owns the node's payment channels. All balance mutations of a channel
// run under that channel's lock, so operations on different channels proceed
// in parallel while operations on the same channel are serialized.
type Store struct {
	cfg *Config

	// chanMtx serializes mutations per channel.
	chanMtx *multimutex.Mutex[lnwire.ChannelID]

	// mu guards every field below. It is only held for map access, never
	// across persistence calls.
	mu           sync.RWMutex
	minCapacity  btcutil.Amount
	maxCapacity  btcutil.Amount
	channels     map[lnwire.ChannelID]*Channel
	shortIDs     map[lnwire.ShortChannelID]lnwire.ChannelID
	reserved     map[lnwire.ChannelID]lnwire.MilliSatoshi
	reservations map[uint64]*Reservation
	nextResID    uint64

	// commits holds the refs of reservations committed with CommitFor
	// that were not forgotten yet.
	commits map[string]struct{}

	ntfnServer *subscribe.Server
	stopOnce   sync.Once
}

// NewStore creates a channel store and loads any persisted channels.
func NewStore(cfg *Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}
	if err := validateBounds(cfg.MinCapacity, cfg.MaxCapacity); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:          cfg,
		chanMtx:      multimutex.NewMutex[lnwire.ChannelID](),
		minCapacity:  cfg.MinCapacity,
		maxCapacity:  cfg.MaxCapacity,
		channels:     make(map[lnwire.ChannelID]*Channel),
		shortIDs:     make(map[lnwire.ShortChannelID]lnwire.ChannelID),
		reserved:     make(map[lnwire.ChannelID]lnwire.MilliSatoshi),
		reservations: make(map[uint64]*Reservation),
		commits:      make(map[string]struct{}),
		ntfnServer:   subscribe.NewServer(),
	}

	if cfg.DB != nil {
		channels, err := cfg.DB.FetchChannels()
		if err != nil {
			return nil, fmt.Errorf("unable to load channels: %w",
				err)
		}

		for _, c := range channels {
			if err := c.CheckBalanceInvariant(); err != nil {
				return nil, err
			}

			s.channels[c.ChanID] = c
			if !c.ShortChanID.IsDefault() {
				s.shortIDs[c.ShortChanID] = c.ChanID
			}
		}

		refs, err := cfg.DB.FetchCommitRefs()
		if err != nil {
			return nil, fmt.Errorf("unable to load commit refs: %w",
				err)
		}
		for _, ref := range refs {
			s.commits[string(ref)] = struct{}{}
		}

		log.Infof("Loaded %d channels from disk", len(channels))
	}

	if err := s.ntfnServer.Start(); err != nil {
		return nil, err
	}

	return s, nil
}

// Stop shuts down the event notifications of the store.
func (s *Store) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.ntfnServer.Stop()
	})

	return err
}

// validateBounds checks a capacity range.
func validateBounds(minCap, maxCap btcutil.Amount) error {
	if minCap <= 0 || maxCap <= 0 {
		return fmt.Errorf("channel capacity bounds must be positive, "+
			"got min=%v max=%v", minCap, maxCap)
	}
	if minCap > maxCap {
		return fmt.Errorf("min channel capacity %v above max %v",
			minCap, maxCap)
	}

	return nil
}

// CapacityBounds returns the current channel capacity range.
func (s *Store) CapacityBounds() (btcutil.Amount, btcutil.Amount) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.minCapacity, s.maxCapacity
}

// SetCapacityBounds changes the capacity range for channels opened from now
// on. Existing channels are unaffected.
func (s *Store) SetCapacityBounds(minCap, maxCap btcutil.Amount) error {
	if err := validateBounds(minCap, maxCap); err != nil {
		return err
	}

	s.mu.Lock()
	s.minCapacity, s.maxCapacity = minCap, maxCap
	s.mu.Unlock()

	return nil
}

// SubscribeChannelEvents returns a client receiving channel events.
func (s *Store) SubscribeChannelEvents() (*subscribe.Client, error) {
	return s.ntfnServer.Subscribe()
}

// notify sends a channel event. Errors only happen during shutdown.
func (s *Store) notify(event interface{}) {
	if err := s.ntfnServer.SendUpdate(event); err != nil {
		log.Debugf("Unable to send channel event: %v", err)
	}
}

// Open creates a new channel with the peer in the Opening state and returns
// its id. The push amount is credited to the peer's side.
func (s *Store) Open(peer []byte, capacity,
	push btcutil.Amount) (lnwire.ChannelID, error) {

	var zero lnwire.ChannelID

	if len(peer) != PeerKeySize {
		return zero, chanErr("open", zero, fmt.Errorf("%w: expected "+
			"%d bytes, got %d", ErrInvalidPeerKey, PeerKeySize,
			len(peer)))
	}
	if _, err := btcec.ParsePubKey(peer); err != nil {
		return zero, chanErr("open", zero, fmt.Errorf("%w: %v",
			ErrInvalidPeerKey, err))
	}

	minCap, maxCap := s.CapacityBounds()
	switch {
	case capacity < minCap:
		return zero, chanErr("open", zero, fmt.Errorf("%w: %v < %v",
			ErrCapacityTooSmall, capacity, minCap))

	case capacity > maxCap:
		return zero, chanErr("open", zero, fmt.Errorf("%w: %v > %v",
			ErrCapacityTooLarge, capacity, maxCap))

	case push < 0 || push > capacity:
		return zero, chanErr("open", zero, fmt.Errorf("%w: %v",
			ErrInvalidPushAmount, push))
	}

	chanID, err := s.newChannelID()
	if err != nil {
		return zero, err
	}

	c := &Channel{
		ChanID:        chanID,
		Capacity:      capacity,
		PushAmount:    push,
		LocalBalance:  lnwire.NewMSatFromSatoshis(capacity - push),
		RemoteBalance: lnwire.NewMSatFromSatoshis(push),
		State:         StateOpening,
		OpenedAt:      s.cfg.Clock.Now(),
	}
	copy(c.PeerPub[:], peer)

	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	if err := s.commitChannel(c); err != nil {
		return zero, err
	}

	log.Infof("Opened channel %v with peer %x, capacity=%v push=%v",
		chanID, peer, capacity, push)

	s.notify(&PendingOpenEvent{Channel: c.Copy()})

	return chanID, nil
}

// newChannelID draws a channel id not yet used by this store.
func (s *Store) newChannelID() (lnwire.ChannelID, error) {
	for i := 0; i < maxIDAttempts; i++ {
		chanID, err := lnwire.NewChannelID(s.cfg.Entropy)
		if err != nil {
			return chanID, err
		}

		s.mu.RLock()
		_, exists := s.channels[chanID]
		s.mu.RUnlock()

		if !exists {
			return chanID, nil
		}
	}

	return lnwire.ChannelID{}, errors.New("unable to allocate unique " +
		"channel id")
}

// commitChannel persists the new channel version and then swaps it in. The
// caller must hold the channel lock.
func (s *Store) commitChannel(c *Channel) error {
	return s.commitChannelRef(c, nil)
}

// commitChannelRef is commitChannel that also records ref, when set, in the
// same write as the channel.
func (s *Store) commitChannelRef(c *Channel, ref []byte) error {
	if s.cfg.DB != nil {
		var err error
		if ref != nil {
			err = s.cfg.DB.PutChannelCommit(c, ref)
		} else {
			err = s.cfg.DB.PutChannel(c)
		}
		if err != nil {
			return fmt.Errorf("unable to persist channel %v: %w",
				c.ChanID, err)
		}
	}

	s.mu.Lock()
	s.channels[c.ChanID] = c
	if !c.ShortChanID.IsDefault() {
		s.shortIDs[c.ShortChanID] = c.ChanID
	}
	if ref != nil {
		s.commits[string(ref)] = struct{}{}
	}
	s.mu.Unlock()

	return nil
}

// fetchLocked returns a copy of the channel for modification. The caller
// must hold the channel lock.
func (s *Store) fetchLocked(op string, chanID lnwire.ChannelID) (*Channel,
	error) {

	s.mu.RLock()
	c, ok := s.channels[chanID]
	s.mu.RUnlock()

	if !ok {
		return nil, chanErr(op, chanID, ErrChannelNotFound)
	}

	return c.Copy(), nil
}

// reservedFor returns the amount reserved on a channel.
func (s *Store) reservedFor(chanID lnwire.ChannelID) lnwire.MilliSatoshi {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reserved[chanID]
}

// ConfirmFunding moves an Opening channel to Active once its funding output
// confirmed at scid.
func (s *Store) ConfirmFunding(chanID lnwire.ChannelID,
	scid lnwire.ShortChannelID) error {

	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	c, err := s.fetchLocked("confirm", chanID)
	if err != nil {
		return err
	}
	if !c.State.CanTransition(StateActive) {
		return chanErr("confirm", chanID, fmt.Errorf("%w: %v -> %v",
			ErrInvalidTransition, c.State, StateActive))
	}

	s.mu.RLock()
	_, used := s.shortIDs[scid]
	s.mu.RUnlock()
	if scid.IsDefault() || used {
		return chanErr("confirm", chanID, fmt.Errorf("%w: %v",
			ErrInvalidShortChanID, scid))
	}

	c.ShortChanID = scid
	c.State = StateActive
	if err := s.commitChannel(c); err != nil {
		return err
	}

	log.Infof("Channel %v active at %v", chanID, scid)

	s.notify(&ActiveChannelEvent{Channel: c.Copy()})

	return nil
}

// Close cooperatively closes an Active channel, moving it through Closing to
// Closed. A channel left in Closing by an interrupted close is completed.
func (s *Store) Close(chanID lnwire.ChannelID) error {
	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	c, err := s.fetchLocked("close", chanID)
	if err != nil {
		return err
	}

	switch {
	case c.State.IsTerminal():
		return chanErr("close", chanID, ErrChannelTerminal)

	case c.State == StateOpening:
		return chanErr("close", chanID, fmt.Errorf("%w: %v -> %v",
			ErrInvalidTransition, c.State, StateClosing))
	}

	if s.reservedFor(chanID) != 0 {
		return chanErr("close", chanID, ErrPendingReservations)
	}

	if c.State == StateActive {
		c.State = StateClosing
		if err := s.commitChannel(c); err != nil {
			return err
		}
		c = c.Copy()

		log.Debugf("Channel %v closing", chanID)
	}

	c.State = StateClosed
	c.ClosedAt = s.cfg.Clock.Now()
	if err := s.commitChannel(c); err != nil {
		return err
	}

	log.Infof("Channel %v closed, final local balance %v", chanID,
		c.LocalBalance)

	s.notify(&ClosedChannelEvent{Channel: c.Copy()})

	return nil
}

// ForceClose unilaterally closes a channel, or abandons one whose funding
// failed.
func (s *Store) ForceClose(chanID lnwire.ChannelID) error {
	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	c, err := s.fetchLocked("force close", chanID)
	if err != nil {
		return err
	}
	if c.State.IsTerminal() {
		return chanErr("force close", chanID, ErrChannelTerminal)
	}
	if s.reservedFor(chanID) != 0 {
		return chanErr("force close", chanID, ErrPendingReservations)
	}

	prev := c.State
	c.State = StateForceClosed
	c.ClosedAt = s.cfg.Clock.Now()
	if err := s.commitChannel(c); err != nil {
		return err
	}

	log.Warnf("Channel %v force closed from state %v", chanID, prev)

	s.notify(&ClosedChannelEvent{Channel: c.Copy(), Forced: true})

	return nil
}

// Settle applies a balance delta to an Active channel. It is the only way
// balances change outside of reservations. A resulting negative balance or
// a dip below the outstanding reservations is rejected; a delta that would
// break local + remote == capacity is fatal.
func (s *Store) Settle(chanID lnwire.ChannelID, deltaLocal,
	deltaRemote int64) error {

	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	return s.settleLocked(chanID, deltaLocal, deltaRemote, 0, nil)
}

// settleLocked applies a delta. released is the part of the channel's
// reservations consumed by this settlement, ref an optional commit marker
// stored with it. The caller must hold the channel lock.
func (s *Store) settleLocked(chanID lnwire.ChannelID, deltaLocal,
	deltaRemote int64, released lnwire.MilliSatoshi, ref []byte) error {

	c, err := s.fetchLocked("settle", chanID)
	if err != nil {
		return err
	}
	if c.State != StateActive {
		return chanErr("settle", chanID, fmt.Errorf("%w: %v",
			ErrChannelNotActive, c.State))
	}

	newLocal := int64(c.LocalBalance) + deltaLocal
	newRemote := int64(c.RemoteBalance) + deltaRemote
	if newLocal < 0 || newRemote < 0 {
		return chanErr("settle", chanID, fmt.Errorf("%w: local=%d "+
			"remote=%d", ErrInsufficientBalance, newLocal,
			newRemote))
	}

	remainingReserved := s.reservedFor(chanID) - released
	if lnwire.MilliSatoshi(newLocal) < remainingReserved {
		return chanErr("settle", chanID, fmt.Errorf("%w: local %d "+
			"below reserved %v", ErrInsufficientBalance, newLocal,
			remainingReserved))
	}

	c.LocalBalance = lnwire.MilliSatoshi(newLocal)
	c.RemoteBalance = lnwire.MilliSatoshi(newRemote)
	if err := c.CheckBalanceInvariant(); err != nil {
		log.Criticalf("Refusing settlement on %v (delta_local=%d "+
			"delta_remote=%d): %v", chanID, deltaLocal,
			deltaRemote, err)

		return err
	}

	if err := s.commitChannelRef(c, ref); err != nil {
		return err
	}

	log.Debugf("Settled %v: delta_local=%d delta_remote=%d", c,
		deltaLocal, deltaRemote)

	s.notify(&BalanceUpdateEvent{Channel: c.Copy()})

	return nil
}

// FetchChannel returns a copy of the channel with the given id.
func (s *Store) FetchChannel(chanID lnwire.ChannelID) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.channels[chanID]
	if !ok {
		return nil, chanErr("fetch", chanID, ErrChannelNotFound)
	}

	return c.Copy(), nil
}

// FetchByShortID returns a copy of the channel confirmed at scid.
func (s *Store) FetchByShortID(scid lnwire.ShortChannelID) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chanID, ok := s.shortIDs[scid]
	if !ok {
		return nil, chanErr("fetch", lnwire.ChannelID{},
			fmt.Errorf("%w: short id %v", ErrChannelNotFound, scid))
	}

	return s.channels[chanID].Copy(), nil
}

// List returns copies of all channels ordered by open time.
func (s *Store) List() []*Channel {
	return s.filter(func(*Channel) bool { return true })
}

// Active returns copies of the Active channels ordered by open time.
func (s *Store) Active() []*Channel {
	return s.filter(func(c *Channel) bool {
		return c.State == StateActive
	})
}

// filter returns sorted copies of the channels matching keep.
func (s *Store) filter(keep func(*Channel) bool) []*Channel {
	s.mu.RLock()
	channels := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if keep(c) {
			channels = append(channels, c.Copy())
		}
	}
	s.mu.RUnlock()

	sort.Slice(channels, func(i, j int) bool {
		if !channels[i].OpenedAt.Equal(channels[j].OpenedAt) {
			return channels[i].OpenedAt.Before(
				channels[j].OpenedAt,
			)
		}

		return bytes.Compare(
			channels[i].ChanID[:], channels[j].ChanID[:],
		) < 0
	})

	return channels
}

// TotalLocalBalance returns the sum of local balances over Active channels.
func (s *Store) TotalLocalBalance() lnwire.MilliSatoshi {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total lnwire.MilliSatoshi
	for _, c := range s.channels {
		if c.State == StateActive {
			total += c.LocalBalance
		}
	}

	return total
}

// AvailableBalance returns the local balance of a channel that is not
// reserved by in-flight payments. Channels that are not Active have none.
func (s *Store) AvailableBalance(chanID lnwire.ChannelID) lnwire.MilliSatoshi {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.channels[chanID]
	if !ok || c.State != StateActive {
		return 0
	}

	return c.LocalBalance - s.reserved[chanID]
}

// TotalAvailableBalance returns the spendable balance over all Active
// channels net of outstanding reservations.
func (s *Store) TotalAvailableBalance() lnwire.MilliSatoshi {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total lnwire.MilliSatoshi
	for id, c := range s.channels {
		if c.State == StateActive {
			total += c.LocalBalance - s.reserved[id]
		}
	}

	return total
}
