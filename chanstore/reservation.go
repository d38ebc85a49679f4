package chanstore

import (
	"fmt"

	"github.com/lightningnetwork/lnpay/lnwire"
)

// Reservation is an amount of local balance set aside on a channel for an
// in-flight payment. It must end in exactly one Release or Commit.
type Reservation struct {
	// ID identifies the reservation within the store.
	ID uint64

	// ChanID is the channel the amount is reserved on.
	ChanID lnwire.ChannelID

	// Amount is the reserved local balance.
	Amount lnwire.MilliSatoshi
}

// String returns a short description of the reservation for logs.
func (r *Reservation) String() string {
	return fmt.Sprintf("reservation %d (%v on %v)", r.ID, r.Amount,
		r.ChanID)
}

// Reserve sets amt of the channel's local balance aside. The sum of
// outstanding reservations on a channel never exceeds its local balance, so
// two payments racing on the same channel cannot both claim the same
// liquidity.
func (s *Store) Reserve(chanID lnwire.ChannelID,
	amt lnwire.MilliSatoshi) (*Reservation, error) {

	if amt == 0 {
		return nil, chanErr("reserve", chanID, ErrInvalidAmount)
	}

	s.chanMtx.Lock(chanID)
	defer s.chanMtx.Unlock(chanID)

	c, err := s.fetchLocked("reserve", chanID)
	if err != nil {
		return nil, err
	}
	if c.State != StateActive {
		return nil, chanErr("reserve", chanID, fmt.Errorf("%w: %v",
			ErrChannelNotActive, c.State))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	available := c.LocalBalance - s.reserved[chanID]
	if amt > available {
		return nil, chanErr("reserve", chanID, fmt.Errorf("%w: "+
			"requested %v, available %v", ErrInsufficientBalance,
			amt, available))
	}

	s.nextResID++
	res := &Reservation{
		ID:     s.nextResID,
		ChanID: chanID,
		Amount: amt,
	}
	s.reservations[res.ID] = res
	s.reserved[chanID] += amt

	log.Tracef("Created %v", res)

	return res, nil
}

// Release drops a reservation without moving any balance.
func (s *Store) Release(res *Reservation) error {
	s.chanMtx.Lock(res.ChanID)
	defer s.chanMtx.Unlock(res.ChanID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dropReservationLocked(res); err != nil {
		return err
	}

	log.Tracef("Released %v", res)

	return nil
}

// Commit settles a reservation: the reserved amount moves from the local
// to the remote side of the channel.
func (s *Store) Commit(res *Reservation) error {
	return s.CommitFor(res, nil)
}

// CommitFor is Commit that stores ref in the same write as the moved
// balance. After a crash, IsCommitted tells whether the commit landed.
func (s *Store) CommitFor(res *Reservation, ref []byte) error {
	s.chanMtx.Lock(res.ChanID)
	defer s.chanMtx.Unlock(res.ChanID)

	s.mu.RLock()
	_, ok := s.reservations[res.ID]
	s.mu.RUnlock()
	if !ok {
		return chanErr("commit", res.ChanID, fmt.Errorf("%w: %d",
			ErrUnknownReservation, res.ID))
	}

	err := s.settleLocked(
		res.ChanID, -int64(res.Amount), int64(res.Amount), res.Amount,
		ref,
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dropReservationLocked(res); err != nil {
		return err
	}

	log.Tracef("Committed %v", res)

	return nil
}

// IsCommitted reports whether a reservation was committed with ref and the
// ref was not forgotten since.
func (s *Store) IsCommitted(ref []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.commits[string(ref)]

	return ok
}

// ForgetCommit drops the marker of ref once its owner recorded the outcome.
func (s *Store) ForgetCommit(ref []byte) error {
	if s.cfg.DB != nil {
		if err := s.cfg.DB.DeleteCommitRef(ref); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.commits, string(ref))
	s.mu.Unlock()

	return nil
}

// dropReservationLocked removes a reservation. The caller must hold both the
// channel lock and mu.
func (s *Store) dropReservationLocked(res *Reservation) error {
	if _, ok := s.reservations[res.ID]; !ok {
		return chanErr("release", res.ChanID, fmt.Errorf("%w: %d",
			ErrUnknownReservation, res.ID))
	}

	delete(s.reservations, res.ID)
	s.reserved[res.ChanID] -= res.Amount
	if s.reserved[res.ChanID] == 0 {
		delete(s.reserved, res.ChanID)
	}

	return nil
}

// ReservedBalance returns the amount currently reserved on the channel.
func (s *Store) ReservedBalance(chanID lnwire.ChannelID) lnwire.MilliSatoshi {
	return s.reservedFor(chanID)
}

// Reservations returns the outstanding reservations on a channel.
func (s *Store) Reservations(chanID lnwire.ChannelID) []Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Reservation
	for _, res := range s.reservations {
		if res.ChanID == chanID {
			out = append(out, *res)
		}
	}

	return out
}
