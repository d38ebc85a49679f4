package lnwire

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// mSatScale is the number of millisatoshis in one satoshi.
const mSatScale uint64 = 1000

// MilliSatoshi is the unit used for balances, fees and forwarded amounts.
// Channel capacities stay in whole satoshis.
type MilliSatoshi uint64

// NewMSatFromSatoshis converts a satoshi amount into millisatoshis.
func NewMSatFromSatoshis(sat btcutil.Amount) MilliSatoshi {
	return MilliSatoshi(uint64(sat) * mSatScale)
}

// ToBTC converts the amount to bitcoin.
func (m MilliSatoshi) ToBTC() float64 {
	sat := m.ToSatoshis()
	return sat.ToBTC()
}

// ToSatoshis converts the amount to satoshis, dropping any sub-satoshi
// remainder.
func (m MilliSatoshi) ToSatoshis() btcutil.Amount {
	return btcutil.Amount(uint64(m) / mSatScale)
}

// String returns the amount with its unit.
func (m MilliSatoshi) String() string {
	return fmt.Sprintf("%v mSAT", uint64(m))
}
