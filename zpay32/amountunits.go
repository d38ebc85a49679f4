package zpay32

import (
	"fmt"
	"math"
	"strconv"

	"github.com/lightningnetwork/lnpay/lnwire"
)

// mSatPerBtc is the number of millisatoshis in 1 BTC.
const mSatPerBtc = 100_000_000_000

// picoSuffix marks amounts in pico BTC, a tenth of a millisatoshi.
const picoSuffix = 'p'

// amountUnit is a multiplier of the human readable invoice amount.
type amountUnit struct {
	suffix byte
	mSat   lnwire.MilliSatoshi
}

// amountUnits are the multipliers worth at least one millisatoshi, largest
// first.
var amountUnits = []amountUnit{
	{suffix: 'm', mSat: 100_000_000},
	{suffix: 'u', mSat: 100_000},
	{suffix: 'n', mSat: 100},
}

// scale multiplies n by unit, failing instead of overflowing.
func scale(n uint64, unit lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {
	if n > math.MaxUint64/uint64(unit) {
		return 0, fmt.Errorf("amount %d overflows", n)
	}

	return lnwire.MilliSatoshi(n) * unit, nil
}

// decodeAmount returns the amount encoded by the provided string in
// millisatoshi.
func decodeAmount(amount string) (lnwire.MilliSatoshi, error) {
	if len(amount) < 1 {
		return 0, fmt.Errorf("amount must be non-empty")
	}

	// A trailing digit means the amount is in whole BTC.
	suffix := amount[len(amount)-1]
	if suffix >= '0' && suffix <= '9' {
		btc, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return 0, err
		}

		return scale(btc, mSatPerBtc)
	}

	num := amount[:len(amount)-1]
	if len(num) < 1 {
		return 0, fmt.Errorf("number must be non-empty")
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, err
	}

	if suffix == picoSuffix {
		switch {
		case n < 10:
			return 0, fmt.Errorf("minimum amount is 10p")

		case n%10 != 0:
			return 0, fmt.Errorf("amount %d pBTC not expressible "+
				"in msat", n)
		}

		return lnwire.MilliSatoshi(n / 10), nil
	}

	for _, unit := range amountUnits {
		if unit.suffix == suffix {
			return scale(n, unit.mSat)
		}
	}

	return 0, fmt.Errorf("unknown multiplier %c", suffix)
}

// encodeAmount encodes the provided millisatoshi amount using as few
// characters as possible. On a tie the larger unit wins.
func encodeAmount(msat lnwire.MilliSatoshi) (string, error) {
	if msat%mSatPerBtc == 0 {
		return strconv.FormatUint(uint64(msat/mSatPerBtc), 10), nil
	}

	if msat > math.MaxUint64/10 {
		return "", fmt.Errorf("unable to express %d msat as pBTC",
			msat)
	}
	shortest := strconv.FormatUint(uint64(msat)*10, 10) +
		string(picoSuffix)

	for i := len(amountUnits) - 1; i >= 0; i-- {
		unit := amountUnits[i]
		if msat%unit.mSat != 0 {
			continue
		}

		s := strconv.FormatUint(uint64(msat/unit.mSat), 10) +
			string(unit.suffix)
		if len(s) <= len(shortest) {
			shortest = s
		}
	}

	return shortest, nil
}
