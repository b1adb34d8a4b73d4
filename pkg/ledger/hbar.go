package ledger

import (
	"strconv"
)

// Hbar is an amount of the ledger's native currency in tinybars.
type Hbar int64

// Denominations.
const (
	Tinybar Hbar = 1
	OneHbar Hbar = 100_000_000
)

// HbarFromTinybars returns the amount of the given number of tinybars.
func HbarFromTinybars(t int64) Hbar {
	return Hbar(t)
}

// Tinybars returns the amount in tinybars.
func (h Hbar) Tinybars() int64 {
	return int64(h)
}

// String implements the fmt.Stringer interface. Small amounts are printed in
// tinybars, everything else in hbars.
func (h Hbar) String() string {
	if h > -10_000 && h < 10_000 {
		return strconv.FormatInt(int64(h), 10) + " tℏ"
	}
	return strconv.FormatFloat(float64(h)/float64(OneHbar), 'f', -1, 64) + " ℏ"
}
