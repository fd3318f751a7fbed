package common

import (
	"errors"
	"math/big"
)

var ErrVolumeCapExceeded = errors.New("daily volume cap exceeded")

// VolumeNow captures the traded volume consumed by an address within the
// current UTC calendar day.
type VolumeNow struct {
	Used  *big.Int
	DayID uint64
}

// Clone returns a copy of the counters with a duplicated big.Int value.
func (v VolumeNow) Clone() VolumeNow {
	clone := VolumeNow{DayID: v.DayID}
	if v.Used != nil {
		clone.Used = new(big.Int).Set(v.Used)
	} else {
		clone.Used = big.NewInt(0)
	}
	return clone
}

// DayID buckets a unix timestamp into its UTC calendar day. Calendar-day
// buckets admit up to double the cap across a midnight boundary; the limit is
// an operational guard rather than a hard invariant, so the simpler bucketing
// is retained.
func DayID(unix int64) uint64 {
	if unix < 0 {
		return 0
	}
	return uint64(unix) / 86_400
}

// CheckVolume verifies whether the additional traded volume fits within the
// configured daily cap. A nil or non-positive cap disables the check. The
// returned VolumeNow reflects the updated counters when the cap is not
// exceeded; on denial the previous counters are returned unchanged.
func CheckVolume(cap *big.Int, nowDay uint64, prev VolumeNow, add *big.Int) (VolumeNow, error) {
	next := prev.Clone()
	if next.DayID != nowDay {
		next = VolumeNow{Used: big.NewInt(0), DayID: nowDay}
	}
	if add != nil && add.Sign() > 0 {
		next.Used = new(big.Int).Add(next.Used, add)
	}
	if cap != nil && cap.Sign() > 0 && next.Used.Cmp(cap) > 0 {
		return prev.Clone(), ErrVolumeCapExceeded
	}
	return next, nil
}
