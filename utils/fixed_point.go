package utils

// Precision is the fixed-point scaling factor shared by every protocol stage.
// Features, weights and the clipping threshold are stored as value*Precision
// integers, matching the parameterization of the proof circuits.
const Precision = 1000

func FloatToFixed(f float64) int64 {
	if f >= 0 {
		return int64(f*Precision + 0.5)
	}
	return int64(f*Precision - 0.5)
}

func FixedToFloat(v int64) float64 {
	return float64(v) / Precision
}

// Signed is a tagged sign-magnitude value. The sign is explicit, never inferred
// from field ordering; conversion to the biased representation (p + value for
// negatives) happens only at the proof-system boundary.
type Signed struct {
	Neg bool
	Mag uint64
}

func NewSigned(v int64) Signed {
	if v < 0 {
		return Signed{Neg: true, Mag: uint64(-v)}
	}
	return Signed{Mag: uint64(v)}
}

func (s Signed) Int64() int64 {
	if s.Neg {
		return -int64(s.Mag)
	}
	return int64(s.Mag)
}
