package domain

import "math/big"

// Scales in play throughout the engine (spec §3):
//   - raw-token units, scaled by the token's own decimals
//   - 1e18-normalized ("ray-like") for USD prices and cross-token arithmetic
//   - basis points (1bp = 1/10000) for ratios
//
// All of it is exact-integer math over *big.Int. Float64 is only used for
// the display health factor and score tie-breaking (spec §3).

// Ray1e18 is the fixed-point unit used for USD prices and normalized amounts.
var Ray1e18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(uint64(n)), nil)
}

// Rescale converts x from a `from`-decimal fixed point to a `to`-decimal
// fixed point using exact integer arithmetic. When `from < to` this is an
// exact multiply; when `from > to` it is a truncating integer division —
// documented, intentional rounding-down behavior (spec §4.I).
func Rescale(x *big.Int, from, to uint) *big.Int {
	if from == to {
		return new(big.Int).Set(x)
	}
	if from < to {
		return new(big.Int).Mul(x, pow10(to-from))
	}
	return new(big.Int).Quo(x, pow10(from-to))
}

// RescaleTo1e18 is Rescale(x, decimals, 18).
func RescaleTo1e18(x *big.Int, decimals uint) *big.Int {
	return Rescale(x, decimals, 18)
}

// ApplyBps computes x * bps / 10000 with exact integer truncation.
// ApplyBps(x, 10000) == x; ApplyBps(x, 0) == 0 (spec §8 round-trip laws).
func ApplyBps(x *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(bps))
	return out.Quo(out, big.NewInt(10000))
}

// MulDiv1e18 computes a*b/1e18, the standard ray-multiply used throughout
// the planner and price composition paths.
func MulDiv1e18(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, Ray1e18)
}

// DivMul1e18 computes a*1e18/b, the standard ray-divide.
func DivMul1e18(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Ray1e18)
	return out.Quo(out, b)
}

// HFDisplay converts a 1e18-scaled health factor into a float64 for logging
// and display only (spec §3: floats permitted only at this boundary).
func HFDisplay(hf1e18 *big.Int) float64 {
	if hf1e18 == nil {
		return 0
	}
	f := new(big.Float).SetInt(hf1e18)
	f.Quo(f, new(big.Float).SetInt(Ray1e18))
	out, _ := f.Float64()
	return out
}
