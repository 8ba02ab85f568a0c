package mtbd

import (
	"math"
	"strconv"
)

//SmallNumber represents a non-negative real number as a mantissa in [0.5,1)
//together with a base-2 exponent, so that products of many tiny
//probabilities do not underflow to zero. The zero value is an exact zero.
//A mantissa <= 0 always means exact zero.
type SmallNumber struct {
	Mantissa float64
	Exponent int
}

//NewSmallNumber will build a normalized SmallNumber from a plain float.
//Values <= 0 collapse to the exact zero.
func NewSmallNumber(x float64) SmallNumber {
	if x <= 0 {
		return SmallNumber{}
	}
	m, e := math.Frexp(x)
	return SmallNumber{Mantissa: m, Exponent: e}
}

//IsZero reports whether s is the exact zero
func (s SmallNumber) IsZero() bool {
	return s.Mantissa <= 0
}

//MultiplyBy will return the product of s and o, renormalized
func (s SmallNumber) MultiplyBy(o SmallNumber) SmallNumber {
	if s.IsZero() || o.IsZero() {
		return SmallNumber{}
	}
	m, e := math.Frexp(s.Mantissa * o.Mantissa)
	return SmallNumber{Mantissa: m, Exponent: s.Exponent + o.Exponent + e}
}

//ScalarMultiplyBy will multiply s by a plain float and renormalize.
//Non-positive scalars collapse the result to zero.
func (s SmallNumber) ScalarMultiplyBy(x float64) SmallNumber {
	if s.IsZero() || x <= 0 {
		return SmallNumber{}
	}
	m, e := math.Frexp(s.Mantissa * x)
	return SmallNumber{Mantissa: m, Exponent: s.Exponent + e}
}

//AddTo will return the sum of s and o. When the exponents are too far
//apart for the smaller term to register in a double, the larger term is
//returned unchanged.
func (s SmallNumber) AddTo(o SmallNumber) SmallNumber {
	if s.IsZero() {
		return o
	}
	if o.IsZero() {
		return s
	}
	if s.Exponent < o.Exponent {
		s, o = o, s
	}
	d := o.Exponent - s.Exponent
	if d < -1074 {
		return s
	}
	m, e := math.Frexp(s.Mantissa + math.Ldexp(o.Mantissa, d))
	return SmallNumber{Mantissa: m, Exponent: s.Exponent + e}
}

//Ldexp will return s scaled by 2^shift
func (s SmallNumber) Ldexp(shift int) SmallNumber {
	if s.IsZero() {
		return SmallNumber{}
	}
	return SmallNumber{Mantissa: s.Mantissa, Exponent: s.Exponent + shift}
}

//Log will return the natural logarithm of the represented value,
//or -Inf for zero
func (s SmallNumber) Log() float64 {
	if s.IsZero() {
		return math.Inf(-1)
	}
	return math.Log(s.Mantissa) + float64(s.Exponent)*math.Ln2
}

//Float64 converts back to a plain float. Values outside the representable
//double range saturate to 0 or +Inf.
func (s SmallNumber) Float64() float64 {
	if s.IsZero() {
		return 0
	}
	return math.Ldexp(s.Mantissa, s.Exponent)
}

func (s SmallNumber) String() string {
	if s.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(s.Mantissa, 'g', -1, 64) + "*2^" + strconv.Itoa(s.Exponent)
}
