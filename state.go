package mtbd

import "math"

//P0State holds one extinction probability per type
type P0State struct {
	P0 []float64
}

//NewP0State will return a zeroed extinction state for n types
func NewP0State(n int) *P0State {
	return &P0State{P0: make([]float64, n)}
}

//P0GeState is the per-edge pair of extinction probabilities and
//extended-precision partial likelihood densities, one entry per type
type P0GeState struct {
	P0 []float64
	Ge []SmallNumber
}

//NewP0GeState will return a zeroed state for n types
func NewP0GeState(n int) *P0GeState {
	return &P0GeState{
		P0: make([]float64, n),
		Ge: make([]SmallNumber, n),
	}
}

//scaleFactorLimit caps the shared factor so unscaling a near-overflow
//state cannot push the equation entries past the double range. No lower
//cap exists: tiny factors only make the dominant entry land in the
//normalized band, which is the point of scaling.
const scaleFactorLimit = 1022

//ScaledNumbers packs a P0GeState into one flat equation vector (p0 values
//followed by ge mantissas) sharing a single base-2 scale factor, chosen so
//the integrator only ever sees magnitudes a double can hold. The invariant
//is ge[i] = Equation[n+i] * 2^Factor.
type ScaledNumbers struct {
	Equation []float64
	Factor   int
}

//ScaledState will flatten the state into a ScaledNumbers using the largest
//ge exponent as the shared factor, so the dominant ge entry lands in
//[0.5, 1)
func (st *P0GeState) ScaledState() *ScaledNumbers {
	n := len(st.P0)

	factor := 0
	found := false
	for _, g := range st.Ge {
		if g.IsZero() {
			continue
		}
		if !found || g.Exponent > factor {
			factor = g.Exponent
			found = true
		}
	}
	if factor > scaleFactorLimit {
		factor = scaleFactorLimit
	}

	eq := make([]float64, 2*n)
	copy(eq, st.P0)
	for i, g := range st.Ge {
		if g.IsZero() {
			continue
		}
		eq[n+i] = math.Ldexp(g.Mantissa, g.Exponent-factor)
	}
	return &ScaledNumbers{Equation: eq, Factor: factor}
}

//SetFromScaled will restore the state from a flat equation vector and its
//shared scale factor. Components the integrator drove to or below zero
//become exact zeros.
func (st *P0GeState) SetFromScaled(eq []float64, factor int) {
	n := len(st.P0)
	copy(st.P0, eq[:n])
	for i := range st.Ge {
		st.Ge[i] = NewSmallNumber(eq[n+i]).Ldexp(factor)
	}
}
