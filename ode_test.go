package mtbd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegrateExponentialDecay(t *testing.T) {
	ip := NewDormandPrince54(1e-12, 1e-10)
	y := []float64{1.0}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = -2 * y[0]
	}, y, 0, 3)
	require.NoError(t, err)
	require.InDelta(t, math.Exp(-6), y[0], 1e-8)
}

func TestIntegrateBackwardInTime(t *testing.T) {
	//the likelihood always integrates from later to earlier times
	ip := NewDormandPrince54(1e-12, 1e-10)
	y := []float64{math.Exp(-6)}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = -2 * y[0]
	}, y, 3, 0)
	require.NoError(t, err)
	require.InDelta(t, 1.0, y[0], 1e-8)
}

func TestIntegrateCoupledSystem(t *testing.T) {
	//y0' = y1, y1' = -y0 traces the unit circle
	ip := NewDormandPrince54(1e-12, 1e-10)
	y := []float64{1, 0}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = y[1]
		yDot[1] = -y[0]
	}, y, 0, math.Pi/2)
	require.NoError(t, err)
	require.InDelta(t, 0.0, y[0], 1e-8)
	require.InDelta(t, -1.0, y[1], 1e-8)
}

func TestIntegrateTimeDependentRHS(t *testing.T) {
	ip := NewDormandPrince54(1e-12, 1e-10)
	y := []float64{0}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = 3 * tt * tt
	}, y, 0, 2)
	require.NoError(t, err)
	require.InDelta(t, 8.0, y[0], 1e-8)
}

func TestIntegrateZeroSpan(t *testing.T) {
	ip := NewDormandPrince54(1e-12, 1e-10)
	y := []float64{0.7}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = -y[0]
	}, y, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 0.7, y[0])
}

func TestIntegrateDivergingSystemFails(t *testing.T) {
	ip := NewDormandPrince54(1e-12, 1e-10)
	ip.MaxSteps = 200
	y := []float64{1}
	err := ip.Integrate(func(tt float64, y, yDot []float64) {
		yDot[0] = y[0] * y[0]
	}, y, 0, 10)
	require.Error(t, err)
}
