package mtbd

import (
	"errors"
	"math"
)

//ErrOdeMaxSteps indicates the integrator gave up after too many steps
var ErrOdeMaxSteps = errors.New("mtbd: ode integration exceeded the step limit")

//Dormand-Prince 5(4) coefficients
var (
	dpA = [7][6]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0.0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	}
	dpC = [7]float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1.0, 1.0}

	//difference between the 5th and embedded 4th order weights
	dpE = [7]float64{
		71.0 / 57600.0, 0.0, -71.0 / 16695.0, 71.0 / 1920.0,
		-17253.0 / 339200.0, 22.0 / 525.0, -1.0 / 40.0,
	}
)

//DormandPrince54 is an adaptive fifth-order Runge-Kutta integrator with an
//embedded fourth-order error estimate. It accepts decreasing as well as
//increasing time spans, which the backward-time likelihood integrations
//rely on. Instances hold scratch state and must not be shared between
//goroutines; each concurrent traversal task owns its own ODE system and
//integrator.
type DormandPrince54 struct {
	AbsTol   float64
	RelTol   float64
	MaxSteps int

	k    [7][]float64
	ytmp []float64
	yerr []float64
}

//NewDormandPrince54 will return an integrator with the given tolerances
func NewDormandPrince54(absTol, relTol float64) *DormandPrince54 {
	return &DormandPrince54{AbsTol: absTol, RelTol: relTol, MaxSteps: 100000}
}

func (ip *DormandPrince54) resize(n int) {
	if len(ip.ytmp) == n {
		return
	}
	for i := range ip.k {
		ip.k[i] = make([]float64, n)
	}
	ip.ytmp = make([]float64, n)
	ip.yerr = make([]float64, n)
}

//Integrate will advance y from t0 to t1 in place, adapting the step size
//to keep the local error within AbsTol + RelTol*|y|
func (ip *DormandPrince54) Integrate(f func(t float64, y, yDot []float64), y []float64, t0, t1 float64) error {
	if t0 == t1 {
		return nil
	}
	n := len(y)
	ip.resize(n)

	span := t1 - t0
	t := t0
	h := span / 100.0
	hMin := math.Abs(span) * 1e-14

	f(t, y, ip.k[0])

	for step := 0; ; step++ {
		if step >= ip.MaxSteps {
			return ErrOdeMaxSteps
		}

		last := false
		if math.Abs(h) >= math.Abs(t1-t) {
			h = t1 - t
			last = true
		}

		//stage evaluations; k[0] is fresh from the previous accepted step
		for s := 1; s < 7; s++ {
			for i := 0; i < n; i++ {
				sum := 0.0
				for q := 0; q < s; q++ {
					sum += dpA[s][q] * ip.k[q][i]
				}
				ip.ytmp[i] = y[i] + h*sum
			}
			f(t+dpC[s]*h, ip.ytmp, ip.k[s])
		}
		//ytmp now holds the 5th-order solution (stage 7 node equals it)

		errNorm := 0.0
		for i := 0; i < n; i++ {
			e := 0.0
			for s := 0; s < 7; s++ {
				e += dpE[s] * ip.k[s][i]
			}
			e *= h
			sc := ip.AbsTol + ip.RelTol*math.Max(math.Abs(y[i]), math.Abs(ip.ytmp[i]))
			r := e / sc
			errNorm += r * r
		}
		errNorm = math.Sqrt(errNorm / float64(n))

		if errNorm <= 1.0 || math.Abs(h) <= hMin {
			t += h
			copy(y, ip.ytmp)
			copy(ip.k[0], ip.k[6]) //first-same-as-last
			if last {
				return nil
			}
		}

		fac := 0.9 * math.Pow(math.Max(errNorm, 1e-10), -0.2)
		if fac > 5.0 {
			fac = 5.0
		} else if fac < 0.2 {
			fac = 0.2
		}
		h *= fac
		if math.Abs(h) < hMin {
			h = math.Copysign(hMin, span)
		}
	}
}
