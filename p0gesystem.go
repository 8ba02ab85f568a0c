package mtbd

//P0GeSystem is the combined ODE system propagating both the extinction
//probabilities and the extended-precision partial likelihood densities
//along one edge within one interval. The equation vector holds the p0
//components first and the scaled ge components second. Each concurrent
//traversal task owns its own instance; the rate tables behind it are
//shared read-only.
type P0GeSystem struct {
	Param  *Parameterization
	NTypes int

	integrator *DormandPrince54

	interval  int
	b, d, s   []float64
	totalRate []float64
}

//NewP0GeSystem will build a combined p0/ge system with the given
//integration tolerances
func NewP0GeSystem(param *Parameterization, absTol, relTol float64) *P0GeSystem {
	n := param.NTypes()
	sys := &P0GeSystem{
		Param:      param,
		NTypes:     n,
		integrator: NewDormandPrince54(absTol, relTol),
		totalRate:  make([]float64, n),
	}
	sys.SetInterval(0)
	return sys
}

//SetInterval will switch the constant-rate coefficients to those of the
//given interval without touching any integration state
func (sys *P0GeSystem) SetInterval(interval int) {
	sys.interval = interval
	sys.b = sys.Param.BirthRates[interval]
	sys.d = sys.Param.DeathRates[interval]
	sys.s = sys.Param.SamplingRates[interval]
	for i := 0; i < sys.NTypes; i++ {
		tot := sys.b[i] + sys.d[i] + sys.s[i]
		for j := 0; j < sys.NTypes; j++ {
			if j == i {
				continue
			}
			tot += sys.Param.MigRate(interval, i, j) + sys.Param.CrossBirthRate(interval, i, j)
		}
		sys.totalRate[i] = tot
	}
}

func (sys *P0GeSystem) derivatives(t float64, y, yDot []float64) {
	n := sys.NTypes
	for i := 0; i < n; i++ {
		p := y[i]
		g := y[n+i]

		yDot[i] = sys.totalRate[i]*p - sys.d[i] - sys.b[i]*p*p
		yDot[n+i] = sys.totalRate[i]*g - 2*sys.b[i]*g*p

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			mig := sys.Param.MigRate(sys.interval, i, j)
			cross := sys.Param.CrossBirthRate(sys.interval, i, j)

			yDot[i] -= mig*y[j] + cross*p*y[j]
			yDot[n+i] -= mig*y[n+j] + cross*(g*y[j]+y[n+j]*p)
		}
	}
}

//SafeIntegrate will advance a scaled state from tFrom back to tTo within
//the current interval. The indirection exists because the raw integrator
//cannot consume extended-precision values directly; the caller unscales
//and rescales around interval boundaries.
func (sys *P0GeSystem) SafeIntegrate(pg *ScaledNumbers, tFrom, tTo float64) (*ScaledNumbers, error) {
	if tFrom == tTo {
		return pg, nil
	}
	eq := append([]float64(nil), pg.Equation...)
	if err := sys.integrator.Integrate(sys.derivatives, eq, tFrom, tTo); err != nil {
		return nil, err
	}
	return &ScaledNumbers{Equation: eq, Factor: pg.Factor}, nil
}
