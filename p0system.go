package mtbd

//P0System is the ODE system for the probability that a lineage leaves no
//sampled descendant between a given time and the end of the process. It is
//integrated backward in time, one interval's constant rates at a time.
//Each concurrent task must own its own instance.
type P0System struct {
	Param  *Parameterization
	NTypes int

	integrator *DormandPrince54

	interval  int
	b, d, s   []float64
	totalRate []float64
}

//NewP0System will build an extinction-probability system with the given
//integration tolerances
func NewP0System(param *Parameterization, absTol, relTol float64) *P0System {
	n := param.NTypes()
	sys := &P0System{
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
func (sys *P0System) SetInterval(interval int) {
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

func (sys *P0System) derivatives(t float64, y, yDot []float64) {
	for i := 0; i < sys.NTypes; i++ {
		yDot[i] = sys.totalRate[i]*y[i] - sys.d[i] - sys.b[i]*y[i]*y[i]
		for j := 0; j < sys.NTypes; j++ {
			if j == i {
				continue
			}
			yDot[i] -= sys.Param.MigRate(sys.interval, i, j) * y[j]
			yDot[i] -= sys.Param.CrossBirthRate(sys.interval, i, j) * y[i] * y[j]
		}
	}
}

//Integrate will advance the extinction state from tFrom back to tTo within
//the current interval
func (sys *P0System) Integrate(state *P0State, tFrom, tTo float64) error {
	return sys.integrator.Integrate(sys.derivatives, state.P0, tFrom, tTo)
}
