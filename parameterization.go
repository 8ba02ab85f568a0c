package mtbd

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	//ErrBadIntervals indicates interval end times that do not ascend or do
	//not finish at the total process length
	ErrBadIntervals = errors.New("mtbd: interval end times must ascend and end at the process length")

	//ErrBadRateDims indicates rate tables whose dimensions do not match the
	//interval and type counts
	ErrBadRateDims = errors.New("mtbd: rate table dimensions do not match interval and type counts")
)

//Parameterization holds the piecewise-constant (skyline) rates of the
//multi-type birth-death-migration process. Rates are constant within each
//interval; interval i covers times in (IntervalEndTimes[i-1],
//IntervalEndTimes[i]], with time measured forward from the origin at 0 to
//the end of the process at ProcessLength. All tables are read-only once
//Init has been called; concurrent traversal tasks share them by reference.
type Parameterization struct {
	Types         *TypeSet
	ProcessLength float64

	//IntervalEndTimes ascends; the last entry equals ProcessLength
	IntervalEndTimes []float64

	//per-interval, per-type rate tables
	BirthRates    [][]float64
	DeathRates    [][]float64
	SamplingRates [][]float64
	RemovalProbs  [][]float64
	RhoValues     [][]float64

	//per-interval type x type matrices; a nil entry means all zero
	MigRates        []*mat.Dense
	CrossBirthRates []*mat.Dense

	//ConditionedOnRoot selects conditioning on a known root time instead
	//of an origin time
	ConditionedOnRoot bool

	rhoSamplingTimes []float64
	initialized      bool
}

//Init will validate the tables and precompute the rho-sampling time set.
//It must be called before the parameterization is used; repeated calls are
//no-ops, so already initialized parameterizations can be shared across
//goroutines.
func (p *Parameterization) Init() error {
	if p.initialized {
		return nil
	}
	if p.Types == nil {
		p.Types = NewTypeSet()
	}
	n := p.Types.Count()
	k := len(p.IntervalEndTimes)

	if k == 0 || p.ProcessLength <= 0 {
		return ErrBadIntervals
	}
	for i := 1; i < k; i++ {
		if p.IntervalEndTimes[i] <= p.IntervalEndTimes[i-1] {
			return ErrBadIntervals
		}
	}
	if !equalWithPrecision(p.IntervalEndTimes[k-1], p.ProcessLength) {
		return ErrBadIntervals
	}

	for _, tbl := range [][][]float64{p.BirthRates, p.DeathRates, p.SamplingRates, p.RemovalProbs, p.RhoValues} {
		if len(tbl) != k {
			return ErrBadRateDims
		}
		for _, row := range tbl {
			if len(row) != n {
				return ErrBadRateDims
			}
		}
	}
	for _, ms := range [][]*mat.Dense{p.MigRates, p.CrossBirthRates} {
		if ms == nil {
			continue
		}
		if len(ms) != k {
			return ErrBadRateDims
		}
		for _, m := range ms {
			if m == nil {
				continue
			}
			r, c := m.Dims()
			if r != n || c != n {
				return ErrBadRateDims
			}
		}
	}

	p.rhoSamplingTimes = p.rhoSamplingTimes[:0]
	for i := 0; i < k; i++ {
		for tp := 0; tp < n; tp++ {
			if p.RhoValues[i][tp] > 0 {
				p.rhoSamplingTimes = append(p.rhoSamplingTimes, p.IntervalEndTimes[i])
				break
			}
		}
	}
	sort.Float64s(p.rhoSamplingTimes)

	p.initialized = true
	return nil
}

//NTypes will return the number of types
func (p *Parameterization) NTypes() int {
	return p.Types.Count()
}

//NIntervals will return the number of skyline intervals
func (p *Parameterization) NIntervals() int {
	return len(p.IntervalEndTimes)
}

//IntervalIndex will return the index of the interval containing time t.
//Times beyond the last end time map to the last interval.
func (p *Parameterization) IntervalIndex(t float64) int {
	idx := sort.SearchFloat64s(p.IntervalEndTimes, t)
	if idx >= len(p.IntervalEndTimes) {
		idx = len(p.IntervalEndTimes) - 1
	}
	return idx
}

//NodeTime will convert a node height (time before the process end) into
//process time (time since the origin)
func (p *Parameterization) NodeTime(height float64) float64 {
	return p.ProcessLength - height
}

//RhoSamplingTimes will return the times at which any type has a nonzero
//rho-sampling probability
func (p *Parameterization) RhoSamplingTimes() []float64 {
	return p.rhoSamplingTimes
}

//MigRate will return the migration rate from type i to type j in an interval
func (p *Parameterization) MigRate(interval, i, j int) float64 {
	if p.MigRates == nil || p.MigRates[interval] == nil {
		return 0
	}
	return p.MigRates[interval].At(i, j)
}

//CrossBirthRate will return the birth-with-type-change rate from type i to
//type j in an interval
func (p *Parameterization) CrossBirthRate(interval, i, j int) float64 {
	if p.CrossBirthRates == nil || p.CrossBirthRates[interval] == nil {
		return 0
	}
	return p.CrossBirthRates[interval].At(i, j)
}

//ZeroRateMatrix will return an n x n all-zero rate matrix
func ZeroRateMatrix(n int) *mat.Dense {
	return mat.NewDense(n, n, nil)
}

//UniformRateMatrix will return an n x n matrix with every off-diagonal
//entry set to rate
func UniformRateMatrix(n int, rate float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				m.Set(i, j, rate)
			}
		}
	}
	return m
}

//ConstantParameterization will build a single-interval parameterization
//with the given per-type rates held constant over the whole process
func ConstantParameterization(types *TypeSet, processLength float64,
	birth, death, sampling, removal, rho []float64,
	mig, crossBirth *mat.Dense) (*Parameterization, error) {

	p := &Parameterization{
		Types:            types,
		ProcessLength:    processLength,
		IntervalEndTimes: []float64{processLength},
		BirthRates:       [][]float64{birth},
		DeathRates:       [][]float64{death},
		SamplingRates:    [][]float64{sampling},
		RemovalProbs:     [][]float64{removal},
		RhoValues:        [][]float64{rho},
		MigRates:         []*mat.Dense{mig},
		CrossBirthRates:  []*mat.Dense{crossBirth},
	}
	if err := p.Init(); err != nil {
		return nil, fmt.Errorf("constant parameterization: %w", err)
	}
	return p, nil
}
