package mtbd

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

//IntervalConfig describes one skyline interval of an analysis file. Rate
//entries are per type, in the order of the types list; a single entry is
//broadcast to every type. Omitted removalProbs default to 1 and omitted
//rhoValues to 0.
type IntervalConfig struct {
	EndTime         float64     `yaml:"endTime"`
	BirthRates      []float64   `yaml:"birthRates"`
	DeathRates      []float64   `yaml:"deathRates"`
	SamplingRates   []float64   `yaml:"samplingRates"`
	RemovalProbs    []float64   `yaml:"removalProbs"`
	RhoValues       []float64   `yaml:"rhoValues"`
	MigRates        [][]float64 `yaml:"migRates"`
	CrossBirthRates [][]float64 `yaml:"crossBirthRates"`
}

//AnalysisConfig is the on-disk description of a likelihood analysis
type AnalysisConfig struct {
	ProcessLength float64          `yaml:"processLength"`
	Types         []string         `yaml:"types"`
	Intervals     []IntervalConfig `yaml:"intervals"`

	Frequencies []float64         `yaml:"frequencies"`
	TypeTraits  map[string]string `yaml:"typeTraits"`

	ConditionOnSurvival bool `yaml:"conditionOnSurvival"`
	ConditionOnRootTime bool `yaml:"conditionOnRootTime"`

	UseAnalyticalSingleTypeSolution bool `yaml:"useAnalyticalSingleTypeSolution"`

	AbsTolerance float64 `yaml:"absTolerance"`
	RelTolerance float64 `yaml:"relTolerance"`

	Parallelize           bool    `yaml:"parallelize"`
	ParallelizationFactor float64 `yaml:"parallelizationFactor"`
}

//ReadAnalysisConfig will parse an analysis description from a YAML file
func ReadAnalysisConfig(path string) (*AnalysisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis config: %w", err)
	}
	var cfg AnalysisConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse analysis config: %w", err)
	}
	return &cfg, nil
}

//Parameterization will assemble and validate the skyline rate tables the
//config describes
func (c *AnalysisConfig) Parameterization() (*Parameterization, error) {
	types := NewTypeSet(c.Types...)
	n := types.Count()
	k := len(c.Intervals)

	p := &Parameterization{
		Types:             types,
		ProcessLength:     c.ProcessLength,
		IntervalEndTimes:  make([]float64, k),
		BirthRates:        make([][]float64, k),
		DeathRates:        make([][]float64, k),
		SamplingRates:     make([][]float64, k),
		RemovalProbs:      make([][]float64, k),
		RhoValues:         make([][]float64, k),
		MigRates:          make([]*mat.Dense, k),
		CrossBirthRates:   make([]*mat.Dense, k),
		ConditionedOnRoot: c.ConditionOnRootTime,
	}

	for i, iv := range c.Intervals {
		p.IntervalEndTimes[i] = iv.EndTime

		var err error
		if p.BirthRates[i], err = broadcastRates(iv.BirthRates, n, 0); err != nil {
			return nil, fmt.Errorf("interval %d birthRates: %w", i, err)
		}
		if p.DeathRates[i], err = broadcastRates(iv.DeathRates, n, 0); err != nil {
			return nil, fmt.Errorf("interval %d deathRates: %w", i, err)
		}
		if p.SamplingRates[i], err = broadcastRates(iv.SamplingRates, n, 0); err != nil {
			return nil, fmt.Errorf("interval %d samplingRates: %w", i, err)
		}
		if p.RemovalProbs[i], err = broadcastRates(iv.RemovalProbs, n, 1); err != nil {
			return nil, fmt.Errorf("interval %d removalProbs: %w", i, err)
		}
		if p.RhoValues[i], err = broadcastRates(iv.RhoValues, n, 0); err != nil {
			return nil, fmt.Errorf("interval %d rhoValues: %w", i, err)
		}
		if p.MigRates[i], err = rateMatrix(iv.MigRates, n); err != nil {
			return nil, fmt.Errorf("interval %d migRates: %w", i, err)
		}
		if p.CrossBirthRates[i], err = rateMatrix(iv.CrossBirthRates, n); err != nil {
			return nil, fmt.Errorf("interval %d crossBirthRates: %w", i, err)
		}
	}

	if err := p.Init(); err != nil {
		return nil, err
	}
	return p, nil
}

//Likelihood will build a ready-to-use TreeLikelihood over the given tree
func (c *AnalysisConfig) Likelihood(tree *Node) (*TreeLikelihood, error) {
	p, err := c.Parameterization()
	if err != nil {
		return nil, err
	}

	freqs := c.Frequencies
	if freqs == nil {
		//uniform by default
		n := p.NTypes()
		freqs = make([]float64, n)
		for i := range freqs {
			freqs[i] = 1 / float64(n)
		}
	}

	tl := &TreeLikelihood{
		Param:                           p,
		Tree:                            tree,
		Frequencies:                     freqs,
		TypeTraits:                      c.TypeTraits,
		ConditionOnSurvival:             c.ConditionOnSurvival,
		UseAnalyticalSingleTypeSolution: c.UseAnalyticalSingleTypeSolution,
		AbsTolerance:                    c.AbsTolerance,
		RelTolerance:                    c.RelTolerance,
		Parallelize:                     c.Parallelize,
		ParallelFraction:                c.ParallelizationFactor,
	}
	if err := tl.Init(); err != nil {
		return nil, err
	}
	return tl, nil
}

func broadcastRates(vals []float64, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	switch len(vals) {
	case 0:
		for i := range out {
			out[i] = def
		}
	case 1:
		for i := range out {
			out[i] = vals[0]
		}
	case n:
		copy(out, vals)
	default:
		return nil, fmt.Errorf("want 1 or %d entries, got %d", n, len(vals))
	}
	return out, nil
}

func rateMatrix(rows [][]float64, n int) (*mat.Dense, error) {
	if rows == nil {
		return nil, nil
	}
	if len(rows) != n {
		return nil, fmt.Errorf("want %d rows, got %d", n, len(rows))
	}
	m := mat.NewDense(n, n, nil)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d: want %d entries, got %d", i, n, len(row))
		}
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m, nil
}
