package mtbd

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func singleTypeLikelihood(t *testing.T, newick string, processLength float64,
	birth, death, sampling, removal, rho float64) *TreeLikelihood {
	t.Helper()
	p, err := ConstantParameterization(NewTypeSet(), processLength,
		[]float64{birth}, []float64{death}, []float64{sampling},
		[]float64{removal}, []float64{rho}, nil, nil)
	require.NoError(t, err)

	tree, err := ReadNewickString(newick)
	require.NoError(t, err)

	tl := &TreeLikelihood{
		Param:       p,
		Tree:        tree,
		Frequencies: []float64{1},
	}
	require.NoError(t, tl.Init())
	return tl
}

const serialTree = "((t0:1.0,t1:0.5):0.5,t2:1.5);"

func TestAnalyticalMatchesNumericalSerial(t *testing.T) {
	tl := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	require.False(t, math.IsInf(numerical, 0))
	require.InDelta(t, numerical, analytical, 1e-4)
}

func TestAnalyticalMatchesNumericalPartialRemoval(t *testing.T) {
	tl := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 0.4, 0)

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, numerical, analytical, 1e-4)
}

func TestAnalyticalMatchesNumericalWithSurvivalConditioning(t *testing.T) {
	tl := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)
	tl.ConditionOnSurvival = true

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, numerical, analytical, 1e-4)
}

func TestAnalyticalMatchesNumericalSampledAncestor(t *testing.T) {
	tl := singleTypeLikelihood(t, "((t0:1.0,t1:0.0):0.5,t2:1.5);", 6.0, 2.0, 1.0, 0.5, 0.4, 0)

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, numerical, analytical, 1e-4)
}

func TestAnalyticalMatchesNumericalRhoSampling(t *testing.T) {
	//t1 and t2 are extant rho samples, t0 is a serial sample
	tl := singleTypeLikelihood(t, "((t0:0.5,t1:1.0):0.5,t2:1.5);", 2.0, 2.0, 1.0, 0.3, 1.0, 0.4)

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.False(t, math.IsInf(numerical, 0))

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, numerical, analytical, 1e-4)
}

func TestAnalyticalMatchesNumericalSkyline(t *testing.T) {
	p := &Parameterization{
		Types:            NewTypeSet(),
		ProcessLength:    6,
		IntervalEndTimes: []float64{3.3, 6},
		BirthRates:       [][]float64{{2.2}, {1.4}},
		DeathRates:       [][]float64{{0.8}, {1.1}},
		SamplingRates:    [][]float64{{0.3}, {0.6}},
		RemovalProbs:     [][]float64{{1}, {1}},
		RhoValues:        [][]float64{{0}, {0}},
	}
	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	tl := &TreeLikelihood{Param: p, Tree: tree, Frequencies: []float64{1}}
	require.NoError(t, tl.Init())

	numerical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)

	tl.UseAnalyticalSingleTypeSolution = true
	analytical, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, numerical, analytical, 1e-4)
}

func twoTypeLikelihood(t *testing.T, newick string, traits map[string]string, mig float64) *TreeLikelihood {
	t.Helper()
	p, err := ConstantParameterization(NewTypeSet("A", "B"), 6.0,
		[]float64{2, 2}, []float64{1, 1}, []float64{0.5, 0.5},
		[]float64{1, 1}, []float64{0, 0},
		UniformRateMatrix(2, mig), nil)
	require.NoError(t, err)

	tree, err := ReadNewickString(newick)
	require.NoError(t, err)

	tl := &TreeLikelihood{
		Param:       p,
		Tree:        tree,
		Frequencies: []float64{0.5, 0.5},
		TypeTraits:  traits,
	}
	require.NoError(t, tl.Init())
	return tl
}

func TestUnknownTypesCollapseToSingleType(t *testing.T) {
	//with symmetric rates and all sample types marginalized, the two-type
	//model carries no information beyond the single-type one
	two := twoTypeLikelihood(t, serialTree,
		map[string]string{"t0": "?", "t1": "?", "t2": "?"}, 0.2)
	one := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)

	ll2, err := two.CalcLogLikelihood()
	require.NoError(t, err)
	ll1, err := one.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, ll1, ll2, 1e-5)
}

func TestCrossBirthCollapsesToSingleType(t *testing.T) {
	//a symmetric between-type birth rate splits the single-type birth rate
	//without changing the overall branching process, so the marginalized
	//two-type density must match the single-type one at the summed rate
	p, err := ConstantParameterization(NewTypeSet("A", "B"), 6.0,
		[]float64{1.5, 1.5}, []float64{1, 1}, []float64{0.5, 0.5},
		[]float64{1, 1}, []float64{0, 0},
		nil, UniformRateMatrix(2, 0.5))
	require.NoError(t, err)

	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	two := &TreeLikelihood{
		Param:       p,
		Tree:        tree,
		Frequencies: []float64{0.5, 0.5},
		TypeTraits:  map[string]string{"t0": "?", "t1": "?", "t2": "?"},
	}
	require.NoError(t, two.Init())
	ll2, err := two.CalcLogLikelihood()
	require.NoError(t, err)

	one := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)
	ll1, err := one.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, ll1, ll2, 1e-5)
}

func TestKnownTypesWithoutMigration(t *testing.T) {
	//with migration off, typed tips in a symmetric model just pick one of
	//the two equally likely root types
	two := twoTypeLikelihood(t, serialTree,
		map[string]string{"t0": "A", "t1": "A", "t2": "A"}, 0)
	one := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)

	ll2, err := two.CalcLogLikelihood()
	require.NoError(t, err)
	ll1, err := one.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, ll1+math.Log(0.5), ll2, 1e-5)

	//all mass ends up on root type A
	probs := two.RootTypeProbs()
	require.InDelta(t, 1.0, probs[0], 1e-9)
	require.InDelta(t, 0.0, probs[1], 1e-9)
}

func TestRootTypeProbsSumToOne(t *testing.T) {
	two := twoTypeLikelihood(t, serialTree,
		map[string]string{"t0": "A", "t1": "B", "t2": "A"}, 0.3)
	_, err := two.CalcLogLikelihood()
	require.NoError(t, err)

	probs := two.RootTypeProbs()
	sum := 0.0
	for _, pr := range probs {
		require.GreaterOrEqual(t, pr, 0.0)
		sum += pr
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

const bigTree = "(((((t0:0.3,t1:0.4):0.5,t2:0.6):0.4,(t3:0.5,t4:0.9):0.7):0.3," +
	"((t5:0.4,t6:0.6):0.8,(t7:0.3,t8:0.5):0.6):0.4):0.5," +
	"(((t9:0.7,t10:0.4):0.5,t11:0.9):0.6,((t12:0.4,t13:0.6):0.3,t14:0.8):0.7):0.4);"

func TestParallelMatchesSerial(t *testing.T) {
	traits := map[string]string{}
	for i := 0; i < 15; i++ {
		tp := "A"
		if i%2 == 1 {
			tp = "B"
		}
		traits[fmt.Sprintf("t%d", i)] = tp
	}

	serial := twoTypeLikelihood(t, bigTree, traits, 0.3)
	llSerial, err := serial.CalcLogLikelihood()
	require.NoError(t, err)

	parallel := twoTypeLikelihood(t, bigTree, traits, 0.3)
	parallel.Parallelize = true
	parallel.ParallelFraction = 0.05
	llParallel, err := parallel.CalcLogLikelihood()
	require.NoError(t, err)

	require.InDelta(t, llSerial, llParallel, 1e-10)
}

func TestRootOlderThanProcess(t *testing.T) {
	tl := singleTypeLikelihood(t, serialTree, 1.0, 2.0, 1.0, 0.5, 1.0, 0)
	logLik, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.True(t, math.IsInf(logLik, -1))
}

func TestInitRejectsBadFrequencies(t *testing.T) {
	p, err := ConstantParameterization(NewTypeSet("A", "B"), 6.0,
		[]float64{2, 2}, []float64{1, 1}, []float64{0.5, 0.5},
		[]float64{1, 1}, []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	tl := &TreeLikelihood{Param: p, Tree: tree, Frequencies: []float64{0.5, 0.4}}
	require.ErrorIs(t, tl.Init(), ErrBadFrequencies)
}

func TestInitRejectsMissingLeafType(t *testing.T) {
	p, err := ConstantParameterization(NewTypeSet("A", "B"), 6.0,
		[]float64{2, 2}, []float64{1, 1}, []float64{0.5, 0.5},
		[]float64{1, 1}, []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	tl := &TreeLikelihood{
		Param:       p,
		Tree:        tree,
		Frequencies: []float64{0.5, 0.5},
		TypeTraits:  map[string]string{"t0": "A", "t1": "B"},
	}
	require.ErrorIs(t, tl.Init(), ErrMissingLeafType)
}

func TestInitRejectsUnrecognizedTypeLabel(t *testing.T) {
	p, err := ConstantParameterization(NewTypeSet("A", "B"), 6.0,
		[]float64{2, 2}, []float64{1, 1}, []float64{0.5, 0.5},
		[]float64{1, 1}, []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	tl := &TreeLikelihood{
		Param:       p,
		Tree:        tree,
		Frequencies: []float64{0.5, 0.5},
		TypeTraits:  map[string]string{"t0": "A", "t1": "B", "t2": "C"},
	}
	require.ErrorIs(t, tl.Init(), ErrUnrecognizedType)

	//the "?" placeholder is still accepted and marginalized
	tl.TypeTraits["t2"] = "?"
	require.NoError(t, tl.Init())
}

func TestCalcBeforeInit(t *testing.T) {
	tl := &TreeLikelihood{}
	_, err := tl.CalcLogLikelihood()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestSurvivalConditioningLowersDensityNever(t *testing.T) {
	plain := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)
	llPlain, err := plain.CalcLogLikelihood()
	require.NoError(t, err)

	cond := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)
	cond.ConditionOnSurvival = true
	llCond, err := cond.CalcLogLikelihood()
	require.NoError(t, err)

	//dividing by the survival probability can only increase the density
	require.Greater(t, llCond, llPlain)
}

func TestRhoBoundaryTolerance(t *testing.T) {
	//pure rho sampling: a tip a hair away from the boundary still counts
	//as a boundary sample, a clearly offset one has density zero
	exact := singleTypeLikelihood(t, "((t0:0.5,t1:0.5):0.5,t2:1.0);",
		1.2, 2.0, 1.0, 0.0, 1.0, 0.3)
	llExact, err := exact.CalcLogLikelihood()
	require.NoError(t, err)
	require.False(t, math.IsInf(llExact, 0))

	nudged := singleTypeLikelihood(t, "((t0:0.5,t1:0.4999999999999):0.5,t2:1.0);",
		1.2, 2.0, 1.0, 0.0, 1.0, 0.3)
	llNudged, err := nudged.CalcLogLikelihood()
	require.NoError(t, err)
	require.InDelta(t, llExact, llNudged, 1e-6)

	offset := singleTypeLikelihood(t, "((t0:0.5,t1:0.499):0.5,t2:1.0);",
		1.2, 2.0, 1.0, 0.0, 1.0, 0.3)
	llOffset, err := offset.CalcLogLikelihood()
	require.NoError(t, err)
	require.True(t, math.IsInf(llOffset, -1))
}

func TestRootConditioning(t *testing.T) {
	p, err := ConstantParameterization(NewTypeSet(), 6.0,
		[]float64{2}, []float64{1}, []float64{0.5},
		[]float64{1}, []float64{0}, nil, nil)
	require.NoError(t, err)
	p.ConditionedOnRoot = true

	tree, err := ReadNewickString(serialTree)
	require.NoError(t, err)

	tl := &TreeLikelihood{Param: p, Tree: tree, Frequencies: []float64{1}}
	require.NoError(t, tl.Init())

	llRoot, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	require.False(t, math.IsInf(llRoot, 0))

	//conditioning on the root drops the origin edge and the birth factor
	//at the root, so the density differs from the origin-conditioned one
	origin := singleTypeLikelihood(t, serialTree, 6.0, 2.0, 1.0, 0.5, 1.0, 0)
	llOrigin, err := origin.CalcLogLikelihood()
	require.NoError(t, err)
	require.Greater(t, math.Abs(llOrigin-llRoot), 1e-6)
}

func TestLikelihoodDeterministic(t *testing.T) {
	tl := twoTypeLikelihood(t, serialTree,
		map[string]string{"t0": "A", "t1": "B", "t2": "A"}, 0.3)
	first, err := tl.CalcLogLikelihood()
	require.NoError(t, err)
	for rep := 0; rep < 5; rep++ {
		again, err := tl.CalcLogLikelihood()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
