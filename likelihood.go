package mtbd

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

//Default integration and parallelization settings, matching the usual
//analysis configuration
const (
	DefaultAbsTolerance     = 1e-100
	DefaultRelTolerance     = 1e-7
	DefaultParallelFraction = 0.1
)

var (
	//ErrBadFrequencies indicates equilibrium type frequencies that are
	//missing or do not sum to 1
	ErrBadFrequencies = errors.New("mtbd: equilibrium frequencies must sum to 1")

	//ErrMissingLeafType indicates a leaf with no type information in a
	//multi-type model
	ErrMissingLeafType = errors.New("mtbd: leaf carries no type label and no trait entry")

	//ErrUnrecognizedType indicates a leaf label that is neither a member of
	//the type set nor the "?" unknown sentinel
	ErrUnrecognizedType = errors.New("mtbd: leaf type label not in the type set")

	//ErrNonFiniteExtinction indicates a numerical failure during a
	//birth-event combination
	ErrNonFiniteExtinction = errors.New("mtbd: non-finite extinction probability at birth event")

	//ErrNotInitialized indicates CalcLogLikelihood was called before Init
	ErrNotInitialized = errors.New("mtbd: likelihood not initialized")
)

//TreeLikelihood computes the probability density of a time tree under the
//multi-type birth-death-migration process described by a Parameterization.
//Configure the exported fields, call Init once, then CalcLogLikelihood as
//often as needed; every call recomputes the traversal from scratch with
//the current tree and rates.
type TreeLikelihood struct {
	Param       *Parameterization
	Tree        *Node
	Frequencies []float64

	//TypeTraits maps taxon names to type labels; leaves may instead carry
	//their label in Node.TYPE
	TypeTraits map[string]string

	ConditionOnSurvival             bool
	UseAnalyticalSingleTypeSolution bool

	AbsTolerance float64
	RelTolerance float64

	//Parallelize offloads one child subtree per sufficiently heavy
	//bifurcation to another goroutine. ParallelFraction is the minimal
	//fraction of the whole tree weight both child subtrees must carry
	//before a fork pays off.
	Parallelize      bool
	ParallelFraction float64

	initialized bool
	leafCount   int
	nNodes      int
	leafByNum   []*Node
	leafTypes   []int
	isRhoTip    []bool

	rootTypeProbs      []float64
	pInitialConditions [][]float64
	subtreeWeight      []float64
	parallelThreshold  float64
}

//Init will validate the configuration and precompute the per-leaf type
//indices and rho-boundary flags. Configuration problems surface here, not
//during evaluation.
func (tl *TreeLikelihood) Init() error {
	if tl.AbsTolerance == 0 {
		tl.AbsTolerance = DefaultAbsTolerance
	}
	if tl.RelTolerance == 0 {
		tl.RelTolerance = DefaultRelTolerance
	}
	if tl.ParallelFraction == 0 {
		tl.ParallelFraction = DefaultParallelFraction
	}

	if err := tl.Param.Init(); err != nil {
		return err
	}
	n := tl.Param.NTypes()

	freqSum := 0.
	for _, f := range tl.Frequencies {
		freqSum += f
	}
	if len(tl.Frequencies) != n || math.Abs(1.0-freqSum) > 1e-10 {
		return fmt.Errorf("%w (got sum %g over %d entries)", ErrBadFrequencies, freqSum, len(tl.Frequencies))
	}

	tl.Tree.NumberNodes()
	tl.Tree.MarkSampledAncestors()

	nodes := tl.Tree.PreorderArray()
	tl.nNodes = len(nodes)
	tl.leafCount = tl.Tree.LeafCount()

	tl.leafByNum = make([]*Node, tl.leafCount)
	tl.leafTypes = make([]int, tl.leafCount)
	tl.isRhoTip = make([]bool, tl.leafCount)
	for _, nd := range nodes {
		if len(nd.CHLD) != 0 {
			continue
		}
		tl.leafByNum[nd.NUM] = nd

		tl.leafTypes[nd.NUM] = 0
		if n > 1 {
			label := nd.TYPE
			if tl.TypeTraits != nil {
				if tr, ok := tl.TypeTraits[nd.NAME]; ok {
					label = tr
				}
			}
			if label == "" {
				return fmt.Errorf("%w: leaf %q", ErrMissingLeafType, nd.NAME)
			}
			idx := tl.Param.Types.TypeIndex(label)
			if idx == UnknownType && label != "?" {
				return fmt.Errorf("%w: leaf %q has label %q", ErrUnrecognizedType, nd.NAME, label)
			}
			tl.leafTypes[nd.NUM] = idx
		}

		nodeTime := tl.Param.NodeTime(nd.HEIGHT)
		for _, rhoTime := range tl.Param.RhoSamplingTimes() {
			if equalWithPrecision(rhoTime, nodeTime) {
				tl.isRhoTip[nd.NUM] = true
				break
			}
		}
	}

	tl.rootTypeProbs = make([]float64, n)
	tl.initialized = true
	return nil
}

//RootTypeProbs will return the posterior probability of each root type
//from the most recent evaluation
func (tl *TreeLikelihood) RootTypeProbs() []float64 {
	out := make([]float64, len(tl.rootTypeProbs))
	copy(out, tl.rootTypeProbs)
	return out
}

//CalcLogLikelihood will return the log probability density of the tree.
//A root older than the process and an invalid survival probability both
//yield -Inf rather than an error; numerical failures abort with an error.
func (tl *TreeLikelihood) CalcLogLikelihood() (float64, error) {
	if !tl.initialized {
		return 0, ErrNotInitialized
	}

	root := tl.Tree
	if root.HEIGHT > tl.Param.ProcessLength {
		return math.Inf(-1), nil
	}

	if tl.UseAnalyticalSingleTypeSolution && tl.Param.NTypes() == 1 && !tl.Param.ConditionedOnRoot {
		return tl.singleTypeLogLikelihood()
	}

	system := NewP0GeSystem(tl.Param, tl.AbsTolerance, tl.RelTolerance)

	tl.updateParallelizationThreshold()
	if err := tl.updateInitialConditionsForP(); err != nil {
		return 0, err
	}

	n := tl.Param.NTypes()

	probNoSample := 0.
	if tl.ConditionOnSurvival {
		noSampleExistsProb := tl.pInitialConditions[tl.leafCount]
		for rootType := 0; rootType < n; rootType++ {
			probNoSample += tl.Frequencies[rootType] * noSampleExistsProb[rootType]
		}
		if probNoSample < 0 || probNoSample > 1 {
			return math.Inf(-1), nil
		}
	}

	var finalP0Ge *P0GeState
	if tl.Param.ConditionedOnRoot {
		//condition on a known root time: combine the two child edges
		//directly at the root instead of integrating down to the origin
		finalP0Ge = NewP0GeState(n)
		rootTime := tl.Param.NodeTime(root.HEIGHT)

		c0, c1 := root.CHLD[0], root.CHLD[1]
		state0, err := tl.calculateSubtreeLikelihood(c0, rootTime, tl.Param.NodeTime(c0.HEIGHT), system)
		if err != nil {
			return 0, err
		}
		state1, err := tl.calculateSubtreeLikelihood(c1, rootTime, tl.Param.NodeTime(c1.HEIGHT), system)
		if err != nil {
			return 0, err
		}
		for tp := 0; tp < n; tp++ {
			finalP0Ge.Ge[tp] = state0.Ge[tp].MultiplyBy(state1.Ge[tp])
			finalP0Ge.P0[tp] = state0.P0[tp]
		}
	} else {
		//condition on the origin time: one computation down to the origin
		var err error
		finalP0Ge, err = tl.calculateSubtreeLikelihood(root, 0, tl.Param.NodeTime(root.HEIGHT), system)
		if err != nil {
			return 0, err
		}
	}

	var prSN SmallNumber
	for rootType := 0; rootType < n; rootType++ {
		jointProb := finalP0Ge.Ge[rootType].ScalarMultiplyBy(tl.Frequencies[rootType])
		if jointProb.Mantissa > 0 {
			tl.rootTypeProbs[rootType] = jointProb.Log()
			prSN = prSN.AddTo(jointProb)
		} else {
			tl.rootTypeProbs[rootType] = math.Inf(-1)
		}
	}

	totalLog := prSN.Log()
	for rootType := 0; rootType < n; rootType++ {
		tl.rootTypeProbs[rootType] = math.Exp(tl.rootTypeProbs[rootType] - totalLog)
	}

	if tl.ConditionOnSurvival {
		prSN = prSN.ScalarMultiplyBy(1 / (1 - probNoSample))
	}

	logP := prSN.Log()

	//convert from oriented to labeled tree probability density
	internalNodeCount := tl.leafCount - tl.Tree.DirectAncestorCount() - 1
	lg, _ := math.Lgamma(float64(tl.leafCount + 1))
	logP += math.Log(2)*float64(internalNodeCount) - lg

	return logP, nil
}

//calculateSubtreeLikelihood will return the likelihood state at the top
//(time tTop) of the edge above node, given that the edge bottom sits at
//time tBottom
func (tl *TreeLikelihood) calculateSubtreeLikelihood(node *Node, tTop, tBottom float64, system *P0GeSystem) (*P0GeState, error) {
	n := system.NTypes
	state := NewP0GeState(n)

	intervalIdx := tl.Param.IntervalIndex(tBottom)

	switch {
	case len(node.CHLD) == 0:
		//sampling event
		copy(state.P0, tl.pInitialConditions[node.NUM])

		rho := tl.Param.RhoValues[intervalIdx]
		s := tl.Param.SamplingRates[intervalIdx]
		r := tl.Param.RemovalProbs[intervalIdx]

		nodeType := tl.leafTypes[node.NUM]
		if nodeType == UnknownType {
			//marginalize over every possible sample type
			//TODO: cross-validate this branch against simulated unknown-type data
			for tp := 0; tp < n; tp++ {
				if tl.isRhoTip[node.NUM] {
					state.Ge[tp] = NewSmallNumber((r[tp] + state.P0[tp]*(1-r[tp])) * rho[tp])
				} else {
					state.Ge[tp] = NewSmallNumber((r[tp] + state.P0[tp]*(1-r[tp])) * s[tp])
				}
			}
		} else {
			if tl.isRhoTip[node.NUM] {
				state.Ge[nodeType] = NewSmallNumber((r[nodeType] + state.P0[nodeType]*(1-r[nodeType])) * rho[nodeType])
			} else {
				state.Ge[nodeType] = NewSmallNumber((r[nodeType] + state.P0[nodeType]*(1-r[nodeType])) * s[nodeType])
			}
		}

		//exclude the mass already sampled at the boundary
		if tl.isRhoTip[node.NUM] {
			for tp := 0; tp < n; tp++ {
				state.P0[tp] *= 1 - rho[tp]
			}
		}

	case node.isFakeBifurcation():
		//sampled ancestor attachment: recurse into the continuing child,
		//then fold in the ancestor's sampling factor
		childIndex := 0
		if node.CHLD[childIndex].ANC {
			childIndex = 1
		}
		child := node.CHLD[childIndex]
		saNode := node.CHLD[1-childIndex]

		g, err := tl.calculateSubtreeLikelihood(child, tBottom, tl.Param.NodeTime(child.HEIGHT), system)
		if err != nil {
			return nil, err
		}

		rho := tl.Param.RhoValues[intervalIdx]
		s := tl.Param.SamplingRates[intervalIdx]
		r := tl.Param.RemovalProbs[intervalIdx]

		saType := tl.leafTypes[saNode.NUM]
		if saType == UnknownType {
			//TODO: cross-validate this branch against simulated unknown-type data
			for tp := 0; tp < n; tp++ {
				if !tl.isRhoTip[saNode.NUM] {
					state.P0[tp] = g.P0[tp]
					state.Ge[tp] = g.Ge[tp].ScalarMultiplyBy(s[tp] * (1 - r[tp]))
				} else {
					state.P0[tp] = g.P0[tp] * (1 - rho[tp])
					state.Ge[tp] = g.Ge[tp].ScalarMultiplyBy(rho[tp] * (1 - r[tp]))
				}
			}
		} else {
			if !tl.isRhoTip[saNode.NUM] {
				state.P0[saType] = g.P0[saType]
				state.Ge[saType] = g.Ge[saType].ScalarMultiplyBy(s[saType] * (1 - r[saType]))
			} else {
				state.P0[saType] = g.P0[saType] * (1 - rho[saType])
				state.Ge[saType] = g.Ge[saType].ScalarMultiplyBy(rho[saType] * (1 - r[saType]))
			}
		}

	case len(node.CHLD) == 2:
		//birth / infection event. The children are always evaluated in
		//the same order (higher node number first) so that summation
		//order, and hence the result, does not depend on scheduling.
		indexFirstChild := 0
		if node.CHLD[1].NUM > node.CHLD[0].NUM {
			indexFirstChild = 1
		}
		first := node.CHLD[indexFirstChild]
		second := node.CHLD[1-indexFirstChild]

		var childState1, childState2 *P0GeState

		if tl.Parallelize &&
			tl.subtreeWeight[first.NUM] > tl.parallelThreshold &&
			tl.subtreeWeight[second.NUM] > tl.parallelThreshold {

			g := new(errgroup.Group)
			g.Go(func() error {
				//the offloaded task owns a fresh ODE system; the rate
				//tables behind it are shared read-only
				sys := NewP0GeSystem(tl.Param, tl.AbsTolerance, tl.RelTolerance)
				st, err := tl.calculateSubtreeLikelihood(second, tBottom, tl.Param.NodeTime(second.HEIGHT), sys)
				childState2 = st
				return err
			})

			st, err := tl.calculateSubtreeLikelihood(first, tBottom, tl.Param.NodeTime(first.HEIGHT), system)
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			if err != nil {
				return nil, err
			}
			childState1 = st
		} else {
			var err error
			childState1, err = tl.calculateSubtreeLikelihood(first, tBottom, tl.Param.NodeTime(first.HEIGHT), system)
			if err != nil {
				return nil, err
			}
			childState2, err = tl.calculateSubtreeLikelihood(second, tBottom, tl.Param.NodeTime(second.HEIGHT), system)
			if err != nil {
				return nil, err
			}
		}

		b := tl.Param.BirthRates[intervalIdx]
		for childType := 0; childType < n; childType++ {
			state.P0[childType] = childState1.P0[childType]
			state.Ge[childType] = childState1.Ge[childType].
				MultiplyBy(childState2.Ge[childType]).
				ScalarMultiplyBy(b[childType])

			for otherChildType := 0; otherChildType < n; otherChildType++ {
				if otherChildType == childType {
					continue
				}
				cross := tl.Param.CrossBirthRate(intervalIdx, childType, otherChildType)
				state.Ge[childType] = state.Ge[childType].AddTo(
					childState1.Ge[childType].MultiplyBy(childState2.Ge[otherChildType]).
						AddTo(childState1.Ge[otherChildType].MultiplyBy(childState2.Ge[childType])).
						ScalarMultiplyBy(0.5 * cross))
			}

			if math.IsInf(state.P0[childType], 0) || math.IsNaN(state.P0[childType]) {
				return nil, ErrNonFiniteExtinction
			}
		}

	default:
		return nil, fmt.Errorf("mtbd: node %q has %d children", node.NAME, len(node.CHLD))
	}

	if err := tl.integrateP0Ge(node, tTop, state, system); err != nil {
		return nil, err
	}
	return state, nil
}

//integrateP0Ge will propagate the state from the bottom of the edge above
//baseNode up to time tTop, rescaling around each interval boundary and
//applying the (1-rho) corrections at boundaries crossed strictly inside
//the edge
func (tl *TreeLikelihood) integrateP0Ge(baseNode *Node, tTop float64, state *P0GeState, system *P0GeSystem) error {
	pg := state.ScaledState()

	thisTime := tl.Param.NodeTime(baseNode.HEIGHT)
	thisInterval := tl.Param.IntervalIndex(thisTime)
	endInterval := tl.Param.IntervalIndex(tTop)

	system.SetInterval(thisInterval)

	for thisInterval > endInterval {
		nextTime := tl.Param.IntervalEndTimes[thisInterval-1]

		if lessThanWithPrecision(nextTime, thisTime) {
			var err error
			pg, err = system.SafeIntegrate(pg, thisTime, nextTime)
			if err != nil {
				return err
			}
			state.SetFromScaled(pg.Equation, pg.Factor)

			if greaterThanWithPrecision(nextTime, tTop) {
				for i := 0; i < system.NTypes; i++ {
					oneMinusRho := 1 - tl.Param.RhoValues[thisInterval-1][i]
					state.P0[i] *= oneMinusRho
					state.Ge[i] = state.Ge[i].ScalarMultiplyBy(oneMinusRho)
				}
			}

			//rescale before the next integration leg
			pg = state.ScaledState()
		}

		thisTime = nextTime
		thisInterval--
		system.SetInterval(thisInterval)
	}

	if greaterThanWithPrecision(thisTime, tTop) {
		var err error
		pg, err = system.SafeIntegrate(pg, thisTime, tTop)
		if err != nil {
			return err
		}
	}
	state.SetFromScaled(pg.Equation, pg.Factor)
	return nil
}

//updateInitialConditionsForP will precompute, for every leaf and for the
//origin, the extinction probability vector at that leaf's sampling time,
//sweeping once from the process end backward and reusing results for
//leaves that share a sampling time
func (tl *TreeLikelihood) updateInitialConditionsForP() error {
	p0System := NewP0System(tl.Param, tl.AbsTolerance, tl.RelTolerance)
	n := tl.Param.NTypes()

	leafTimes := make([]float64, tl.leafCount)
	sortedIdx := make([]int, tl.leafCount)
	for i := 0; i < tl.leafCount; i++ {
		leafTimes[i] = tl.Param.NodeTime(tl.leafByNum[i].HEIGHT)
		sortedIdx[i] = i
	}
	sort.Slice(sortedIdx, func(x, y int) bool {
		return leafTimes[sortedIdx[x]] < leafTimes[sortedIdx[y]]
	})

	p0State := NewP0State(n)
	for tp := 0; tp < n; tp++ {
		p0State.P0[tp] = 1.0
	}

	pInit := make([][]float64, tl.leafCount+1)
	for i := range pInit {
		pInit[i] = make([]float64, n)
	}

	tprev := tl.Param.ProcessLength

	for i := tl.leafCount - 1; i >= 0; i-- {
		t := leafTimes[sortedIdx[i]]

		//a leaf at the same time as the previous one reuses its result
		if equalWithPrecision(t, tprev) {
			tprev = t
			if i < tl.leafCount-1 {
				copy(pInit[sortedIdx[i]], pInit[sortedIdx[i+1]])
			} else {
				copy(pInit[sortedIdx[i]], p0State.P0)
			}
			continue
		}

		//only fold in the rho factor when starting an integral toward
		//earlier times; stored rows then always still require their own
		//boundary factor, exactly as in the ge calculation
		prevIndex := tl.Param.IntervalIndex(tprev)
		if equalWithPrecision(tl.Param.IntervalEndTimes[prevIndex], tprev) {
			for tp := 0; tp < n; tp++ {
				p0State.P0[tp] *= 1 - tl.Param.RhoValues[prevIndex][tp]
			}
		}

		if err := tl.integrateP0(tprev, t, p0State, p0System); err != nil {
			return err
		}
		copy(pInit[sortedIdx[i]], p0State.P0)
		tprev = t
	}

	if greaterThanWithPrecision(tprev, 0.0) {
		prevIndex := tl.Param.IntervalIndex(tprev)
		if equalWithPrecision(tl.Param.IntervalEndTimes[prevIndex], tprev) {
			for tp := 0; tp < n; tp++ {
				p0State.P0[tp] *= 1 - tl.Param.RhoValues[prevIndex][tp]
			}
		}
	}

	if err := tl.integrateP0(tprev, 0, p0State, p0System); err != nil {
		return err
	}
	copy(pInit[tl.leafCount], p0State.P0)

	tl.pInitialConditions = pInit
	return nil
}

//integrateP0 will carry an extinction state from tStart back to tEnd,
//switching interval coefficients and applying (1-rho) boundary factors on
//the way
func (tl *TreeLikelihood) integrateP0(tStart, tEnd float64, state *P0State, system *P0System) error {
	thisTime := tStart
	thisInterval := tl.Param.IntervalIndex(thisTime)
	endInterval := tl.Param.IntervalIndex(tEnd)

	for thisInterval > endInterval {
		nextTime := tl.Param.IntervalEndTimes[thisInterval-1]

		if lessThanWithPrecision(nextTime, thisTime) {
			system.SetInterval(thisInterval)
			if err := system.Integrate(state, thisTime, nextTime); err != nil {
				return err
			}
		}

		if greaterThanWithPrecision(nextTime, tEnd) {
			for i := 0; i < system.NTypes; i++ {
				state.P0[i] *= 1 - tl.Param.RhoValues[thisInterval-1][i]
			}
		}

		thisTime = nextTime
		thisInterval--
	}

	if greaterThanWithPrecision(thisTime, tEnd) {
		system.SetInterval(thisInterval)
		return system.Integrate(state, thisTime, tEnd)
	}
	return nil
}

//updateParallelizationThreshold will recompute the per-node subtree
//weights and the minimum weight both children of a bifurcation must carry
//before their evaluation is split across goroutines. The tree may change
//between evaluations, so this runs once per evaluation.
func (tl *TreeLikelihood) updateParallelizationThreshold() {
	if !tl.Parallelize {
		return
	}
	tl.subtreeWeight = make([]float64, tl.nNodes)

	root := tl.Tree
	weight := 0.
	for _, c := range root.CHLD {
		weight += tl.getSubtreeWeight(c)
	}
	tl.subtreeWeight[root.NUM] = weight
	tl.parallelThreshold = weight * tl.ParallelFraction
}

func (tl *TreeLikelihood) getSubtreeWeight(node *Node) float64 {
	if len(node.CHLD) == 0 {
		tl.subtreeWeight[node.NUM] = node.LEN
		return node.LEN
	}
	weight := node.LEN
	for _, c := range node.CHLD {
		weight += tl.getSubtreeWeight(c)
	}
	tl.subtreeWeight[node.NUM] = weight
	return weight
}
