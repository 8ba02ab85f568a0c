package mtbd

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	//ErrTooFewSamples indicates a simulated process that died out or went
	//unsampled before producing at least two sampled lineages
	ErrTooFewSamples = errors.New("mtbd: simulation produced fewer than two samples")

	//ErrTooManyLineages indicates a supercritical simulation that exceeded
	//its lineage cap
	ErrTooManyLineages = errors.New("mtbd: simulation exceeded the lineage limit")
)

//DefaultMaxLineages caps the live population during simulation
const DefaultMaxLineages = 100000

//Simulator draws sampled transmission trees from the multi-type
//birth-death-migration process by forward simulation. The starting type is
//drawn from Frequencies; lineages then branch, die, migrate and get
//sampled under the Parameterization's skyline rates, with rho sampling
//applied at interval boundaries.
type Simulator struct {
	Param       *Parameterization
	Frequencies []float64

	//MaxLineages bounds the live population; zero means DefaultMaxLineages
	MaxLineages int

	//Src supplies randomness; nil seeds a fresh generator
	Src rand.Source
}

type simLineage struct {
	parent    *Node
	startTime float64
	tp        int
}

//Simulate will run one realization of the process and return the pruned
//tree of sampled lineages together with the full event trajectory. Leaf
//heights are exact process times, so the tree can be evaluated directly
//against the same Parameterization.
func (s *Simulator) Simulate() (*Node, *Trajectory, error) {
	p := s.Param
	if err := p.Init(); err != nil {
		return nil, nil, err
	}
	n := p.NTypes()
	maxLineages := s.MaxLineages
	if maxLineages == 0 {
		maxLineages = DefaultMaxLineages
	}
	src := s.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	rnd := rand.New(src)

	freqs := s.Frequencies
	if freqs == nil {
		freqs = make([]float64, n)
		for i := range freqs {
			freqs[i] = 1 / float64(n)
		}
	}
	startType := int(distuv.NewCategorical(freqs, src).Rand())
	traj := NewTrajectory(n, startType)

	sampled := make(map[*Node]bool)
	tipCount := 0

	root := &Node{}
	root.HEIGHT = p.ProcessLength
	lineages := []simLineage{{parent: root, startTime: 0, tp: startType}}

	t := 0.0
	interval := 0

	//terminate will close the lineage at index li with a new node at time
	//when, returning that node
	terminate := func(li int, when float64) *Node {
		ln := lineages[li]
		nd := &Node{
			LEN:    when - ln.startTime,
			HEIGHT: p.ProcessLength - when,
			TYPE:   p.Types.TypeName(ln.tp),
		}
		ln.parent.AddChild(nd)
		lineages[li] = lineages[len(lineages)-1]
		lineages = lineages[:len(lineages)-1]
		return nd
	}

	sampleLineage := func(li int, when float64, rho bool) {
		ln := lineages[li]
		removed := rnd.Float64() < p.RemovalProbs[interval][ln.tp]
		kind := EventSampling
		if rho {
			kind = EventRhoSampling
		}
		traj.Record(Event{Time: when, Kind: kind, FromType: ln.tp, ToType: ln.tp, Removed: removed})

		nd := terminate(li, when)
		if removed {
			nd.NAME = fmt.Sprintf("t%d", tipCount)
			tipCount++
			sampled[nd] = true
			return
		}
		//sampled without removal: the sample hangs off the continuing
		//lineage as a zero length leaf
		leaf := &Node{
			NAME:   fmt.Sprintf("t%d", tipCount),
			HEIGHT: nd.HEIGHT,
			TYPE:   nd.TYPE,
		}
		tipCount++
		nd.AddChild(leaf)
		sampled[leaf] = true
		lineages = append(lineages, simLineage{parent: nd, startTime: when, tp: ln.tp})
	}

	for {
		totalRate := 0.0
		for _, ln := range lineages {
			totalRate += s.lineageRate(interval, ln.tp)
		}

		boundary := p.IntervalEndTimes[interval]
		tNext := boundary
		if totalRate > 0 {
			wait := distuv.Exponential{Rate: totalRate, Src: src}.Rand()
			tNext = t + wait
		}

		if tNext >= boundary {
			t = boundary
			for li := len(lineages) - 1; li >= 0; li-- {
				if rnd.Float64() < p.RhoValues[interval][lineages[li].tp] {
					sampleLineage(li, t, true)
				}
			}
			if interval == p.NIntervals()-1 {
				break
			}
			interval++
			continue
		}

		t = tNext
		u := rnd.Float64() * totalRate
		li := 0
		for ; li < len(lineages)-1; li++ {
			r := s.lineageRate(interval, lineages[li].tp)
			if u < r {
				break
			}
			u -= r
		}
		ln := lineages[li]
		tp := ln.tp

		switch {
		case u < p.BirthRates[interval][tp]:
			traj.Record(Event{Time: t, Kind: EventBirth, FromType: tp, ToType: tp})
			nd := terminate(li, t)
			lineages = append(lineages,
				simLineage{parent: nd, startTime: t, tp: tp},
				simLineage{parent: nd, startTime: t, tp: tp})

		case u < p.BirthRates[interval][tp]+p.DeathRates[interval][tp]:
			traj.Record(Event{Time: t, Kind: EventDeath, FromType: tp, ToType: tp})
			terminate(li, t)

		case u < p.BirthRates[interval][tp]+p.DeathRates[interval][tp]+p.SamplingRates[interval][tp]:
			sampleLineage(li, t, false)

		default:
			u -= p.BirthRates[interval][tp] + p.DeathRates[interval][tp] + p.SamplingRates[interval][tp]
			handled := false
			for j := 0; j < n && !handled; j++ {
				if j == tp {
					continue
				}
				if u < p.MigRate(interval, tp, j) {
					traj.Record(Event{Time: t, Kind: EventMigration, FromType: tp, ToType: j})
					lineages[li].tp = j
					handled = true
					break
				}
				u -= p.MigRate(interval, tp, j)

				if u < p.CrossBirthRate(interval, tp, j) {
					traj.Record(Event{Time: t, Kind: EventCrossBirth, FromType: tp, ToType: j})
					nd := terminate(li, t)
					lineages = append(lineages,
						simLineage{parent: nd, startTime: t, tp: tp},
						simLineage{parent: nd, startTime: t, tp: j})
					handled = true
					break
				}
				u -= p.CrossBirthRate(interval, tp, j)
			}
			if !handled {
				//numerical slack in the propensity walk lands on the last
				//nonzero channel; treat it as a same-type birth
				traj.Record(Event{Time: t, Kind: EventBirth, FromType: tp, ToType: tp})
				nd := terminate(li, t)
				lineages = append(lineages,
					simLineage{parent: nd, startTime: t, tp: tp},
					simLineage{parent: nd, startTime: t, tp: tp})
			}
		}

		if len(lineages) > maxLineages {
			return nil, traj, ErrTooManyLineages
		}
		if len(lineages) == 0 {
			break
		}
	}

	//lineages that survive to the process end unsampled become extant
	//unobserved tips and are pruned below
	for len(lineages) > 0 {
		terminate(len(lineages)-1, p.ProcessLength)
	}

	if len(sampled) < 2 {
		return nil, traj, ErrTooFewSamples
	}

	tree := pruneUnsampled(root, sampled)
	tree.PAR = nil
	tree.NumberNodes()
	tree.MarkSampledAncestors()
	return tree, traj, nil
}

func (s *Simulator) lineageRate(interval, tp int) float64 {
	p := s.Param
	rate := p.BirthRates[interval][tp] + p.DeathRates[interval][tp] + p.SamplingRates[interval][tp]
	for j := 0; j < p.NTypes(); j++ {
		if j == tp {
			continue
		}
		rate += p.MigRate(interval, tp, j) + p.CrossBirthRate(interval, tp, j)
	}
	return rate
}

//pruneUnsampled will drop every subtree without a sampled leaf and splice
//out the resulting single-child nodes, accumulating branch lengths
func pruneUnsampled(nd *Node, sampled map[*Node]bool) *Node {
	if len(nd.CHLD) == 0 {
		if sampled[nd] {
			return nd
		}
		return nil
	}

	var kept []*Node
	for _, c := range nd.CHLD {
		if k := pruneUnsampled(c, sampled); k != nil {
			kept = append(kept, k)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		kept[0].LEN += nd.LEN
		kept[0].PAR = nd.PAR
		return kept[0]
	default:
		nd.CHLD = kept
		for _, c := range kept {
			c.PAR = nd
		}
		return nd
	}
}
