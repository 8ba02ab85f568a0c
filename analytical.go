package mtbd

import (
	"math"
	"sort"
)

//singleTypeLogLikelihood evaluates the tree density in closed form for a
//single-type skyline process conditioned on the origin. The piecewise
//constant rates admit explicit extinction and no-sampling functions per
//interval, so no numerical integration is needed. Falls back are handled
//by the caller; this routine assumes NTypes()==1 and origin conditioning.
func (tl *TreeLikelihood) singleTypeLogLikelihood() (float64, error) {
	p := tl.Param
	nIntervals := p.NIntervals()

	//event nodes ordered from the present backward; sampled-ancestor
	//attachment points are skipped because the leaf below carries the event
	nodes := make([]*Node, 0, tl.nNodes)
	for _, nd := range tl.Tree.PreorderArray() {
		if nd.isFakeBifurcation() {
			continue
		}
		nodes = append(nodes, nd)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].HEIGHT < nodes[j].HEIGHT
	})

	logP := 0.

	//state carried across interval boundaries, from later to earlier
	pPrev := 1.0
	qPrev := 1.0
	rPrev := 0.0
	lineageCount := 0
	i := 0

	var A, B, tEnd float64

	for l := nIntervals - 1; l >= 0; l-- {
		lambda := p.BirthRates[l][0]
		mu := p.DeathRates[l][0]
		psi := p.SamplingRates[l][0]
		r := p.RemovalProbs[l][0]
		rho := p.RhoValues[l][0]

		tEnd = p.IntervalEndTimes[l]
		A = math.Sqrt((lambda-mu-psi)*(lambda-mu-psi) + 4*lambda*psi)
		B = ((1-2*(1-rho)*pPrev)*lambda + mu + psi) / A

		//events exactly at the interval end. Without rho sampling there, a
		//tip on the boundary is an ordinary serial sample under this
		//interval's rates.
		nBefore := lineageCount
		thisM, thisK := 0, 0
		for i < len(nodes) && equalWithPrecision(p.NodeTime(nodes[i].HEIGHT), tEnd) {
			nd := nodes[i]
			switch {
			case len(nd.CHLD) == 0 && !nd.ANC:
				if rho > 0 {
					thisM++
				} else {
					logP += math.Log(psi * (r + (1-r)*pPrev))
				}
				lineageCount++
			case len(nd.CHLD) == 0 && nd.ANC:
				if rho > 0 {
					thisK++
				} else {
					logP += math.Log((1 - r) * psi)
				}
			default:
				logP += math.Log(2 * lambda)
				lineageCount--
			}
			i++
		}
		thisN := thisM + thisK
		thisn := lineageCount - thisN

		logP += float64(nBefore) * math.Log(qPrev)
		if rho > 0 {
			logP += float64(thisN) * math.Log(rho)
			if thisn > 0 {
				logP += float64(thisn) * math.Log(1-rho)
			}
		}
		if thisK > 0 {
			logP += float64(thisK) * math.Log(1-rPrev)
		}
		if thisM > 0 {
			logP += float64(thisM) * math.Log(rPrev+(1-rPrev)*pPrev)
		}

		tNext := 0.
		if l > 0 {
			tNext = p.IntervalEndTimes[l-1]
		}

		//events strictly inside the interval
		for i < len(nodes) && greaterThanWithPrecision(p.NodeTime(nodes[i].HEIGHT), tNext) {
			nd := nodes[i]
			t := p.NodeTime(nd.HEIGHT)
			switch {
			case len(nd.CHLD) == 0 && !nd.ANC:
				logP += math.Log(psi*(r+(1-r)*singleTypeP(t, tEnd, A, B, lambda, mu, psi))) -
					math.Log(singleTypeQ(t, tEnd, A, B))
				lineageCount++
			case len(nd.CHLD) == 0 && nd.ANC:
				logP += math.Log((1 - r) * psi)
			default:
				logP += math.Log(2 * lambda * singleTypeQ(t, tEnd, A, B))
				lineageCount--
			}
			i++
		}

		if l > 0 {
			pPrev = singleTypeP(tNext, tEnd, A, B, lambda, mu, psi)
			qPrev = singleTypeQ(tNext, tEnd, A, B)
			rPrev = r
		}
	}

	//the origin contributes one edge through the first interval
	logP += math.Log(singleTypeQ(0, tEnd, A, B))

	if tl.ConditionOnSurvival {
		lambda := p.BirthRates[0][0]
		mu := p.DeathRates[0][0]
		psi := p.SamplingRates[0][0]
		pOrigin := singleTypeP(0, tEnd, A, B, lambda, mu, psi)
		if pOrigin < 0 || pOrigin >= 1 {
			return math.Inf(-1), nil
		}
		logP -= math.Log(1 - pOrigin)
	}

	tl.rootTypeProbs[0] = 1.0

	lg, _ := math.Lgamma(float64(tl.leafCount + 1))
	return logP - lg, nil
}

//singleTypeP is the extinction probability at time t within the interval
//ending at tEnd, continued from the later intervals through the constants
//A and B
func singleTypeP(t, tEnd, A, B, lambda, mu, psi float64) float64 {
	v := math.Exp(A*(tEnd-t)) * (1 + B)
	return (lambda + mu + psi - A*(v-(1-B))/(v+(1-B))) / (2 * lambda)
}

//singleTypeQ is the per-lineage transport factor across [t, tEnd]
func singleTypeQ(t, tEnd, A, B float64) float64 {
	v := math.Exp(A * (tEnd - t))
	return 4 * v / math.Pow(v*(1+B)+(1-B), 2)
}
