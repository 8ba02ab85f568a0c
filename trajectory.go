package mtbd

import "fmt"

//Event kinds recorded by the simulator
const (
	EventBirth       = "birth"
	EventCrossBirth  = "crossBirth"
	EventDeath       = "death"
	EventSampling    = "sampling"
	EventRhoSampling = "rhoSampling"
	EventMigration   = "migration"
)

//Event is one state change of the simulated population. Removed reports
//whether a sampling event took its lineage out of the population.
type Event struct {
	Time     float64
	Kind     string
	FromType int
	ToType   int
	Removed  bool
}

//Trajectory records the full event history of a simulation together with
//the per-type lineage counts it implies
type Trajectory struct {
	Events []Event

	//Counts holds the number of live lineages per type after the last
	//recorded event
	Counts []int
}

//NewTrajectory will return an empty trajectory over n types, seeded with
//one lineage of the given starting type
func NewTrajectory(n, startType int) *Trajectory {
	tr := &Trajectory{Counts: make([]int, n)}
	tr.Counts[startType]++
	return tr
}

//Record will append an event and update the lineage counts accordingly
func (tr *Trajectory) Record(ev Event) {
	tr.Events = append(tr.Events, ev)
	switch ev.Kind {
	case EventBirth:
		tr.Counts[ev.FromType]++
	case EventCrossBirth:
		tr.Counts[ev.ToType]++
	case EventDeath:
		tr.Counts[ev.FromType]--
	case EventSampling, EventRhoSampling:
		if ev.Removed {
			tr.Counts[ev.FromType]--
		}
	case EventMigration:
		tr.Counts[ev.FromType]--
		tr.Counts[ev.ToType]++
	}
}

//TotalLineages will return the number of live lineages across all types
func (tr *Trajectory) TotalLineages() int {
	total := 0
	for _, c := range tr.Counts {
		total += c
	}
	return total
}

//SampleCount will return the number of sampling events recorded so far
func (tr *Trajectory) SampleCount() int {
	count := 0
	for _, ev := range tr.Events {
		if ev.Kind == EventSampling || ev.Kind == EventRhoSampling {
			count++
		}
	}
	return count
}

func (ev Event) String() string {
	if ev.Kind == EventMigration || ev.Kind == EventCrossBirth {
		return fmt.Sprintf("%s t=%g %d->%d", ev.Kind, ev.Time, ev.FromType, ev.ToType)
	}
	return fmt.Sprintf("%s t=%g type=%d", ev.Kind, ev.Time, ev.FromType)
}
