package module

import (
	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/topology"
)

// Always applies to every Updatable.
func Always(topology.View) bool { return true }

// NodesOnly applies to graph nodes.
func NodesOnly(u topology.View) bool { return u.Kind == topology.KindNode }

// VesiclesOnly applies to vesicles.
func VesiclesOnly(u topology.View) bool { return u.Kind == topology.KindVesicle }

// InRegion applies to Updatables of the named region.
func InRegion(identifier string) Condition {
	return func(u topology.View) bool {
		return u.Region != nil && u.Region.Identifier() == identifier
	}
}

// HasSubsection applies to Updatables whose region contains sub.
func HasSubsection(sub cell.Subsection) Condition {
	return func(u topology.View) bool {
		return u.Region != nil && u.Region.Has(sub)
	}
}

// HasMembrane applies to Updatables whose region has a membrane.
func HasMembrane(u topology.View) bool {
	return u.Region != nil && u.Region.HasMembrane()
}

// VesicleInState applies to vesicles in state s.
func VesicleInState(s topology.VesicleState) Condition {
	return func(u topology.View) bool {
		return u.Kind == topology.KindVesicle && u.State == s
	}
}

// And applies when every condition applies.
func And(conds ...Condition) Condition {
	return func(u topology.View) bool {
		for _, c := range conds {
			if !c(u) {
				return false
			}
		}
		return true
	}
}

// Or applies when any condition applies.
func Or(conds ...Condition) Condition {
	return func(u topology.View) bool {
		for _, c := range conds {
			if c(u) {
				return true
			}
		}
		return false
	}
}

// Not inverts c.
func Not(c Condition) Condition {
	return func(u topology.View) bool { return !c(u) }
}
