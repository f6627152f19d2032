package workflow

import (
	"fmt"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
)

// Validate checks the structural invariants a workflow document must
// satisfy before it is admitted to the registry: the goal map is
// closed under parent/child references, parent and child lists agree
// in both directions, exactly one goal (the root) has no parent, and
// the parent graph is a tree.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return errs.New(errs.PersistenceError, "workflow has no ID")
	}
	root, ok := w.Goals[w.RootGoalID]
	if !ok {
		return errs.New(errs.PersistenceError, fmt.Sprintf("root goal %q missing from goal map", w.RootGoalID))
	}
	if root.ParentGoalID != nil {
		return errs.New(errs.PersistenceError, fmt.Sprintf("root goal %q has a parent", w.RootGoalID))
	}

	for id, g := range w.Goals {
		if g.ID != id {
			return errs.New(errs.PersistenceError, fmt.Sprintf("goal map key %q does not match goal ID %q", id, g.ID))
		}
		if g.ParentGoalID == nil {
			if id != w.RootGoalID {
				return errs.New(errs.PersistenceError, fmt.Sprintf("goal %q has no parent but is not the root", id))
			}
		} else {
			parent, ok := w.Goals[*g.ParentGoalID]
			if !ok {
				return errs.New(errs.PersistenceError, fmt.Sprintf("goal %q references missing parent %q", id, *g.ParentGoalID))
			}
			if !containsID(parent.ChildGoalIDs, id) {
				return errs.New(errs.PersistenceError, fmt.Sprintf("goal %q is not listed among parent %q's children", id, *g.ParentGoalID))
			}
		}
		for _, childID := range g.ChildGoalIDs {
			child, ok := w.Goals[childID]
			if !ok {
				return errs.New(errs.PersistenceError, fmt.Sprintf("goal %q references missing child %q", id, childID))
			}
			if child.ParentGoalID == nil || *child.ParentGoalID != id {
				return errs.New(errs.PersistenceError, fmt.Sprintf("child %q does not reference %q as its parent", childID, id))
			}
		}
	}

	// The parent graph is a tree iff walking up from every goal reaches
	// the root without revisiting a node.
	for id := range w.Goals {
		seen := map[string]bool{}
		cur := id
		for {
			if seen[cur] {
				return errs.New(errs.PersistenceError, fmt.Sprintf("parent cycle through goal %q", cur))
			}
			seen[cur] = true
			parent := w.Goals[cur].ParentGoalID
			if parent == nil {
				break
			}
			cur = *parent
		}
		if cur != w.RootGoalID {
			return errs.New(errs.PersistenceError, fmt.Sprintf("goal %q is not reachable from the root", id))
		}
	}

	for _, id := range w.Hierarchy {
		if _, ok := w.Goals[id]; !ok {
			return errs.New(errs.PersistenceError, fmt.Sprintf("hierarchy references missing goal %q", id))
		}
	}
	if len(w.Hierarchy) > 0 && w.Hierarchy[0] != w.RootGoalID {
		return errs.New(errs.PersistenceError, "hierarchy does not start at the root goal")
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
