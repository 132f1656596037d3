package aet

import "fmt"

// GraphBoundsError is returned when contour navigation is asked to move past
// the left end of the tree or of the contour it is walking. It always points
// at a dispatch bug or an engine that broke its ordering guarantees.
type GraphBoundsError struct {
	Op     string
	Node   NodeID
	Reason string
}

func (e *GraphBoundsError) Error() string {
	return fmt.Sprintf("%s: node %d: %s", e.Op, e.Node, e.Reason)
}

// StepLeftInContour moves from id to the node logically preceding it in the
// same execution contour. Completed calls, resolved conditions and resolved
// negations are skipped as a whole. Redo and Fail nodes end a contour, so
// stepping left from them continues in the previous contour.
func (s *Store) StepLeftInContour(id NodeID) (NodeID, error) {
	const op = "step left in contour"
	s.version.Bump()

	n, ok := s.Node(id)
	if !ok {
		return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: "no such node"}
	}

	switch n.Kind {
	case KindExit, KindException:
		return s.mustNode(n.Call).Pred, nil
	case KindSwitch, KindFirstDisj, KindThen, KindNegEnter, KindNegFailure:
		return n.Pred, nil
	case KindCond:
		if s.Status(id) == Failed {
			return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: "failed cond is not on any live contour"}
		}
		return n.Pred, nil
	case KindLaterDisj:
		return s.mustNode(n.Ref).Pred, nil
	case KindElse, KindNegSuccess:
		return s.mustNode(n.Ref).Pred, nil
	case KindRedo, KindFail:
		return s.FindPrevContour(id)
	case KindCall:
		return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: "reached call at the left end of the contour"}
	}
	return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: fmt.Sprintf("unexpected %s node", n.Kind)}
}

// FindPrevContour returns the tail of the contour that was active before the
// backtrack which id records. For nodes that do not record a backtrack the
// node itself is still that tail.
func (s *Store) FindPrevContour(id NodeID) (NodeID, error) {
	const op = "find previous contour"
	s.version.Bump()

	n, ok := s.Node(id)
	if !ok {
		return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: "no such node"}
	}

	switch n.Kind {
	case KindFail:
		return s.mustNode(n.Call).Pred, nil
	case KindRedo:
		exit, ok := s.Node(n.PriorInterface)
		if !ok || exit.Kind != KindExit {
			return NoNode, &GraphBoundsError{Op: op, Node: id, Reason: "redo without a preceding exit"}
		}
		return exit.Pred, nil
	case KindNegFailure:
		return s.mustNode(n.Ref).Pred, nil
	}
	return id, nil
}
