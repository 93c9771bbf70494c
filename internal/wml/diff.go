package wml

import (
	"errors"
	"fmt"
	"strconv"
)

// Diff operation tags
const (
	OpInsert      = "insert"
	OpDelete      = "delete"
	OpInsertChild = "insert_child"
	OpDeleteChild = "delete_child"
	OpChangeChild = "change_child"
)

var ErrBadDiff = errors.New("wml: diff does not apply")

// Diff computes the operations transforming a into b, so that applying the
// result to a yields b including the order of differently named children.
// The result is an unnamed node containing operation children; it is empty
// when a equals b. Child operations address children by index among
// same-named siblings.
func Diff(a, b *Node) *Node {
	out := NewDocument()
	out.children = attrOps(a, b)

	ops := childOps(a, b)
	if !reorders(a, b, ops) {
		out.children = append(out.children, ops...)
		return out
	}
	// per-name edits cannot express the new interleaving; rebuild the
	// children in order instead
	out.children = append(out.children, rebuildOps(a, b)...)
	return out
}

func attrOps(a, b *Node) []*Node {
	var ops []*Node

	ins := NewNode(OpInsert)
	for _, attr := range b.attrs {
		if v, ok := a.Lookup(attr.Key); !ok || v != attr.Value {
			ins.Set(attr.Key, attr.Value)
		}
	}
	if len(ins.attrs) > 0 {
		ops = append(ops, ins)
	}

	del := NewNode(OpDelete)
	for _, attr := range a.attrs {
		if !b.Has(attr.Key) {
			del.Set(attr.Key, "x")
		}
	}
	if len(del.attrs) > 0 {
		ops = append(ops, del)
	}
	return ops
}

// childOps edits each run of same-named children in place
func childOps(a, b *Node) []*Node {
	var ops []*Node
	for _, name := range childNames(a, b) {
		left := a.Children(name)
		right := b.Children(name)

		common := min(len(left), len(right))
		for i := 0; i < common; i++ {
			if left[i].Equal(right[i]) {
				continue
			}
			sub := Diff(left[i], right[i])
			sub.Name = name
			ops = append(ops, ChangeChild(i, sub))
		}
		for i := common; i < len(right); i++ {
			ops = append(ops, InsertChild(i, right[i].Clone()))
		}
		for i := len(left) - 1; i >= common; i-- {
			ops = append(ops, DeleteChild(i, name))
		}
	}
	return ops
}

// reorders reports whether applying ops to a leaves its children in a
// different order of names than b
func reorders(a, b *Node, ops []*Node) bool {
	work := &Node{children: cloneChildren(a.children)}
	if err := applyDiff(work, &Node{children: ops}); err != nil {
		return true
	}
	if len(work.children) != len(b.children) {
		return true
	}
	for i, c := range work.children {
		if c.Name != b.children[i].Name {
			return true
		}
	}
	return false
}

// rebuildOps deletes every child of a and appends every child of b
func rebuildOps(a, b *Node) []*Node {
	ops := make([]*Node, 0, len(a.children)+len(b.children))
	remaining := make(map[string]int)
	for _, c := range a.children {
		remaining[c.Name]++
	}
	for i := len(a.children) - 1; i >= 0; i-- {
		name := a.children[i].Name
		remaining[name]--
		ops = append(ops, DeleteChild(remaining[name], name))
	}
	counts := make(map[string]int)
	for _, c := range b.children {
		ops = append(ops, InsertChild(counts[c.Name], c.Clone()))
		counts[c.Name]++
	}
	return ops
}

func cloneChildren(children []*Node) []*Node {
	out := make([]*Node, len(children))
	for i, c := range children {
		out[i] = c.Clone()
	}
	return out
}

// InsertChild builds an insert_child operation
func InsertChild(index int, child *Node) *Node {
	op := NewNode(OpInsertChild).SetInt("index", index)
	op.AppendChild(child)
	return op
}

// DeleteChild builds a delete_child operation for the named child
func DeleteChild(index int, name string) *Node {
	op := NewNode(OpDeleteChild).SetInt("index", index)
	op.AddChild(name)
	return op
}

// ChangeChild builds a change_child operation. sub must be named after the
// target child and contain the nested operations.
func ChangeChild(index int, sub *Node) *Node {
	op := NewNode(OpChangeChild).SetInt("index", index)
	op.AppendChild(sub)
	return op
}

// ApplyDiff applies diff to target. Nothing is modified when the diff does
// not apply cleanly.
func ApplyDiff(target, diff *Node) error {
	work := target.Clone()
	if err := applyDiff(work, diff); err != nil {
		return err
	}
	target.attrs = work.attrs
	target.children = work.children
	return nil
}

func applyDiff(target, diff *Node) error {
	for _, op := range diff.children {
		switch op.Name {
		case OpInsert:
			for _, a := range op.attrs {
				target.Set(a.Key, a.Value)
			}
		case OpDelete:
			for _, a := range op.attrs {
				target.Delete(a.Key)
			}
		case OpInsertChild, OpDeleteChild, OpChangeChild:
			index, err := opIndex(op)
			if err != nil {
				return err
			}
			child := op.FirstChild()
			if child == nil {
				return fmt.Errorf("%w: %s without child", ErrBadDiff, op.Name)
			}
			switch op.Name {
			case OpInsertChild:
				if !target.InsertChild(index, child.Clone()) {
					return fmt.Errorf("%w: insert [%s] at %d", ErrBadDiff, child.Name, index)
				}
			case OpDeleteChild:
				if !target.RemoveChild(child.Name, index) {
					return fmt.Errorf("%w: delete [%s] at %d", ErrBadDiff, child.Name, index)
				}
			case OpChangeChild:
				existing := target.ChildAt(child.Name, index)
				if existing == nil {
					return fmt.Errorf("%w: change [%s] at %d", ErrBadDiff, child.Name, index)
				}
				if err := applyDiff(existing, child); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: unknown operation [%s]", ErrBadDiff, op.Name)
		}
	}
	return nil
}

func opIndex(op *Node) (int, error) {
	v, ok := op.Lookup("index")
	if !ok {
		return 0, fmt.Errorf("%w: %s missing index", ErrBadDiff, op.Name)
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: %s bad index %q", ErrBadDiff, op.Name, v)
	}
	return i, nil
}

// childNames returns the distinct child names of a then b in first-seen order
func childNames(a, b *Node) []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range [2]*Node{a, b} {
		for _, c := range n.children {
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
			}
		}
	}
	return names
}
