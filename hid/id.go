// Package hid implements hierarchical item identifiers: non-empty sequences
// of positive integers rendered dotted ("2", "2.1", "2.1.3"). IDs encode
// ancestry directly in their textual form so the workflow engine can test
// dependency and descendant relationships without a side table.
package hid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth is the maximum number of dotted segments an ID may carry.
const MaxDepth = 10

// ID is an immutable hierarchical identifier. The zero value is invalid;
// construct IDs with Parse or NewRoot.
type ID struct {
	parts []int
	text  string
}

var (
	// ErrEmpty is returned when parsing an empty identifier string.
	ErrEmpty = errors.New("hid: empty identifier")
	// ErrTooDeep is returned when an identifier exceeds MaxDepth segments.
	ErrTooDeep = errors.New("hid: identifier exceeds max depth")
	// ErrNonPositive is returned when a segment is zero or negative.
	ErrNonPositive = errors.New("hid: identifier segment must be positive")
	// ErrNotNumeric is returned when a segment cannot be parsed as an integer.
	ErrNotNumeric = errors.New("hid: identifier segment is not numeric")
)

// Parse validates and constructs an ID from its dotted string form.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, ErrEmpty
	}
	segs := strings.Split(s, ".")
	if len(segs) > MaxDepth {
		return ID{}, fmt.Errorf("%w: %q has %d segments (max %d)", ErrTooDeep, s, len(segs), MaxDepth)
	}
	parts := make([]int, len(segs))
	for i, seg := range segs {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q", ErrNotNumeric, seg)
		}
		if n <= 0 {
			return ID{}, fmt.Errorf("%w: %q", ErrNonPositive, seg)
		}
		parts[i] = n
	}
	return newID(parts), nil
}

// MustParse parses s and panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewRoot constructs a single-segment root ID (e.g. root 3 -> "3").
func NewRoot(n int) (ID, error) {
	if n <= 0 {
		return ID{}, ErrNonPositive
	}
	return newID([]int{n}), nil
}

func newID(parts []int) ID {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = strconv.Itoa(p)
	}
	cp := make([]int, len(parts))
	copy(cp, parts)
	return ID{parts: cp, text: strings.Join(strs, ".")}
}

// IsZero reports whether id is the zero value (never produced by Parse).
func (id ID) IsZero() bool { return len(id.parts) == 0 }

// String returns the dotted textual form, e.g. "2.1.3".
func (id ID) String() string { return id.text }

// Depth returns the number of dotted segments.
func (id ID) Depth() int { return len(id.parts) }

// Level is an alias for Depth kept for readability at call sites that reason
// about nesting level rather than segment count.
func (id ID) Level() int { return id.Depth() }

// Parent returns the parent ID and true, or the zero ID and false if id is a
// root (depth 1).
func (id ID) Parent() (ID, bool) {
	if len(id.parts) <= 1 {
		return ID{}, false
	}
	return newID(id.parts[:len(id.parts)-1]), true
}

// Root returns the root segment of id as an integer (the first segment).
func (id ID) Root() int {
	if len(id.parts) == 0 {
		return 0
	}
	return id.parts[0]
}

// last returns the final segment (the "suffix" relative to the parent).
func (id ID) last() int {
	if len(id.parts) == 0 {
		return 0
	}
	return id.parts[len(id.parts)-1]
}

// Equal reports whether id and other denote the same identifier.
func (id ID) Equal(other ID) bool { return id.text == other.text }

// Compare performs lexicographic comparison over integer parts, treating
// missing trailing parts as 0 (so "2" < "2.1" < "2.2" < "3").
func Compare(a, b ID) int {
	n := len(a.parts)
	if len(b.parts) > n {
		n = len(b.parts)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a.parts) {
			av = a.parts[i]
		}
		if i < len(b.parts) {
			bv = b.parts[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// IsDescendant reports whether id is a (possibly indirect) descendant of
// ancestor: id's textual form must begin with ancestor's form followed by a
// dot.
func IsDescendant(ancestor, id ID) bool {
	return strings.HasPrefix(id.text, ancestor.text+".")
}

// IsChild reports whether id is a direct child of parent (depth exactly one
// greater, and a descendant).
func IsChild(parent, id ID) bool {
	return id.Depth() == parent.Depth()+1 && IsDescendant(parent, id)
}

// IsAncestor reports whether id is a (possibly indirect) ancestor of
// descendant; the inverse of IsDescendant.
func IsAncestor(id, descendant ID) bool {
	return IsDescendant(id, descendant)
}

// ChildrenOf returns the direct children of parent found in population, in
// population order.
func ChildrenOf(parent ID, population []ID) []ID {
	var out []ID
	for _, cand := range population {
		if IsChild(parent, cand) {
			out = append(out, cand)
		}
	}
	return out
}

// DescendantsOf returns every (direct or indirect) descendant of parent
// found in population, in population order.
func DescendantsOf(parent ID, population []ID) []ID {
	var out []ID
	for _, cand := range population {
		if IsDescendant(parent, cand) {
			out = append(out, cand)
		}
	}
	return out
}

// GenerateNextChild finds the direct children of parent in population, takes
// the maximum trailing segment among them, and returns parent + "." +
// (max+1). Returns ErrTooDeep if the resulting ID would exceed MaxDepth.
func GenerateNextChild(parent ID, population []ID) (ID, error) {
	if parent.Depth()+1 > MaxDepth {
		return ID{}, ErrTooDeep
	}
	max := 0
	for _, child := range ChildrenOf(parent, population) {
		if v := child.last(); v > max {
			max = v
		}
	}
	parts := append(append([]int{}, parent.parts...), max+1)
	return newID(parts), nil
}

// GenerateNextRoot returns max(root ids in population) + 1 as a new root ID.
// When population is empty, it returns root 1.
func GenerateNextRoot(population []ID) (ID, error) {
	max := 0
	for _, id := range population {
		if r := id.Root(); r > max {
			max = r
		}
	}
	return NewRoot(max + 1)
}

// Less reports whether a sorts before b under Compare, suitable as a
// sort.Slice less function.
func Less(a, b ID) bool { return Compare(a, b) < 0 }
