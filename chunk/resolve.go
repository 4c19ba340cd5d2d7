package chunk

import (
	"fmt"
	"sort"
)

// None marks a missing neighbor in a Link.
const None = -1

// Link holds the positions of a chunk's neighbors in the resolved order.
type Link struct {
	Prev int
	Next int
}

// HasPrev reports whether the chunk has a preceding neighbor.
func (l Link) HasPrev() bool { return l.Prev != None }

// HasNext reports whether the chunk has a following neighbor.
func (l Link) HasNext() bool { return l.Next != None }

// Resolution is the total order of a batch and the continuity links within it.
type Resolution struct {
	Order []Identity
	Links []Link
}

// Prev returns the preceding identity of position i.
func (r *Resolution) Prev(i int) (Identity, bool) {
	if p := r.Links[i].Prev; p != None {
		return r.Order[p], true
	}
	return Identity{}, false
}

// Next returns the following identity of position i.
func (r *Resolution) Next(i int) (Identity, bool) {
	if n := r.Links[i].Next; n != None {
		return r.Order[n], true
	}
	return Identity{}, false
}

// Resolve sorts ids by participant, instrument, date and hour and links each chunk to
// its neighbors within the same participant and instrument. Duplicate keys fail with
// ErrAmbiguousOrdering. When independent is set every link is None.
func Resolve(ids []Identity, independent bool) (*Resolution, error) {
	order := append([]Identity(nil), ids...)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Key().less(order[j].Key())
	})

	for i := 1; i < len(order); i++ {
		if order[i].Key() == order[i-1].Key() {
			return nil, fmt.Errorf("%w: %s shared by %s and %s", ErrAmbiguousOrdering, order[i].Key(), order[i-1].Path, order[i].Path)
		}
	}

	links := make([]Link, len(order))
	for i := range order {
		links[i] = Link{Prev: None, Next: None}
		if independent {
			continue
		}
		if i > 0 && order[i-1].SameGroup(order[i]) {
			links[i].Prev = i - 1
		}
		if i+1 < len(order) && order[i+1].SameGroup(order[i]) {
			links[i].Next = i + 1
		}
	}
	return &Resolution{Order: order, Links: links}, nil
}
