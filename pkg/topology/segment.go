package topology

// Segment is one broadcast domain: a single link, or every link joined
// through switches. All L3 interfaces of a segment share one subnet.
type Segment struct {
	ID    int // Seq of the first link
	Links []*Link
}

// Interfaces returns the non-switch interfaces of the segment in link
// order, A side first.
func (s *Segment) Interfaces() []*Interface {
	var out []*Interface
	for _, l := range s.Links {
		for _, i := range []*Interface{l.A, l.B} {
			if i.Node.Role != Switch {
				out = append(out, i)
			}
		}
	}
	return out
}

// Attached returns the interface of n on this segment, or nil.
func (s *Segment) Attached(n *Node) *Interface {
	for _, i := range s.Interfaces() {
		if i.Node == n {
			return i
		}
	}
	return nil
}

// Segments returns the broadcast segments ordered by their first link.
// AddLink keeps them current; concurrent readers are safe once building is done.
func (t *Topology) Segments() []*Segment {
	return t.segments
}

func (t *Topology) SegmentOf(l *Link) *Segment {
	return t.segOf[l]
}

// SegmentsOf returns the segments n has an interface on, in interface order.
func (t *Topology) SegmentsOf(n *Node) []*Segment {
	var out []*Segment
	seen := make(map[*Segment]bool)
	for _, i := range n.Interfaces {
		s := t.SegmentOf(i.Link)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (t *Topology) buildSegments() {
	parent := make([]int, len(t.links))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for _, n := range t.order {
		if n.Role != Switch || len(n.Interfaces) < 2 {
			continue
		}
		first := n.Interfaces[0].Link.Seq
		for _, i := range n.Interfaces[1:] {
			union(first, i.Link.Seq)
		}
	}

	byRoot := make(map[int]*Segment)
	t.segOf = make(map[*Link]*Segment, len(t.links))
	t.segments = make([]*Segment, 0)
	for _, l := range t.links {
		r := find(l.Seq)
		s, ok := byRoot[r]
		if !ok {
			s = &Segment{ID: l.Seq}
			byRoot[r] = s
			t.segments = append(t.segments, s)
		}
		s.Links = append(s.Links, l)
		t.segOf[l] = s
	}
}
