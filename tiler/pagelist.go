package tiler

// PageIterator is the external collaborator Map depends on: a lazy, finite,
// non-restartable sequence of physical page addresses supplied entirely by the caller.
// The manager never acquires or releases physical pages itself; it only drains as many
// entries as the mapped length requires, synchronously, while the mapping is being
// recorded.
type PageIterator interface {
	// NextPage returns the next physical page address. ok is false once the sequence
	// is exhausted.
	NextPage() (addr PhysicalAddress, ok bool)
}

// PageIteratorFunc adapts a plain function to the PageIterator interface.
type PageIteratorFunc func() (PhysicalAddress, bool)

func (f PageIteratorFunc) NextPage() (PhysicalAddress, bool) {
	return f()
}

type slicePages struct {
	pages []PhysicalAddress
	next  int
}

func (s *slicePages) NextPage() (PhysicalAddress, bool) {
	if s.next >= len(s.pages) {
		return 0, false
	}
	addr := s.pages[s.next]
	s.next++
	return addr, true
}

// PageSlice wraps an in-memory page list as a PageIterator.
func PageSlice(pages []PhysicalAddress) PageIterator {
	return &slicePages{pages: pages}
}
