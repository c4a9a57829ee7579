package tiler

// blockKind separates blocks whose container space was reserved by this manager from
// blocks that merely alias caller-owned physical pages. Free accepts only owned blocks,
// UnMap only imported ones; dispatch on the kind is always an explicit switch with a
// panic default so an unknown kind cannot slip through silently.
type blockKind int8

const (
	blockOwned blockKind = iota
	blockImported
)

func (k blockKind) String() string {
	switch k {
	case blockOwned:
		return "owned"
	case blockImported:
		return "imported"
	}
	return "unknown"
}

// blockInfo is the registry descriptor for one live block. Exactly one descriptor
// exists per live base address, and it is never partially constructed: a failed request
// registers nothing.
type blockInfo struct {
	kind   blockKind
	format Format

	// pixel geometry; page-mode blocks carry length instead, with height 1
	width  int
	height int
	length int
	stride int

	base Address
	phys PhysicalAddress

	// container placement
	origin      tileOrigin
	widthTiles  int
	heightTiles int

	group *blockGroup

	// imported blocks only: the caller's original address and the page count drawn
	// from the caller's iterator
	importedFrom  Address
	importedPages int
}

// span is the number of system-space bytes the block occupies within its group.
func (b *blockInfo) span() int {
	return b.stride * b.rows()
}

func (b *blockInfo) rows() int {
	if b.format == FormatPage {
		return 1
	}
	return b.height
}

// isAnchor reports whether this block is the first member of its group. Only the
// anchor address releases a group.
func (b *blockInfo) isAnchor() bool {
	return b.group != nil && len(b.group.members) > 0 && b.group.members[0] == b
}

// blockGroup ties together the blocks created by one Alloc or Map call. The group is
// created atomically and destroyed atomically through its anchor.
type blockGroup struct {
	id      uint64
	members []*blockInfo

	base      Address
	spanBytes int
	spanPages int

	// slab backs owned groups; imported groups have no local backing
	slab []byte
}
