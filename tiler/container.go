package tiler

// Fixed address windows for the tiler. The system-space window is where every block
// alias lives; each container class additionally owns a physical window through which
// the accelerators address it. The windows never overlap.
const (
	systemWindowBase Address = 0x60000000

	physWindowPage  PhysicalAddress = 0x80000000
	physWindow8Bit  PhysicalAddress = 0x84000000
	physWindow16Bit PhysicalAddress = 0x88000000
	physWindow32Bit PhysicalAddress = 0x90000000
)

// container couples one pixel-format class's tile grid with its physical window and
// fixed row pitch.
type container struct {
	format   Format
	area     *areaAllocator
	physBase PhysicalAddress

	// rowPitch is the hardware row pitch of the container, independent of any
	// requested width
	rowPitch int
	// cellByteWidth and cellRows describe one grid cell: a 64-byte x 32-row tile for
	// 2D classes, a single page for page mode
	cellByteWidth int
	cellRows      int
}

func newContainer(format Format, physBase PhysicalAddress, pageCapacity int) *container {
	if format == FormatPage {
		return &container{
			format:        format,
			area:          newAreaAllocator(pageCapacity, 1, PageSize),
			physBase:      physBase,
			rowPitch:      PageSize,
			cellByteWidth: PageSize,
			cellRows:      1,
		}
	}

	rowPitch := format.ContainerStride()
	return &container{
		format:        format,
		area:          newAreaAllocator(rowPitch/tileByteWidth, containerTileRows, tileByteWidth*tileRowCount),
		physBase:      physBase,
		rowPitch:      rowPitch,
		cellByteWidth: tileByteWidth,
		cellRows:      tileRowCount,
	}
}

// physAt returns the physical address of a grid cell: rows of cells are rowPitch apart
// and cells within a row are cellByteWidth apart, which is exactly how the hardware
// walks the container.
func (c *container) physAt(origin tileOrigin) PhysicalAddress {
	offset := origin.y*c.cellRows*c.rowPitch + origin.x*c.cellByteWidth
	return c.physBase + PhysicalAddress(offset)
}

func (c *container) sizeBytes() int {
	return c.area.totalBytes()
}

func (c *container) containsPhys(addr PhysicalAddress) bool {
	return addr >= c.physBase && addr < c.physBase+PhysicalAddress(c.sizeBytes())
}
