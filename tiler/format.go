package tiler

import (
	"fmt"

	"github.com/tilerspace/tilermgr/memutils"
)

// Address is a system-space address: the address through which the general-purpose
// processor reaches a buffer held in a tiler container.
type Address uint32

// PhysicalAddress is a container-space physical address, as seen by the imaging and
// video accelerators.
type PhysicalAddress uint32

// Format selects the addressing mode of a block: undifferentiated page-mode bytes,
// or one of the 2D tiled pixel classes.
type Format int32

const (
	// FormatPage is page mode: a 1D run of whole pages with no tiling
	FormatPage Format = iota
	// Format8Bit is the 8-bit-per-pixel tiled class
	Format8Bit
	// Format16Bit is the 16-bit-per-pixel tiled class
	Format16Bit
	// Format32Bit is the 32-bit-per-pixel tiled class
	Format32Bit

	formatCount = 4
)

var formatNames = map[Format]string{
	FormatPage:  "FormatPage",
	Format8Bit:  "Format8Bit",
	Format16Bit: "Format16Bit",
	Format32Bit: "Format32Bit",
}

func (f Format) String() string {
	name, ok := formatNames[f]
	if !ok {
		return fmt.Sprintf("Format(%d)", int32(f))
	}
	return name
}

// IsValid reports whether f is inside the closed format range. Requests carrying a
// format outside it are rejected before any reservation is attempted.
func (f Format) IsValid() bool {
	return f >= FormatPage && f <= Format32Bit
}

const (
	// PageSize is the page granularity of the tiler container hardware. It is a property
	// of the container, not of the host, so it is a constant rather than os.Getpagesize.
	PageSize = 4096

	// tileByteWidth is the byte width of one tile cell. It is the same for every 2D
	// class; the pixel width of a tile shrinks as the pixel size grows.
	tileByteWidth = 64
	// tileRowCount is the number of pixel rows covered by one tile cell
	tileRowCount = 32

	container8BitStride  = 0x4000
	container16BitStride = 0x8000
	container32BitStride = 0x8000

	// containerTileRows is the height, in tile rows, of every 2D container
	containerTileRows = 128
)

// BytesPerPixel returns the pixel size of a 2D class. Page mode has no pixel geometry;
// it reports 1 so that byte math on page-mode blocks degenerates cleanly.
func (f Format) BytesPerPixel() int {
	switch f {
	case Format16Bit:
		return 2
	case Format32Bit:
		return 4
	default:
		return 1
	}
}

// ContainerStride returns the fixed row pitch of the container serving this format.
// The hardware enforces this pitch no matter what width was requested.
func (f Format) ContainerStride() int {
	switch f {
	case Format8Bit:
		return container8BitStride
	case Format16Bit:
		return container16BitStride
	case Format32Bit:
		return container32BitStride
	default:
		return PageSize
	}
}

// DefaultStride rounds a row's byte width up to the stride granularity used when the
// caller leaves the stride unspecified.
func DefaultStride(widthBytes int) int {
	return memutils.AlignUp(widthBytes, PageSize)
}

// RoundToPageSize rounds a byte length up to the page granularity.
func RoundToPageSize(length int) int {
	return memutils.AlignUp(length, PageSize)
}

// tileSpan converts a 2D extent in pixels into the tile-cell extent it occupies.
func tileSpan(f Format, widthPixels, heightPixels int) (widthTiles, heightTiles int) {
	widthTiles = memutils.DivideRoundingUp(widthPixels*f.BytesPerPixel(), tileByteWidth)
	heightTiles = memutils.DivideRoundingUp(heightPixels, tileRowCount)
	return widthTiles, heightTiles
}
