package tiler

import (
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/tilerspace/tilermgr/memutils"
)

// tileOrigin is the top-left cell of a reserved rectangle within one container grid.
type tileOrigin struct {
	x int
	y int
}

// areaAllocator tracks free and used tile cells for one fixed-capacity container as a
// bitmap grid. Page-mode containers are a degenerate grid of one row whose cells are
// whole pages.
//
// Placement is first-fit in row-major order: the lowest y, then the lowest x, that can
// hold the requested rectangle. The scan is purely a function of the current bitmap, so
// a fixed allocation/free history always reproduces the same placements.
type areaAllocator struct {
	widthTiles  int
	heightTiles int
	cellBytes   int

	rowWords  int
	bitmap    []uint64
	usedTiles int
}

func newAreaAllocator(widthTiles, heightTiles, cellBytes int) *areaAllocator {
	rowWords := (widthTiles + 63) / 64
	return &areaAllocator{
		widthTiles:  widthTiles,
		heightTiles: heightTiles,
		cellBytes:   cellBytes,
		rowWords:    rowWords,
		bitmap:      make([]uint64, rowWords*heightTiles),
	}
}

func (a *areaAllocator) row(y int) []uint64 {
	return a.bitmap[y*a.rowWords : (y+1)*a.rowWords]
}

// rangeMask limits word wi of a row to the bit range [x, x+w).
func rangeMask(wi, x, end int) uint64 {
	lo := wi * 64
	mask := ^uint64(0)
	if lo < x {
		mask &= ^uint64(0) << uint(x-lo)
	}
	if lo+64 > end {
		mask &= ^uint64(0) >> uint(lo+64-end)
	}
	return mask
}

// lastUsedIn returns the highest used cell index within [x, x+w) of row, or -1 if the
// whole range is free.
func lastUsedIn(row []uint64, x, w int) int {
	end := x + w
	for wi := (end - 1) / 64; wi >= x/64; wi-- {
		word := row[wi] & rangeMask(wi, x, end)
		if word != 0 {
			return wi*64 + 63 - bits.LeadingZeros64(word)
		}
	}
	return -1
}

func allUsedIn(row []uint64, x, w int) bool {
	end := x + w
	for wi := x / 64; wi <= (end-1)/64; wi++ {
		mask := rangeMask(wi, x, end)
		if row[wi]&mask != mask {
			return false
		}
	}
	return true
}

func setRange(row []uint64, x, w int) {
	end := x + w
	for wi := x / 64; wi <= (end-1)/64; wi++ {
		row[wi] |= rangeMask(wi, x, end)
	}
}

func clearRange(row []uint64, x, w int) {
	end := x + w
	for wi := x / 64; wi <= (end-1)/64; wi++ {
		row[wi] &^= rangeMask(wi, x, end)
	}
}

// reserve finds and claims a free rectangle of widthTiles x heightTiles cells. It
// returns ErrExhausted when no such rectangle exists; callers treat that as an ordinary
// allocation failure, not a fault.
func (a *areaAllocator) reserve(widthTiles, heightTiles int) (tileOrigin, error) {
	if widthTiles <= 0 || heightTiles <= 0 {
		return tileOrigin{}, errors.Wrapf(ErrInvalidRequest, "reserve of %dx%d tiles", widthTiles, heightTiles)
	}
	if widthTiles > a.widthTiles || heightTiles > a.heightTiles {
		return tileOrigin{}, errors.Wrapf(ErrExhausted, "%dx%d tiles exceed the %dx%d container",
			widthTiles, heightTiles, a.widthTiles, a.heightTiles)
	}

	for y := 0; y+heightTiles <= a.heightTiles; y++ {
		for x := 0; x+widthTiles <= a.widthTiles; {
			obstruction := -1
			for r := y; r < y+heightTiles; r++ {
				if o := lastUsedIn(a.row(r), x, widthTiles); o > obstruction {
					obstruction = o
				}
			}
			if obstruction < 0 {
				for r := y; r < y+heightTiles; r++ {
					setRange(a.row(r), x, widthTiles)
				}
				a.usedTiles += widthTiles * heightTiles
				return tileOrigin{x: x, y: y}, nil
			}
			x = obstruction + 1
		}
	}

	return tileOrigin{}, errors.Wrapf(ErrExhausted, "no free %dx%d tile region", widthTiles, heightTiles)
}

// release returns a rectangle claimed by reserve to the free pool. Every cell in the
// rectangle must currently be used; anything else means the caller's bookkeeping has
// diverged from the grid.
func (a *areaAllocator) release(origin tileOrigin, widthTiles, heightTiles int) error {
	if origin.x < 0 || origin.y < 0 ||
		origin.x+widthTiles > a.widthTiles || origin.y+heightTiles > a.heightTiles {
		return errors.Newf("release of %dx%d tiles at (%d,%d) is outside the %dx%d container",
			widthTiles, heightTiles, origin.x, origin.y, a.widthTiles, a.heightTiles)
	}

	for r := origin.y; r < origin.y+heightTiles; r++ {
		if !allUsedIn(a.row(r), origin.x, widthTiles) {
			return errors.Newf("release of %dx%d tiles at (%d,%d) covers cells that are not reserved",
				widthTiles, heightTiles, origin.x, origin.y)
		}
	}
	for r := origin.y; r < origin.y+heightTiles; r++ {
		clearRange(a.row(r), origin.x, widthTiles)
	}
	a.usedTiles -= widthTiles * heightTiles
	return nil
}

// reservePageRegion claims a 1D run of whole page cells. Only meaningful for one-row
// (page-mode) grids.
func (a *areaAllocator) reservePageRegion(pages int) (int, error) {
	origin, err := a.reserve(pages, 1)
	if err != nil {
		return 0, err
	}
	return origin.x, nil
}

func (a *areaAllocator) releasePageRegion(firstPage, pages int) error {
	return a.release(tileOrigin{x: firstPage}, pages, 1)
}

func (a *areaAllocator) totalTiles() int {
	return a.widthTiles * a.heightTiles
}

func (a *areaAllocator) freeTiles() int {
	return a.totalTiles() - a.usedTiles
}

func (a *areaAllocator) totalBytes() int {
	return a.totalTiles() * a.cellBytes
}

func (a *areaAllocator) isEmpty() bool {
	return a.usedTiles == 0
}

// addDetailedStatistics folds this grid's occupancy into stats. Free ranges are
// counted row-wise: each maximal horizontal free run is one unused range.
func (a *areaAllocator) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ContainerCount++
	stats.ContainerBytes += a.totalBytes()

	for y := 0; y < a.heightTiles; y++ {
		row := a.row(y)
		x := 0
		for x < a.widthTiles {
			if used := lastUsedIn(row, x, 1); used >= 0 {
				x++
				continue
			}
			run := 1
			for x+run < a.widthTiles && lastUsedIn(row, x+run, 1) < 0 {
				run++
			}
			stats.AddUnusedRange(run * a.cellBytes)
			x += run
		}
	}
}

// Validate recounts the bitmap and checks it against the running counter.
func (a *areaAllocator) Validate() error {
	count := 0
	for _, word := range a.bitmap {
		count += bits.OnesCount64(word)
	}
	if count != a.usedTiles {
		return errors.Newf("tile grid has %d used cells but the counter says %d", count, a.usedTiles)
	}
	if a.usedTiles < 0 || a.usedTiles > a.totalTiles() {
		return errors.Newf("used cell counter %d is outside the container capacity %d", a.usedTiles, a.totalTiles())
	}
	return nil
}
