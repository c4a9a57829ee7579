package main

import (
	"fmt"
	"math/rand"

	"github.com/cockroachdb/errors"

	"github.com/tilerspace/tilermgr/internal/pattern"
	"github.com/tilerspace/tilermgr/tiler"
)

// batteryTest is one numbered scenario. Every scenario builds its own manager, so a
// failure cannot poison the tests after it.
type batteryTest struct {
	name string
	run  func(*session) error
}

// session carries the manager and the running fill seed through one scenario.
type session struct {
	m    *tiler.Manager
	seed uint16
}

func (s *session) nextSeed() uint16 {
	s.seed++
	return s.seed
}

// fillVerifyFree allocates the given blocks as one group, fills every block with its
// own seed, verifies all fills, and frees the group through its anchor.
func (s *session) fillVerifyFree(blocks []tiler.AllocBlock) error {
	base, err := s.m.Alloc(blocks)
	if err != nil {
		return err
	}

	type filled struct {
		addr Address
		seed uint16
		geom pattern.Geometry
	}
	state := make([]filled, len(blocks))
	for i := range blocks {
		g := blockGeometry(&blocks[i])
		seed := s.nextSeed()
		buf, err := s.m.Bytes(blocks[i].Addr)
		if err != nil {
			return err
		}
		pattern.Fill(buf, seed, g)
		state[i] = filled{addr: blocks[i].Addr, seed: seed, geom: g}
		printVerbose("  filled %#x stride %d seed %#x\n", uint32(blocks[i].Addr), blocks[i].Stride, seed)
	}

	for _, f := range state {
		buf, err := s.m.Bytes(f.addr)
		if err != nil {
			return err
		}
		if err := pattern.Check(buf, f.seed, f.geom); err != nil {
			return errors.Wrapf(err, "block %#x", uint32(f.addr))
		}
	}

	return s.m.Free(base)
}

type Address = tiler.Address

func blockGeometry(b *tiler.AllocBlock) pattern.Geometry {
	if b.Format == tiler.FormatPage {
		return pattern.PageGeometry(b.Length)
	}
	return pattern.Geometry{
		WidthBytes: b.Width * b.Format.BytesPerPixel(),
		Rows:       b.Height,
		Stride:     b.Stride,
	}
}

func alloc1DTest(length int) batteryTest {
	return batteryTest{
		name: fmt.Sprintf("alloc_1D %d", length),
		run: func(s *session) error {
			return s.fillVerifyFree([]tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: length},
			})
		},
	}
}

func alloc2DTest(width, height int, format tiler.Format) batteryTest {
	return batteryTest{
		name: fmt.Sprintf("alloc_2D %dx%d %s", width, height, format),
		run: func(s *session) error {
			return s.fillVerifyFree([]tiler.AllocBlock{
				{Format: format, Width: width, Height: height},
			})
		},
	}
}

// allocNV12Test allocates a dual-plane image: an 8-bit luma plane and a 16-bit chroma
// plane of half the extent, placed back to back as one group.
func allocNV12Test(width, height int) batteryTest {
	return batteryTest{
		name: fmt.Sprintf("alloc_NV12 %dx%d", width, height),
		run: func(s *session) error {
			blocks := []tiler.AllocBlock{
				{Format: tiler.Format8Bit, Width: width, Height: height},
				{Format: tiler.Format16Bit, Width: width / 2, Height: height / 2},
			}
			base, err := s.m.Alloc(blocks)
			if err != nil {
				return err
			}
			want := base + Address(blocks[0].Stride*height)
			if blocks[1].Addr != want {
				return errors.Newf("chroma plane at %#x, want %#x", uint32(blocks[1].Addr), uint32(want))
			}
			return s.m.Free(base)
		},
	}
}

func map1DTest(length int) batteryTest {
	return batteryTest{
		name: fmt.Sprintf("map_1D %d", length),
		run: func(s *session) error {
			rounded := tiler.RoundToPageSize(length)
			backing := make([]byte, rounded)
			seed := s.nextSeed()
			pattern.Fill(backing, seed, pattern.PageGeometry(rounded))

			pages := make([]tiler.PhysicalAddress, rounded/tiler.PageSize)
			for i := range pages {
				pages[i] = tiler.PhysicalAddress(0xA0000000 + i*tiler.PageSize)
			}

			blocks := []tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: rounded, Addr: 0x10000000},
			}
			base, err := s.m.Map(blocks, tiler.PageSlice(pages))
			if err != nil {
				return err
			}
			if base == 0x10000000 {
				return errors.New("alias equals the caller's address")
			}
			if !s.m.IsMapped(base) {
				return errors.New("mapped block does not report as mapped")
			}
			if err := pattern.Check(backing, seed, pattern.PageGeometry(rounded)); err != nil {
				return err
			}
			return s.m.UnMap(base)
		},
	}
}

// maxAllocTest allocates same-shaped groups until the container reports exhaustion,
// verifies every fill, and releases everything.
func maxAllocTest(name string, blocks func() []tiler.AllocBlock) batteryTest {
	return batteryTest{
		name: name,
		run: func(s *session) error {
			type live struct {
				base Address
				seed uint16
				geom []pattern.Geometry
				addr []Address
			}
			var all []live

			for {
				request := blocks()
				base, err := s.m.Alloc(request)
				if errors.Is(err, tiler.ErrExhausted) {
					break
				}
				if err != nil {
					return err
				}

				entry := live{base: base, seed: s.nextSeed()}
				for i := range request {
					g := blockGeometry(&request[i])
					buf, err := s.m.Bytes(request[i].Addr)
					if err != nil {
						return err
					}
					pattern.Fill(buf, entry.seed, g)
					entry.geom = append(entry.geom, g)
					entry.addr = append(entry.addr, request[i].Addr)
				}
				all = append(all, entry)
			}

			if len(all) == 0 {
				return errors.New("not even one group fit")
			}
			printVerbose("  placed %d groups before exhaustion\n", len(all))

			var combined error
			for _, entry := range all {
				for i, addr := range entry.addr {
					buf, err := s.m.Bytes(addr)
					if err != nil {
						combined = errors.CombineErrors(combined, err)
						continue
					}
					if err := pattern.Check(buf, entry.seed, entry.geom[i]); err != nil {
						combined = errors.CombineErrors(combined,
							errors.Wrapf(err, "block %#x", uint32(addr)))
					}
				}
				combined = errors.CombineErrors(combined, s.m.Free(entry.base))
			}
			return combined
		},
	}
}

func expectErr(err error, sentinel error, what string) error {
	if !errors.Is(err, sentinel) {
		return errors.Newf("%s: got %v", what, err)
	}
	return nil
}

func negAllocTest() batteryTest {
	return batteryTest{
		name: "neg_alloc",
		run: func(s *session) error {
			var combined error

			_, err := s.m.Alloc([]tiler.AllocBlock{{Format: tiler.FormatPage - 1, Length: tiler.PageSize}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "format below range"))

			_, err = s.m.Alloc([]tiler.AllocBlock{{Format: tiler.Format32Bit + 1, Length: tiler.PageSize}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "format above range"))

			_, err = s.m.Alloc([]tiler.AllocBlock{{Format: tiler.FormatPage, Length: 0}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "zero length"))

			_, err = s.m.Alloc([]tiler.AllocBlock{{Format: tiler.Format8Bit, Width: 0, Height: 64}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "zero width"))

			_, err = s.m.Alloc([]tiler.AllocBlock{{Format: tiler.Format8Bit, Width: 64, Height: 0}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "zero height"))

			_, err = s.m.Alloc([]tiler.AllocBlock{{Format: tiler.Format8Bit, Width: 64 * 1024, Height: 64}})
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrExhausted, "oversized width"))

			return combined
		},
	}
}

func negFreeTest() batteryTest {
	return batteryTest{
		name: "neg_free",
		run: func(s *session) error {
			var combined error

			combined = errors.CombineErrors(combined,
				expectErr(s.m.Free(0), tiler.ErrLifecycle, "free of null address"))
			combined = errors.CombineErrors(combined,
				expectErr(s.m.Free(0x12345678), tiler.ErrLifecycle, "free of foreign address"))

			base, err := s.m.Alloc([]tiler.AllocBlock{{Format: tiler.FormatPage, Length: tiler.PageSize}})
			if err != nil {
				return err
			}
			if err := s.m.Free(base); err != nil {
				return err
			}
			combined = errors.CombineErrors(combined,
				expectErr(s.m.Free(base), tiler.ErrLifecycle, "double free"))

			return combined
		},
	}
}

func negMapTest() batteryTest {
	return batteryTest{
		name: "neg_map",
		run: func(s *session) error {
			var combined error
			pages := tiler.PageSlice([]tiler.PhysicalAddress{0xA0000000})

			_, err := s.m.Map([]tiler.AllocBlock{
				{Format: tiler.Format8Bit, Width: 64, Height: 64, Addr: 0x10000000},
			}, pages)
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrNotSupported, "2D map"))

			_, err = s.m.Map([]tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: tiler.PageSize, Addr: 0x10000004},
			}, pages)
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "unaligned address"))

			_, err = s.m.Map([]tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: tiler.PageSize - 1, Addr: 0x10000000},
			}, pages)
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "partial page length"))

			_, err = s.m.Map([]tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: 2 * tiler.PageSize, Addr: 0x10000000},
			}, tiler.PageSlice([]tiler.PhysicalAddress{0xA0000000}))
			combined = errors.CombineErrors(combined, expectErr(err, tiler.ErrInvalidRequest, "short page list"))

			return combined
		},
	}
}

func negUnmapTest() batteryTest {
	return batteryTest{
		name: "neg_unmap",
		run: func(s *session) error {
			var combined error

			combined = errors.CombineErrors(combined,
				expectErr(s.m.UnMap(0), tiler.ErrLifecycle, "unmap of null address"))

			base, err := s.m.Alloc([]tiler.AllocBlock{{Format: tiler.FormatPage, Length: tiler.PageSize}})
			if err != nil {
				return err
			}
			combined = errors.CombineErrors(combined,
				expectErr(s.m.UnMap(base), tiler.ErrLifecycle, "unmap of allocated block"))
			combined = errors.CombineErrors(combined, s.m.Free(base))

			mapped, err := s.m.Map([]tiler.AllocBlock{
				{Format: tiler.FormatPage, Length: tiler.PageSize, Addr: 0x10000000},
			}, tiler.PageSlice([]tiler.PhysicalAddress{0xA0000000}))
			if err != nil {
				return err
			}
			combined = errors.CombineErrors(combined,
				expectErr(s.m.Free(mapped), tiler.ErrLifecycle, "free of mapped block"))
			combined = errors.CombineErrors(combined, s.m.UnMap(mapped))
			combined = errors.CombineErrors(combined,
				expectErr(s.m.UnMap(mapped), tiler.ErrLifecycle, "double unmap"))

			return combined
		},
	}
}

// negQueryTest exercises the classification queries on addresses the manager has never
// seen; they must answer rather than fail.
func negQueryTest() batteryTest {
	return batteryTest{
		name: "neg_query",
		run: func(s *session) error {
			var combined error
			for _, addr := range []Address{0, 1, 0x12345678, 0xFFFFF000} {
				if s.m.Is1DBlock(addr) || s.m.Is2DBlock(addr) || s.m.IsMapped(addr) {
					combined = errors.CombineErrors(combined,
						errors.Newf("address %#x classified as a live block", uint32(addr)))
				}
				if s.m.GetStride(addr) != 0 {
					combined = errors.CombineErrors(combined,
						errors.Newf("address %#x reports a stride", uint32(addr)))
				}
				if s.m.TranslateToPhysical(addr) != 0 {
					combined = errors.CombineErrors(combined,
						errors.Newf("address %#x translates to a physical address", uint32(addr)))
				}
			}
			return combined
		},
	}
}

// starTest churns a fixed number of slots through random allocate, map, verify and
// release steps, the pattern fills catching any overlap between live blocks.
func starTest(slots, ops int, seed int64) batteryTest {
	return batteryTest{
		name: fmt.Sprintf("star %d slots %d ops", slots, ops),
		run: func(s *session) error {
			type slot struct {
				base Address
				seed uint16
				geom pattern.Geometry
			}
			state := make([]slot, slots)
			rng := rand.New(rand.NewSource(seed))

			dims := []struct{ w, h int }{
				{1920, 1080}, {1280, 720}, {640, 480}, {848, 480}, {176, 144},
			}

			for op := 0; op < ops; op++ {
				ix := rng.Intn(slots)
				if state[ix].base != 0 {
					buf, err := s.m.Bytes(state[ix].base)
					if err != nil {
						return err
					}
					if err := pattern.Check(buf, state[ix].seed, state[ix].geom); err != nil {
						return errors.Wrapf(err, "op %d slot %d", op, ix)
					}
					if err := s.m.Free(state[ix].base); err != nil {
						return err
					}
					state[ix] = slot{}
					continue
				}

				d := dims[rng.Intn(len(dims))]
				var blocks []tiler.AllocBlock
				switch rng.Intn(5) {
				case 0:
					blocks = []tiler.AllocBlock{{Format: tiler.FormatPage, Length: d.w * d.h}}
				case 1:
					blocks = []tiler.AllocBlock{{Format: tiler.Format8Bit, Width: d.w, Height: d.h}}
				case 2:
					blocks = []tiler.AllocBlock{{Format: tiler.Format16Bit, Width: d.w, Height: d.h}}
				case 3:
					blocks = []tiler.AllocBlock{{Format: tiler.Format32Bit, Width: d.w, Height: d.h}}
				case 4:
					blocks = []tiler.AllocBlock{
						{Format: tiler.Format8Bit, Width: d.w, Height: d.h},
						{Format: tiler.Format16Bit, Width: d.w / 2, Height: d.h / 2},
					}
				}

				base, err := s.m.Alloc(blocks)
				if errors.Is(err, tiler.ErrExhausted) {
					continue
				}
				if err != nil {
					return err
				}

				g := blockGeometry(&blocks[0])
				fillSeed := s.nextSeed()
				buf, err := s.m.Bytes(base)
				if err != nil {
					return err
				}
				pattern.Fill(buf, fillSeed, g)
				state[ix] = slot{base: base, seed: fillSeed, geom: g}
			}

			var combined error
			for ix := range state {
				if state[ix].base == 0 {
					continue
				}
				buf, err := s.m.Bytes(state[ix].base)
				if err != nil {
					combined = errors.CombineErrors(combined, err)
					continue
				}
				if err := pattern.Check(buf, state[ix].seed, state[ix].geom); err != nil {
					combined = errors.CombineErrors(combined, errors.Wrapf(err, "slot %d", ix))
				}
				combined = errors.CombineErrors(combined, s.m.Free(state[ix].base))
			}
			return combined
		},
	}
}

// battery is the full numbered scenario list; run and list address it by 1-based index.
func battery() []batteryTest {
	sizes := []struct{ w, h int }{
		{64, 64}, {176, 144}, {640, 480}, {848, 480}, {1280, 720}, {1920, 1080},
	}

	var tests []batteryTest
	for _, d := range sizes {
		tests = append(tests,
			alloc1DTest(d.w*d.h*2),
			alloc2DTest(d.w, d.h, tiler.Format8Bit),
			alloc2DTest(d.w, d.h, tiler.Format16Bit),
			alloc2DTest(d.w, d.h, tiler.Format32Bit),
			allocNV12Test(d.w, d.h),
			map1DTest(d.w*d.h*2),
		)
	}

	tests = append(tests,
		negAllocTest(),
		negFreeTest(),
		negMapTest(),
		negUnmapTest(),
		negQueryTest(),
	)

	tests = append(tests,
		maxAllocTest("maxalloc_1D 4096", func() []tiler.AllocBlock {
			return []tiler.AllocBlock{{Format: tiler.FormatPage, Length: tiler.PageSize}}
		}),
		maxAllocTest("maxalloc_2D 176x144 8-bit", func() []tiler.AllocBlock {
			return []tiler.AllocBlock{{Format: tiler.Format8Bit, Width: 176, Height: 144}}
		}),
		maxAllocTest("maxalloc_NV12 176x144", func() []tiler.AllocBlock {
			return []tiler.AllocBlock{
				{Format: tiler.Format8Bit, Width: 176, Height: 144},
				{Format: tiler.Format16Bit, Width: 88, Height: 72},
			}
		}),
	)

	tests = append(tests,
		starTest(16, 1000, 0x4B72316A),
	)

	return tests
}
