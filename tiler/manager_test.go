package tiler

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/tilerspace/tilermgr/internal/pattern"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	manager, err := New(logger, CreateOptions{})
	require.NoError(t, err)
	return manager
}

func TestNewRejectsOversizedPageContainer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))

	_, err := New(logger, CreateOptions{PageContainerPages: maxPageContainerPages + 1})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(logger, CreateOptions{PageContainerPages: -1})
	require.ErrorIs(t, err, ErrInvalidRequest)

	manager, err := New(logger, CreateOptions{PageContainerPages: 128})
	require.NoError(t, err)
	require.NoError(t, manager.Destroy())
}

func TestAlloc1DPageBlock(t *testing.T) {
	m := testManager(t)

	blocks := []AllocBlock{{Format: FormatPage, Length: PageSize}}
	base, err := m.Alloc(blocks)
	require.NoError(t, err)
	require.Equal(t, blocks[0].Addr, base)

	require.True(t, m.Is1DBlock(base))
	require.False(t, m.Is2DBlock(base))
	require.False(t, m.IsMapped(base))
	require.Equal(t, PageSize, m.GetStride(base))
	require.Equal(t, PageSize, blocks[0].Stride)

	phys := m.TranslateToPhysical(base)
	require.NotZero(t, phys)
	require.Equal(t, blocks[0].Phys, phys)
	require.Equal(t, PageSize, m.ContainerRowPitch(phys))

	// fill and verify the backing span
	buf, err := m.Bytes(base)
	require.NoError(t, err)
	require.Len(t, buf, PageSize)
	pattern.Fill(buf, 0x1234, pattern.PageGeometry(PageSize))
	require.NoError(t, pattern.Check(buf, 0x1234, pattern.PageGeometry(PageSize)))

	require.NoError(t, m.Free(base))
	require.False(t, m.Is1DBlock(base))
	require.Equal(t, 0, m.GetStride(base))
	require.NoError(t, m.Destroy())
}

func TestAlloc2DBlocks(t *testing.T) {
	for _, format := range []Format{Format8Bit, Format16Bit, Format32Bit} {
		t.Run(format.String(), func(t *testing.T) {
			m := testManager(t)

			blocks := []AllocBlock{{Format: format, Width: 176, Height: 144}}
			base, err := m.Alloc(blocks)
			require.NoError(t, err)

			widthBytes := 176 * format.BytesPerPixel()
			require.Equal(t, DefaultStride(widthBytes), blocks[0].Stride)

			require.True(t, m.Is2DBlock(base))
			require.False(t, m.Is1DBlock(base))
			require.False(t, m.IsMapped(base))
			require.Equal(t, blocks[0].Stride, m.GetStride(base))

			phys := m.TranslateToPhysical(base)
			require.NotZero(t, phys)
			require.Equal(t, format.ContainerStride(), m.ContainerRowPitch(phys))

			buf, err := m.Bytes(base)
			require.NoError(t, err)
			require.Len(t, buf, blocks[0].Stride*144)

			g := pattern.Geometry{WidthBytes: widthBytes, Rows: 144, Stride: blocks[0].Stride}
			pattern.Fill(buf, 0xBEEF, g)
			require.NoError(t, pattern.Check(buf, 0xBEEF, g))

			require.NoError(t, m.Free(base))
			require.NoError(t, m.Destroy())
		})
	}
}

func TestAllocDualPlaneGroup(t *testing.T) {
	m := testManager(t)

	// a luma plane and a half-size chroma plane allocated as one group
	blocks := []AllocBlock{
		{Format: Format8Bit, Width: 64, Height: 64},
		{Format: Format16Bit, Width: 32, Height: 32},
	}
	base, err := m.Alloc(blocks)
	require.NoError(t, err)
	require.Equal(t, blocks[0].Addr, base)

	// the chroma plane starts exactly where the luma plane ends
	require.Equal(t, base+Address(blocks[0].Stride*64), blocks[1].Addr)

	require.True(t, m.Is2DBlock(blocks[0].Addr))
	require.True(t, m.Is2DBlock(blocks[1].Addr))
	require.Equal(t, blocks[0].Stride, m.GetStride(blocks[0].Addr))
	require.Equal(t, blocks[1].Stride, m.GetStride(blocks[1].Addr))
	require.NotZero(t, m.TranslateToPhysical(blocks[0].Addr))
	require.NotZero(t, m.TranslateToPhysical(blocks[1].Addr))
	require.Equal(t, Format8Bit.ContainerStride(), m.ContainerRowPitch(m.TranslateToPhysical(blocks[0].Addr)))
	require.Equal(t, Format16Bit.ContainerStride(), m.ContainerRowPitch(m.TranslateToPhysical(blocks[1].Addr)))

	// both planes carry independent fills without disturbing each other
	lumaGeom := pattern.Geometry{WidthBytes: 64, Rows: 64, Stride: blocks[0].Stride}
	chromaGeom := pattern.Geometry{WidthBytes: 64, Rows: 32, Stride: blocks[1].Stride}
	luma, err := m.Bytes(blocks[0].Addr)
	require.NoError(t, err)
	chroma, err := m.Bytes(blocks[1].Addr)
	require.NoError(t, err)
	pattern.Fill(luma, 0x0001, lumaGeom)
	pattern.Fill(chroma, 0x8000, chromaGeom)
	require.NoError(t, pattern.Check(luma, 0x0001, lumaGeom))
	require.NoError(t, pattern.Check(chroma, 0x8000, chromaGeom))

	// freeing the anchor releases every member
	require.NoError(t, m.Free(base))
	require.False(t, m.Is2DBlock(blocks[0].Addr))
	require.False(t, m.Is2DBlock(blocks[1].Addr))
	require.NoError(t, m.Destroy())
}

func TestFreeRejectsNonAnchorMember(t *testing.T) {
	m := testManager(t)

	blocks := []AllocBlock{
		{Format: Format8Bit, Width: 64, Height: 64},
		{Format: Format16Bit, Width: 32, Height: 32},
	}
	base, err := m.Alloc(blocks)
	require.NoError(t, err)

	err = m.Free(blocks[1].Addr)
	require.ErrorIs(t, err, ErrLifecycle)

	// the rejection had no side effects
	require.True(t, m.Is2DBlock(blocks[1].Addr))
	require.NoError(t, m.Free(base))
	require.NoError(t, m.Destroy())
}

func TestAllocValidation(t *testing.T) {
	m := testManager(t)

	cases := []struct {
		name  string
		block AllocBlock
	}{
		{"format below range", AllocBlock{Format: FormatPage - 1, Length: PageSize}},
		{"format above range", AllocBlock{Format: Format32Bit + 1, Length: PageSize}},
		{"unaligned 1D stride", AllocBlock{Format: FormatPage, Length: PageSize, Stride: PageSize - 1}},
		{"short 1D stride", AllocBlock{Format: FormatPage, Length: 2 * PageSize, Stride: PageSize}},
		{"zero 1D length", AllocBlock{Format: FormatPage}},
		{"negative 1D length", AllocBlock{Format: FormatPage, Length: -1}},
		{"short 2D stride", AllocBlock{Format: Format8Bit, Width: PageSize - 1, Height: 16, Stride: PageSize - 64}},
		{"unaligned 2D stride", AllocBlock{Format: Format8Bit, Width: 16, Height: 16, Stride: 65}},
		{"zero 2D width", AllocBlock{Format: Format8Bit, Height: 16}},
		{"zero 2D height", AllocBlock{Format: Format8Bit, Width: 16}},
	}

	good := AllocBlock{Format: Format8Bit, Width: 16, Height: 16}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Alloc([]AllocBlock{tc.block})
			require.ErrorIs(t, err, ErrInvalidRequest)

			// the same violation in the second block of a pair aborts the whole call
			_, err = m.Alloc([]AllocBlock{good, tc.block})
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := m.Alloc(nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// nothing above left any state behind
	require.Equal(t, 0, m.registry.count())
	for _, c := range m.containers {
		require.True(t, c.area.isEmpty())
	}
	require.NoError(t, m.Destroy())
}

func TestAllocGroupIsAtomic(t *testing.T) {
	m := testManager(t)

	before := m.Statistics()
	for _, c := range m.containers {
		require.True(t, c.area.isEmpty())
	}

	// the second block cannot fit any container, so the whole call must unwind
	blocks := []AllocBlock{
		{Format: Format8Bit, Width: 64, Height: 64},
		{Format: Format8Bit, Width: 64 * 1024, Height: 64},
	}
	_, err := m.Alloc(blocks)
	require.ErrorIs(t, err, ErrExhausted)

	require.Equal(t, before, m.Statistics())
	require.Equal(t, 0, m.registry.count())
	for _, c := range m.containers {
		require.True(t, c.area.isEmpty())
	}
	require.True(t, m.window.isEmpty())
	require.NoError(t, m.Destroy())
}

func TestLifecycleExclusivity(t *testing.T) {
	m := testManager(t)

	allocBlocks := []AllocBlock{{Format: FormatPage, Length: PageSize}}
	allocBase, err := m.Alloc(allocBlocks)
	require.NoError(t, err)

	mapBlocks := []AllocBlock{{Format: FormatPage, Length: PageSize, Addr: 0x10000000}}
	mapBase, err := m.Map(mapBlocks, PageSlice([]PhysicalAddress{0xA0000000}))
	require.NoError(t, err)

	// the two release paths never cross
	require.ErrorIs(t, m.Free(mapBase), ErrLifecycle)
	require.ErrorIs(t, m.UnMap(allocBase), ErrLifecycle)

	// the failures had no side effects on either block
	require.True(t, m.Is1DBlock(allocBase))
	require.True(t, m.IsMapped(mapBase))

	require.NoError(t, m.Free(allocBase))
	require.NoError(t, m.UnMap(mapBase))

	// double release fails either way
	require.ErrorIs(t, m.Free(allocBase), ErrLifecycle)
	require.ErrorIs(t, m.UnMap(mapBase), ErrLifecycle)
	require.NoError(t, m.Destroy())
}

func TestQueriesAreTotal(t *testing.T) {
	m := testManager(t)

	foreign := []Address{0, 0x12345678, 0xDEADBEEF, systemWindowBase + 1}
	for _, addr := range foreign {
		require.False(t, m.Is1DBlock(addr))
		require.False(t, m.Is2DBlock(addr))
		require.False(t, m.IsMapped(addr))
		require.Equal(t, 0, m.GetStride(addr))
		require.Equal(t, PhysicalAddress(0), m.TranslateToPhysical(addr))
	}

	require.Equal(t, 0, m.ContainerRowPitch(0))
	require.Equal(t, 0, m.ContainerRowPitch(0x12345678))
	require.Equal(t, 0, m.ContainerRowPitch(physWindow32Bit+PhysicalAddress(m.containers[Format32Bit].sizeBytes())))
	require.NoError(t, m.Destroy())
}

func TestMapPageModeBlock(t *testing.T) {
	m := testManager(t)

	callerAddr := Address(0x10000000)
	length := 2 * PageSize
	pages := []PhysicalAddress{0xA0000000, 0xA0001000}

	blocks := []AllocBlock{{Format: FormatPage, Length: length, Addr: callerAddr}}
	base, err := m.Map(blocks, PageSlice(pages))
	require.NoError(t, err)

	// the container presents a distinct alias
	require.NotEqual(t, callerAddr, base)
	require.Equal(t, base, blocks[0].Addr)

	require.True(t, m.IsMapped(base))
	require.True(t, m.Is1DBlock(base))
	require.False(t, m.Is2DBlock(base))
	require.Equal(t, length, m.GetStride(base))

	phys := m.TranslateToPhysical(base)
	require.NotZero(t, phys)
	require.Equal(t, PageSize, m.ContainerRowPitch(phys))

	// imported memory has no local backing
	_, err = m.Bytes(base)
	require.ErrorIs(t, err, ErrLifecycle)

	require.NoError(t, m.UnMap(base))
	require.False(t, m.IsMapped(base))
	require.NoError(t, m.Destroy())
}

func TestMapValidation(t *testing.T) {
	m := testManager(t)
	pages := PageSlice([]PhysicalAddress{0xA0000000})

	// capability limits
	two := []AllocBlock{
		{Format: FormatPage, Length: PageSize, Addr: 0x10000000},
		{Format: FormatPage, Length: PageSize, Addr: 0x10010000},
	}
	_, err := m.Map(two, pages)
	require.ErrorIs(t, err, ErrNotSupported)

	_, err = m.Map([]AllocBlock{{Format: Format8Bit, Width: 16, Height: 16, Addr: 0x10000000}}, pages)
	require.ErrorIs(t, err, ErrNotSupported)

	// request validation
	_, err = m.Map([]AllocBlock{{Format: Format32Bit + 1, Length: PageSize, Addr: 0x10000000}}, pages)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: PageSize}}, pages)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: PageSize, Addr: 0x10000004}}, pages)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: PageSize - 5, Addr: 0x10000000}}, pages)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: PageSize, Addr: 0x10000000}}, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// a page list shorter than the mapped length
	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: 2 * PageSize, Addr: 0x10000000}},
		PageSlice([]PhysicalAddress{0xA0000000}))
	require.ErrorIs(t, err, ErrInvalidRequest)

	// an address inside tiler-managed space cannot be mapped again
	owned := []AllocBlock{{Format: FormatPage, Length: 2 * PageSize}}
	ownedBase, err := m.Alloc(owned)
	require.NoError(t, err)
	_, err = m.Map([]AllocBlock{{Format: FormatPage, Length: PageSize, Addr: ownedBase}}, pages)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.NoError(t, m.Free(ownedBase))

	// none of the rejected calls registered anything
	require.Equal(t, 0, m.registry.count())
	for _, c := range m.containers {
		require.True(t, c.area.isEmpty())
	}
	require.NoError(t, m.Destroy())
}

func TestMapDoesNotOverReadIterator(t *testing.T) {
	m := testManager(t)

	supplied := 0
	iterator := PageIteratorFunc(func() (PhysicalAddress, bool) {
		supplied++
		return PhysicalAddress(0xA0000000 + (supplied-1)*PageSize), true
	})

	blocks := []AllocBlock{{Format: FormatPage, Length: 3 * PageSize, Addr: 0x10000000}}
	base, err := m.Map(blocks, iterator)
	require.NoError(t, err)
	require.Equal(t, 3, supplied)

	require.NoError(t, m.UnMap(base))
	require.NoError(t, m.Destroy())
}

func TestMapMatchesAllocStride(t *testing.T) {
	m := testManager(t)

	// a mapped buffer and an allocated buffer of equal nominal size report the same
	// stride
	length := 5 * PageSize

	allocBlocks := []AllocBlock{{Format: FormatPage, Length: length}}
	allocBase, err := m.Alloc(allocBlocks)
	require.NoError(t, err)

	pages := make([]PhysicalAddress, length/PageSize)
	for i := range pages {
		pages[i] = PhysicalAddress(0xA0000000 + i*PageSize)
	}
	mapBlocks := []AllocBlock{{Format: FormatPage, Length: length, Addr: 0x10000000}}
	mapBase, err := m.Map(mapBlocks, PageSlice(pages))
	require.NoError(t, err)

	require.Equal(t, m.GetStride(allocBase), m.GetStride(mapBase))

	require.NoError(t, m.Free(allocBase))
	require.NoError(t, m.UnMap(mapBase))
	require.NoError(t, m.Destroy())
}

func TestDestroyReportsLeaks(t *testing.T) {
	m := testManager(t)

	base, err := m.Alloc([]AllocBlock{{Format: FormatPage, Length: PageSize}})
	require.NoError(t, err)
	require.True(t, m.Is1DBlock(base))

	err = m.Destroy()
	require.Error(t, err)

	// the manager is terminal after Destroy
	_, err = m.Alloc([]AllocBlock{{Format: FormatPage, Length: PageSize}})
	require.ErrorIs(t, err, ErrLifecycle)
}

func TestManagerValidate(t *testing.T) {
	m := testManager(t)

	base, err := m.Alloc([]AllocBlock{
		{Format: Format8Bit, Width: 640, Height: 480},
		{Format: Format16Bit, Width: 320, Height: 240},
	})
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	require.NoError(t, m.Free(base))
	require.NoError(t, m.Validate())
	require.NoError(t, m.Destroy())
}
