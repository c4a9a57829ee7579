package tiler

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/tilerspace/tilermgr/memutils"
)

// Baseline mapping capability. The hardware contract only exercises single-block
// page-mode imports; anything beyond that is rejected as unsupported rather than
// guessed at.
const (
	mapMaxBlocks   = 1
	map2DSupported = false
)

// AllocBlock describes one requested block and receives the resolved placement. The
// same record shape serves Alloc and Map, mirroring the block descriptor the hardware
// interface uses.
type AllocBlock struct {
	// Format selects page mode or one of the 2D pixel classes
	Format Format

	// Width and Height are the pixel extent of a 2D request and are ignored in page
	// mode
	Width  int
	Height int
	// Length is the byte length of a page-mode request and is ignored for 2D
	Length int

	// Stride may be left 0 to accept the default row pitch. On success it holds the
	// resolved stride.
	Stride int

	// Addr is an input only for Map: the caller's page-aligned address. On success it
	// holds the system-space base of the block.
	Addr Address

	// Phys holds the container-space physical base of the block on success
	Phys PhysicalAddress
}

// resolvedBlock is the geometry a request works out to, fixed before any reservation.
type resolvedBlock struct {
	format      Format
	stride      int
	widthTiles  int
	heightTiles int
	// span is the system-space extent of the block inside its group
	span int
}

func addrString(addr Address) string {
	return fmt.Sprintf("%#x", uint32(addr))
}

func physString(addr PhysicalAddress) string {
	return fmt.Sprintf("%#x", uint32(addr))
}

func (m *Manager) systemWindowEnd() Address {
	return systemWindowBase + Address(systemWindowPages*PageSize)
}

func validateBlock(b *AllocBlock) error {
	if !b.Format.IsValid() {
		return errors.Wrapf(ErrInvalidRequest, "pixel format %s is outside the supported range", b.Format)
	}

	if b.Format == FormatPage {
		if b.Length <= 0 {
			return errors.Wrapf(ErrInvalidRequest, "page-mode length must be positive, got %d", b.Length)
		}
		if b.Stride != 0 {
			if b.Stride%PageSize != 0 {
				return errors.Wrapf(ErrInvalidRequest, "page-mode stride %d is not page-aligned", b.Stride)
			}
			if b.Stride < RoundToPageSize(b.Length) {
				return errors.Wrapf(ErrInvalidRequest, "page-mode stride %d does not cover the %d-byte length",
					b.Stride, b.Length)
			}
		}
		return nil
	}

	if b.Width <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "width must be positive, got %d", b.Width)
	}
	if b.Height <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "height must be positive, got %d", b.Height)
	}
	if b.Stride != 0 {
		minRowBytes := b.Width * b.Format.BytesPerPixel()
		if b.Stride < minRowBytes {
			return errors.Wrapf(ErrInvalidRequest, "stride %d is smaller than the %d-byte row", b.Stride, minRowBytes)
		}
		if b.Stride%tileByteWidth != 0 {
			return errors.Wrapf(ErrInvalidRequest, "stride %d is not tile-aligned", b.Stride)
		}
	}
	return nil
}

// resolveBlock computes the final geometry of a validated request. Alloc and Map share
// this path, so blocks of equal nominal size always report identical strides no matter
// how they entered the container.
func resolveBlock(b *AllocBlock) resolvedBlock {
	if b.Format == FormatPage {
		stride := b.Stride
		if stride == 0 {
			stride = RoundToPageSize(b.Length)
		}
		return resolvedBlock{
			format:      FormatPage,
			stride:      stride,
			widthTiles:  RoundToPageSize(b.Length) / PageSize,
			heightTiles: 1,
			span:        stride,
		}
	}

	stride := b.Stride
	if stride == 0 {
		stride = DefaultStride(b.Width * b.Format.BytesPerPixel())
	}
	widthTiles, heightTiles := tileSpan(b.Format, b.Width, b.Height)
	return resolvedBlock{
		format:      b.Format,
		stride:      stride,
		widthTiles:  widthTiles,
		heightTiles: heightTiles,
		span:        stride * b.Height,
	}
}

// reservation is one tentative container claim inside an in-flight multi-block call.
type reservation struct {
	area        *areaAllocator
	origin      tileOrigin
	widthTiles  int
	heightTiles int
}

// reservationTxn accumulates tentative reservations so a failed multi-block call can
// unwind everything it claimed. Commit is implicit: a transaction that is never rolled
// back simply keeps its reservations.
type reservationTxn struct {
	manager      *Manager
	reservations []reservation
}

func (t *reservationTxn) add(area *areaAllocator, origin tileOrigin, widthTiles, heightTiles int) {
	t.reservations = append(t.reservations, reservation{
		area:        area,
		origin:      origin,
		widthTiles:  widthTiles,
		heightTiles: heightTiles,
	})
}

func (t *reservationTxn) rollback() {
	for i := len(t.reservations) - 1; i >= 0; i-- {
		r := t.reservations[i]
		err := r.area.release(r.origin, r.widthTiles, r.heightTiles)
		if err != nil {
			// Unwinding a reservation we just made cannot legitimately fail.
			t.manager.logger.LogAttrs(context.Background(), slog.LevelError,
				"failed to roll back a tentative reservation",
				slog.Any("error", err))
		}
	}
	t.reservations = nil
}

// Alloc carves one block per request out of the fixed containers and returns the
// system-space base of the first block. The call is atomic across the group: either
// every block is reserved and registered, or nothing is. When more than one block is
// requested, the blocks are placed back to back, so block k+1 begins exactly
// stride*height bytes after block k; composite-plane images rely on that layout.
//
// On success every request record is populated with its resolved base, stride and
// physical address.
func (m *Manager) Alloc(blocks []AllocBlock) (Address, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.allocLocked(blocks)
}

func (m *Manager) allocLocked(blocks []AllocBlock) (Address, error) {
	if m.destroyed {
		return 0, errors.Wrap(ErrLifecycle, "the manager has been destroyed")
	}
	if len(blocks) == 0 {
		return 0, errors.Wrap(ErrInvalidRequest, "at least one block must be requested")
	}

	resolved := make([]resolvedBlock, len(blocks))
	for i := range blocks {
		err := validateBlock(&blocks[i])
		if err != nil {
			return 0, err
		}
		resolved[i] = resolveBlock(&blocks[i])
	}

	txn := reservationTxn{manager: m}
	origins := make([]tileOrigin, len(blocks))
	totalSpan := 0
	for i, r := range resolved {
		area := m.containers[r.format].area
		origin, err := area.reserve(r.widthTiles, r.heightTiles)
		if err != nil {
			txn.rollback()
			return 0, err
		}
		txn.add(area, origin, r.widthTiles, r.heightTiles)
		origins[i] = origin
		totalSpan += r.span
	}

	spanPages := memutils.DivideRoundingUp(totalSpan, PageSize)
	windowPage, err := m.window.reservePageRegion(spanPages)
	if err != nil {
		txn.rollback()
		return 0, errors.Wrap(err, "system-space window")
	}

	m.nextGroupID++
	group := &blockGroup{
		id:        m.nextGroupID,
		base:      systemWindowBase + Address(windowPage*PageSize),
		spanBytes: totalSpan,
		spanPages: spanPages,
		slab:      make([]byte, totalSpan),
	}

	cursor := group.base
	for i, r := range resolved {
		block := &blockInfo{
			kind:        blockOwned,
			format:      r.format,
			width:       blocks[i].Width,
			height:      blocks[i].Height,
			length:      blocks[i].Length,
			stride:      r.stride,
			base:        cursor,
			phys:        m.containers[r.format].physAt(origins[i]),
			origin:      origins[i],
			widthTiles:  r.widthTiles,
			heightTiles: r.heightTiles,
			group:       group,
		}

		err = m.registry.register(block)
		if err != nil {
			for _, member := range group.members {
				m.registry.unregister(member.base)
			}
			if relErr := m.window.releasePageRegion(windowPage, spanPages); relErr != nil {
				m.logger.LogAttrs(context.Background(), slog.LevelError,
					"failed to roll back the system-space span",
					slog.Any("error", relErr))
			}
			txn.rollback()
			return 0, err
		}
		group.members = append(group.members, block)
		cursor += Address(r.span)
	}

	for i, member := range group.members {
		blocks[i].Addr = member.base
		blocks[i].Stride = member.stride
		blocks[i].Phys = member.phys
	}

	for _, r := range resolved {
		memutils.DebugValidate(m.containers[r.format].area)
	}
	memutils.DebugValidate(m.window)

	return group.base, nil
}

// Free releases a group created by Alloc through its anchor address. Every member of
// the group is released; members other than the anchor cannot be freed on their own.
func (m *Manager) Free(addr Address) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	block, ok := m.registry.lookup(addr)
	if !ok {
		return errors.Wrapf(ErrLifecycle, "no live block at %s", addrString(addr))
	}

	switch block.kind {
	case blockOwned:
	case blockImported:
		return errors.Wrapf(ErrLifecycle, "block at %s was created by Map, release it with UnMap", addrString(addr))
	default:
		panic(fmt.Sprintf("unknown block kind: %s", block.kind))
	}

	if !block.isAnchor() {
		return errors.Wrapf(ErrLifecycle,
			"%s is not the anchor of its group, groups are released through their first block", addrString(addr))
	}

	return m.releaseGroupLocked(block.group)
}

// releaseGroupLocked tears a group down. A release failure here means internal
// bookkeeping diverged; the members are unregistered regardless, because leaking
// address space is worse than losing a diagnostic.
func (m *Manager) releaseGroupLocked(group *blockGroup) error {
	var combined error
	for _, member := range group.members {
		area := m.containers[member.format].area
		err := area.release(member.origin, member.widthTiles, member.heightTiles)
		if err != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelError,
				"container release failed during group teardown",
				slog.String("base", addrString(member.base)),
				slog.Any("error", err))
			combined = errors.CombineErrors(combined, err)
		}
		m.registry.unregister(member.base)
	}

	windowPage := int(group.base-systemWindowBase) / PageSize
	err := m.window.releasePageRegion(windowPage, group.spanPages)
	if err != nil {
		combined = errors.CombineErrors(combined, err)
	}

	group.slab = nil
	group.members = nil

	memutils.DebugValidate(m.window)
	return combined
}

// Map gives caller-owned, already-physical memory an address inside the tiler's
// addressing scheme without copying it. The baseline capability imports exactly one
// page-mode block per call; the caller's address must be page-aligned, the length a
// whole number of pages, and the physical pages are drawn from the supplied iterator.
// The returned alias always differs from the caller's own address.
func (m *Manager) Map(blocks []AllocBlock, pages PageIterator) (Address, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return 0, errors.Wrap(ErrLifecycle, "the manager has been destroyed")
	}
	if len(blocks) == 0 {
		return 0, errors.Wrap(ErrInvalidRequest, "at least one block must be requested")
	}

	for i := range blocks {
		err := validateBlock(&blocks[i])
		if err != nil {
			return 0, err
		}
	}

	if len(blocks) > mapMaxBlocks {
		return 0, errors.Wrapf(ErrNotSupported, "mapping supports at most %d block per call, got %d",
			mapMaxBlocks, len(blocks))
	}

	b := &blocks[0]
	if b.Format != FormatPage && !map2DSupported {
		return 0, errors.Wrapf(ErrNotSupported, "mapping of %s blocks is not supported", b.Format)
	}

	if b.Length%PageSize != 0 {
		return 0, errors.Wrapf(ErrInvalidRequest, "mapped length %d is not a whole number of pages", b.Length)
	}
	if b.Addr == 0 {
		return 0, errors.Wrap(ErrInvalidRequest, "mapped blocks require the caller's address")
	}
	if uint32(b.Addr)%PageSize != 0 {
		return 0, errors.Wrapf(ErrInvalidRequest, "address %s is not page-aligned", addrString(b.Addr))
	}
	if b.Addr >= systemWindowBase && b.Addr < m.systemWindowEnd() {
		return 0, errors.Wrapf(ErrInvalidRequest,
			"address %s lies inside tiler-managed space and cannot be mapped again", addrString(b.Addr))
	}
	if pages == nil {
		return 0, errors.Wrap(ErrInvalidRequest, "mapping requires a page iterator")
	}

	pageCount := b.Length / PageSize
	for i := 0; i < pageCount; i++ {
		_, ok := pages.NextPage()
		if !ok {
			return 0, errors.Wrapf(ErrInvalidRequest,
				"page list ended after %d of %d pages", i, pageCount)
		}
	}

	r := resolveBlock(b)
	pageContainer := m.containers[FormatPage]
	firstPage, err := pageContainer.area.reservePageRegion(pageCount)
	if err != nil {
		return 0, err
	}

	spanPages := memutils.DivideRoundingUp(r.span, PageSize)
	windowPage, err := m.window.reservePageRegion(spanPages)
	if err != nil {
		if relErr := pageContainer.area.releasePageRegion(firstPage, pageCount); relErr != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelError,
				"failed to roll back a tentative page reservation",
				slog.Any("error", relErr))
		}
		return 0, errors.Wrap(err, "system-space window")
	}

	m.nextGroupID++
	group := &blockGroup{
		id:        m.nextGroupID,
		base:      systemWindowBase + Address(windowPage*PageSize),
		spanBytes: r.span,
		spanPages: spanPages,
	}

	origin := tileOrigin{x: firstPage}
	block := &blockInfo{
		kind:          blockImported,
		format:        FormatPage,
		length:        b.Length,
		stride:        r.stride,
		base:          group.base,
		phys:          pageContainer.physAt(origin),
		origin:        origin,
		widthTiles:    pageCount,
		heightTiles:   1,
		group:         group,
		importedFrom:  b.Addr,
		importedPages: pageCount,
	}

	err = m.registry.register(block)
	if err != nil {
		if relErr := m.window.releasePageRegion(windowPage, spanPages); relErr != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelError,
				"failed to roll back the system-space span",
				slog.Any("error", relErr))
		}
		if relErr := pageContainer.area.releasePageRegion(firstPage, pageCount); relErr != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelError,
				"failed to roll back a tentative page reservation",
				slog.Any("error", relErr))
		}
		return 0, err
	}
	group.members = append(group.members, block)

	b.Addr = block.base
	b.Stride = block.stride
	b.Phys = block.phys

	return block.base, nil
}

// UnMap releases a block created by Map. Blocks created by Alloc must go through Free
// instead; the two lifecycles never cross.
func (m *Manager) UnMap(addr Address) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	block, ok := m.registry.lookup(addr)
	if !ok {
		return errors.Wrapf(ErrLifecycle, "no live block at %s", addrString(addr))
	}

	switch block.kind {
	case blockImported:
	case blockOwned:
		return errors.Wrapf(ErrLifecycle, "block at %s was created by Alloc, release it with Free", addrString(addr))
	default:
		panic(fmt.Sprintf("unknown block kind: %s", block.kind))
	}

	if !block.isAnchor() {
		return errors.Wrapf(ErrLifecycle,
			"%s is not the anchor of its group, groups are released through their first block", addrString(addr))
	}

	return m.releaseGroupLocked(block.group)
}

// Bytes returns the backing span of an owned block: stride*height bytes (stride bytes
// for page mode). Imported blocks alias caller-owned memory and have no local backing.
func (m *Manager) Bytes(addr Address) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	if !ok {
		return nil, errors.Wrapf(ErrLifecycle, "no live block at %s", addrString(addr))
	}
	if block.kind != blockOwned {
		return nil, errors.Wrapf(ErrLifecycle,
			"block at %s aliases caller-owned memory and has no local backing", addrString(addr))
	}

	offset := int(block.base - block.group.base)
	return block.group.slab[offset : offset+block.span()], nil
}

// Validate runs internal consistency checks across every container, the system-space
// window and the registry.
func (m *Manager) Validate() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.containers {
		err := c.area.Validate()
		if err != nil {
			return errors.Wrapf(err, "%s container", c.format)
		}
	}
	err := m.window.Validate()
	if err != nil {
		return errors.Wrap(err, "system-space window")
	}
	return m.registry.Validate()
}
