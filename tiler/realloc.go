package tiler

import (
	"github.com/cockroachdb/errors"
)

// Realloc resizes a single-block 2D group to a new pixel extent, preserving the
// overlapping rows of its contents. The block may move; the new base is returned and
// the old address stops being valid. Imported blocks and multi-block groups cannot be
// resized.
func (m *Manager) Realloc(addr Address, newWidth, newHeight int) (Address, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	old, err := m.reallocTarget(addr)
	if err != nil {
		return 0, err
	}
	if old.format == FormatPage {
		return 0, errors.Wrapf(ErrInvalidRequest,
			"block at %s is page-mode, resize it with ReallocPageMode", addrString(addr))
	}

	request := []AllocBlock{{
		Format: old.format,
		Width:  newWidth,
		Height: newHeight,
	}}
	newBase, err := m.allocLocked(request)
	if err != nil {
		return 0, err
	}

	newBlock, _ := m.registry.lookup(newBase)
	copyRows := old.height
	if newBlock.height < copyRows {
		copyRows = newBlock.height
	}
	copyBytes := old.width * old.format.BytesPerPixel()
	if newBytes := newBlock.width * newBlock.format.BytesPerPixel(); newBytes < copyBytes {
		copyBytes = newBytes
	}

	oldSlab := old.group.slab[old.base-old.group.base:]
	newSlab := newBlock.group.slab[newBlock.base-newBlock.group.base:]
	for row := 0; row < copyRows; row++ {
		copy(newSlab[row*newBlock.stride:row*newBlock.stride+copyBytes],
			oldSlab[row*old.stride:row*old.stride+copyBytes])
	}

	err = m.releaseGroupLocked(old.group)
	if err != nil {
		return 0, err
	}
	return newBase, nil
}

// ReallocPageMode resizes a single-block page-mode group to a new byte length,
// preserving the overlapping bytes.
func (m *Manager) ReallocPageMode(addr Address, newLength int) (Address, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	old, err := m.reallocTarget(addr)
	if err != nil {
		return 0, err
	}
	if old.format != FormatPage {
		return 0, errors.Wrapf(ErrInvalidRequest,
			"block at %s is tiled, resize it with Realloc", addrString(addr))
	}

	request := []AllocBlock{{
		Format: FormatPage,
		Length: newLength,
	}}
	newBase, err := m.allocLocked(request)
	if err != nil {
		return 0, err
	}

	newBlock, _ := m.registry.lookup(newBase)
	copyBytes := old.length
	if newBlock.length < copyBytes {
		copyBytes = newBlock.length
	}

	oldSlab := old.group.slab[old.base-old.group.base:]
	newSlab := newBlock.group.slab[newBlock.base-newBlock.group.base:]
	copy(newSlab[:copyBytes], oldSlab[:copyBytes])

	err = m.releaseGroupLocked(old.group)
	if err != nil {
		return 0, err
	}
	return newBase, nil
}

func (m *Manager) reallocTarget(addr Address) (*blockInfo, error) {
	block, ok := m.registry.lookup(addr)
	if !ok {
		return nil, errors.Wrapf(ErrLifecycle, "no live block at %s", addrString(addr))
	}
	if block.kind != blockOwned {
		return nil, errors.Wrapf(ErrLifecycle,
			"block at %s aliases caller-owned memory and cannot be resized", addrString(addr))
	}
	if len(block.group.members) != 1 {
		return nil, errors.Wrapf(ErrNotSupported,
			"block at %s belongs to a multi-block group, which cannot be resized", addrString(addr))
	}
	return block, nil
}
