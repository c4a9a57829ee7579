package tiler

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// registry is the single authority on which addresses are live blocks. Lookups are
// total over the whole address space: an address with no entry simply is not a block,
// which is an answer, not an error.
type registry struct {
	blocks *swiss.Map[Address, *blockInfo]
}

func newRegistry() *registry {
	return &registry{
		blocks: swiss.NewMap[Address, *blockInfo](64),
	}
}

func (r *registry) register(block *blockInfo) error {
	if _, exists := r.blocks.Get(block.base); exists {
		return errors.Errorf("address %#x already has a live descriptor", block.base)
	}
	r.blocks.Put(block.base, block)
	return nil
}

func (r *registry) lookup(addr Address) (*blockInfo, bool) {
	return r.blocks.Get(addr)
}

func (r *registry) unregister(addr Address) (*blockInfo, bool) {
	block, ok := r.blocks.Get(addr)
	if !ok {
		return nil, false
	}
	r.blocks.Delete(addr)
	return block, true
}

func (r *registry) count() int {
	return r.blocks.Count()
}

func (r *registry) visitAll(visit func(block *blockInfo) bool) {
	r.blocks.Iter(func(_ Address, block *blockInfo) bool {
		return visit(block)
	})
}

// Validate cross-checks descriptors against their own group membership.
func (r *registry) Validate() error {
	var err error
	r.blocks.Iter(func(addr Address, block *blockInfo) bool {
		if block.base != addr {
			err = errors.Errorf("descriptor keyed at %#x claims base %#x", addr, block.base)
			return true
		}
		if block.group == nil {
			err = errors.Errorf("descriptor at %#x has no group", addr)
			return true
		}
		for _, member := range block.group.members {
			if member == block {
				return false
			}
		}
		err = errors.Errorf("descriptor at %#x is not a member of its own group", addr)
		return true
	})
	return err
}
