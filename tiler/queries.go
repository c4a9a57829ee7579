package tiler

// The classification queries are total functions over the whole address space. Any
// address without a live descriptor, including 0 and addresses this manager has never
// seen, yields the "not this kind of block" answer rather than an error.

// Is1DBlock reports whether addr is the base of a live page-mode block.
func (m *Manager) Is1DBlock(addr Address) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	return ok && block.format == FormatPage
}

// Is2DBlock reports whether addr is the base of a live tiled block.
func (m *Manager) Is2DBlock(addr Address) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	return ok && block.format != FormatPage
}

// IsMapped reports whether addr is the base of a live block created by Map, i.e. one
// whose physical pages are owned by the caller.
func (m *Manager) IsMapped(addr Address) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	return ok && block.kind == blockImported
}

// GetStride returns the resolved stride of the live block based at addr, or 0 when
// addr is not a managed block.
func (m *Manager) GetStride(addr Address) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	if !ok {
		return 0
	}
	return block.stride
}

// TranslateToPhysical returns the container-space physical base of the live block
// based at addr, or 0 when addr is not a managed block.
func (m *Manager) TranslateToPhysical(addr Address) PhysicalAddress {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.registry.lookup(addr)
	if !ok {
		return 0
	}
	return block.phys
}

// ContainerRowPitch returns the fixed row pitch of the container whose physical window
// holds addr, or 0 when addr lies outside every container.
func (m *Manager) ContainerRowPitch(addr PhysicalAddress) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.containers {
		if c.containsPhys(addr) {
			return c.rowPitch
		}
	}
	return 0
}
