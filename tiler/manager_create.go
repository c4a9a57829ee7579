package tiler

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/tilerspace/tilermgr/internal/utils"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

const (
	// ManagerCreateExternallySynchronized ensures that this manager will not be
	// synchronized internally. The consumer must guarantee it is used from only one
	// goroutine at a time or is synchronized by some other mechanism, but performance
	// may improve because internal mutexes are not used.
	ManagerCreateExternallySynchronized CreateFlags = 1 << iota
)

const (
	// defaultPageContainerPages is the capacity of the page-mode container, in pages,
	// when none is provided via CreateOptions. It is equal to 64Mb.
	defaultPageContainerPages = 16384
	// maxPageContainerPages keeps the page container inside its physical window
	maxPageContainerPages = 16384

	// systemWindowPages is the capacity of the system-space window all block aliases
	// are carved from. It is equal to 256Mb.
	systemWindowPages = 65536
)

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags

	// PageContainerPages is the capacity of the page-mode container in pages. Leave 0
	// for the default of 16384. The 2D container geometry is fixed by the hardware
	// and cannot be configured.
	PageContainerPages int
}

// Manager is the allocator/registry pair at the heart of the tiler: it carves 1D and
// 2D regions out of the fixed containers, imports caller-owned pages under the same
// addressing scheme, and answers classification and translation queries for any
// address, managed or not.
type Manager struct {
	logger      *slog.Logger
	createFlags CreateFlags
	mutex       utils.OptionalRWMutex

	containers [formatCount]*container

	// window hands out system-space pages; every group occupies one contiguous run
	window *areaAllocator

	registry    *registry
	nextGroupID uint64
	destroyed   bool
}

// New creates a new Manager
//
// logger - Destination for diagnostics; slog.Default() is used when nil
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pageCapacity := options.PageContainerPages
	if pageCapacity == 0 {
		pageCapacity = defaultPageContainerPages
	}
	if pageCapacity < 0 || pageCapacity > maxPageContainerPages {
		return nil, errors.Wrapf(ErrInvalidRequest,
			"CreateOptions.PageContainerPages is %d, the page container holds at most %d pages",
			options.PageContainerPages, maxPageContainerPages)
	}

	useMutex := options.Flags&ManagerCreateExternallySynchronized == 0

	manager := &Manager{
		logger:      logger,
		createFlags: options.Flags,
		mutex:       utils.OptionalRWMutex{UseMutex: useMutex},
		window:      newAreaAllocator(systemWindowPages, 1, PageSize),
		registry:    newRegistry(),
	}

	manager.containers[FormatPage] = newContainer(FormatPage, physWindowPage, pageCapacity)
	manager.containers[Format8Bit] = newContainer(Format8Bit, physWindow8Bit, 0)
	manager.containers[Format16Bit] = newContainer(Format16Bit, physWindow16Bit, 0)
	manager.containers[Format32Bit] = newContainer(Format32Bit, physWindow32Bit, 0)

	return manager, nil
}

// Destroy verifies that every block has been released. Leaked blocks are logged
// individually before an error is returned; the manager must not be used afterward
// either way.
func (m *Manager) Destroy() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.destroyed = true

	if m.registry.count() == 0 {
		return nil
	}

	m.registry.visitAll(func(block *blockInfo) bool {
		m.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED BLOCK] block was not released before the manager was destroyed",
			slog.String("base", addrString(block.base)),
			slog.String("kind", block.kind.String()),
			slog.String("format", block.format.String()),
			slog.Int("stride", block.stride),
		)
		return false
	})

	return errors.Newf("%d blocks were not released before the destruction of this manager", m.registry.count())
}
