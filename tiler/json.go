package tiler

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// PrintDetailedMap streams a JSON description of every container and every live block
// into writer. Diagnostic only; the output shape is not a stable interface.
func (m *Manager) PrintDetailedMap(writer *jwriter.Writer) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	containersObj := objState.Name("Containers").Object()
	for _, c := range m.containers {
		containerObj := containersObj.Name(c.format.String()).Object()

		containerObj.Name("TotalBytes").Int(c.sizeBytes())
		containerObj.Name("UnusedBytes").Int(c.area.freeTiles() * c.area.cellBytes)
		containerObj.Name("RowPitch").Int(c.rowPitch)

		m.printContainerBlocks(c, containerObj)

		containerObj.End()
	}
	containersObj.End()
}

func (m *Manager) printContainerBlocks(c *container, json jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	m.registry.visitAll(func(block *blockInfo) bool {
		if block.format != c.format {
			return false
		}

		obj := arrayState.Object()
		obj.Name("Base").String(addrString(block.base))
		obj.Name("Kind").String(block.kind.String())
		obj.Name("Group").Int(int(block.group.id))
		obj.Name("Stride").Int(block.stride)
		if block.format == FormatPage {
			obj.Name("Length").Int(block.length)
		} else {
			obj.Name("Width").Int(block.width)
			obj.Name("Height").Int(block.height)
		}
		obj.Name("Phys").String(physString(block.phys))
		if block.kind == blockImported {
			obj.Name("CallerAddr").String(addrString(block.importedFrom))
		}
		obj.End()
		return false
	})
}
