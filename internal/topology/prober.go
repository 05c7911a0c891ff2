// Package topology discovers the socket→CPU mapping and the inverse
// CPU→socket mapping via github.com/prometheus/procfs, reading the same
// /proc/cpuinfo "physical id" field the kernel exposes per logical CPU.
package topology

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/procfs"
)

// Prober discovers Topology once and freezes it.
type Prober struct {
	procfsPath string

	once     sync.Once
	topology *Topology
	err      error
}

// NewProber creates a prober rooted at procfsPath (typically "/proc").
func NewProber(procfsPath string) *Prober {
	return &Prober{procfsPath: procfsPath}
}

// Discover enumerates CPUs and their physical package ids, builds both
// mappings, and freezes them. Safe to call repeatedly; only the first
// call does work.
func (p *Prober) Discover() (*Topology, error) {
	p.once.Do(func() {
		p.topology, p.err = p.discover()
	})
	return p.topology, p.err
}

func (p *Prober) discover() (*Topology, error) {
	fs, err := procfs.NewFS(p.procfsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCPU, err)
	}

	cpuInfo, err := fs.CPUInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCPU, err)
	}

	cpusBySkt := make(map[int][]int)
	sktByCPU := make(map[int]int)

	for _, cpu := range cpuInfo {
		socketID := 0
		if cpu.PhysicalID != "" {
			parsed, parseErr := strconv.Atoi(cpu.PhysicalID)
			if parseErr != nil {
				return nil, fmt.Errorf("%w: unparsable physical id %q: %v", ErrBadCPU, cpu.PhysicalID, parseErr)
			}
			socketID = parsed
		}

		cpuID := int(cpu.Processor)
		sktByCPU[cpuID] = socketID
		cpusBySkt[socketID] = append(cpusBySkt[socketID], cpuID)
	}

	if len(cpusBySkt) == 0 {
		return nil, fmt.Errorf("%w: no CPUs found in %s", ErrBadCPU, p.procfsPath)
	}

	return &Topology{
		SocketCount: len(cpusBySkt),
		cpusBySkt:   cpusBySkt,
		sktByCPU:    sktByCPU,
	}, nil
}
