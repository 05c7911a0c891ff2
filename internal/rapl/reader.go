// Package rapl exposes cumulative per-socket package and DRAM energy
// counters in joules, sourced from the kernel's powercap sysfs tree via
// github.com/prometheus/procfs/sysfs, and handles 32-bit microjoule
// counter rollover.
package rapl

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs/sysfs"
)

// Reader reads cumulative energy counters for a socket. Implementations
// must be side-effect-free: no subprocess invocation, no global mutation
// beyond an optional short-lived read cache. Reads are not lock-free:
// SysfsReader serializes Read and Invalidate on a mutex guarding its
// cache.
type Reader interface {
	// Read returns the current cumulative energy reading for socketID.
	// Fails with ErrEnergyUnavailable if the socket's package counter is
	// absent or unreadable.
	Read(socketID int) (EnergyReading, error)

	// Invalidate drops any cached reading for socketID so the next Read
	// call is forced to go back to the kernel.
	Invalidate(socketID int)

	// MaxJoules returns the configured rollover range (package, DRAM) in
	// joules for socketID, as reported by the kernel's
	// max_energy_range_uj, or 0 when unknown.
	MaxJoules(socketID int) (pkg, dram float64)
}

type cacheEntry struct {
	reading EnergyReading
	at      time.Time
}

// SysfsReader is the production Reader backed by the powercap sysfs tree.
type SysfsReader struct {
	fs         sysfs.FS
	cacheTTL   time.Duration
	mu         sync.Mutex
	cache      map[int]cacheEntry
	zonesBySkt map[int]zonePair
}

type zonePair struct {
	pkg      sysfs.RaplZone
	hasPkg   bool
	dram     sysfs.RaplZone
	hasDram  bool
}

// NewSysfsReader constructs a Reader rooted at sysfsPath (typically
// "/sys"), caching reads for up to cacheTTL (repeated reads within
// 100ms).
func NewSysfsReader(sysfsPath string, cacheTTL time.Duration) (*SysfsReader, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnergyUnavailable, err)
	}

	r := &SysfsReader{
		fs:       fs,
		cacheTTL: cacheTTL,
		cache:    make(map[int]cacheEntry),
	}

	if err := r.discoverZones(); err != nil {
		return nil, err
	}

	return r, nil
}

// discoverZones enumerates RAPL zones once and assigns each to its
// socket, locating DRAM by reading each child zone's name rather than
// assuming a fixed child position. The socket id comes from the zone's
// directory name (intel-rapl:<socket> or intel-rapl:<socket>:<sub>), not
// from the zone name's trailing index: sub-zone names like "dram" carry
// no index at all, so every socket's DRAM zone would otherwise collide.
func (r *SysfsReader) discoverZones() error {
	zones, err := sysfs.GetRaplZones(r.fs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnergyUnavailable, err)
	}

	r.zonesBySkt = make(map[int]zonePair)
	psysBySkt := make(map[int]sysfs.RaplZone)

	for _, zone := range zones {
		skt := zoneSocket(zone)
		switch strings.ToLower(zone.Name) {
		case "package":
			pair := r.zonesBySkt[skt]
			pair.pkg = zone
			pair.hasPkg = true
			r.zonesBySkt[skt] = pair
		case "psys":
			psysBySkt[skt] = zone
		case "dram":
			pair := r.zonesBySkt[skt]
			pair.dram = zone
			pair.hasDram = true
			r.zonesBySkt[skt] = pair
		}
	}

	// psys covers the whole platform; use it only where no package zone
	// exists for the socket.
	for skt, zone := range psysBySkt {
		pair := r.zonesBySkt[skt]
		if !pair.hasPkg {
			pair.pkg = zone
			pair.hasPkg = true
			r.zonesBySkt[skt] = pair
		}
	}

	hasAnyPkg := false
	for _, pair := range r.zonesBySkt {
		if pair.hasPkg {
			hasAnyPkg = true
			break
		}
	}
	if !hasAnyPkg {
		return fmt.Errorf("%w: no RAPL package zones found", ErrEnergyUnavailable)
	}

	return nil
}

// zoneSocket extracts the socket id from a zone's directory name, e.g.
// "intel-rapl:1" or "intel-rapl:1:0" yield 1. Falls back to the index
// parsed from the zone name when the path doesn't follow that layout.
func zoneSocket(zone sysfs.RaplZone) int {
	base := filepath.Base(zone.Path)
	i := strings.IndexByte(base, ':')
	if i < 0 {
		return zone.Index
	}
	rest := base[i+1:]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		rest = rest[:j]
	}
	skt, err := strconv.Atoi(rest)
	if err != nil {
		return zone.Index
	}
	return skt
}

// Read implements Reader.
func (r *SysfsReader) Read(socketID int) (EnergyReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[socketID]; ok && time.Since(entry.at) <= r.cacheTTL {
		return entry.reading, nil
	}

	pair, ok := r.zonesBySkt[socketID]
	if !ok || !pair.hasPkg {
		return EnergyReading{}, fmt.Errorf("%w: socket %d", ErrEnergyUnavailable, socketID)
	}

	pkgMicro, err := pair.pkg.GetEnergyMicrojoules()
	if err != nil {
		return EnergyReading{}, fmt.Errorf("%w: %v", ErrEnergyUnavailable, err)
	}

	var dramJoules float64
	if pair.hasDram {
		dramMicro, err := pair.dram.GetEnergyMicrojoules()
		if err == nil {
			dramJoules = float64(dramMicro) / 1_000_000.0
		}
	}

	reading := EnergyReading{
		SocketID:      socketID,
		PackageJoules: float64(pkgMicro) / 1_000_000.0,
		DRAMJoules:    dramJoules,
		CapturedAt:    time.Now(),
	}

	r.cache[socketID] = cacheEntry{reading: reading, at: reading.CapturedAt}
	return reading, nil
}

// Invalidate implements Reader.
func (r *SysfsReader) Invalidate(socketID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, socketID)
}

// MaxJoules implements Reader.
func (r *SysfsReader) MaxJoules(socketID int) (pkg, dram float64) {
	pair, ok := r.zonesBySkt[socketID]
	if !ok {
		return 0, 0
	}
	if pair.hasPkg {
		pkg = float64(pair.pkg.MaxMicrojoules) / 1_000_000.0
	}
	if pair.hasDram {
		dram = float64(pair.dram.MaxMicrojoules) / 1_000_000.0
	}
	return pkg, dram
}
