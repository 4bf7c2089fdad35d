// Package arena provides the bump-allocated memory region, string interner,
// and typed object pool that back every other subsystem of the engine. The
// Arena owns all long-lived bytes; everything else is stable only as long as
// the arena hasn't been Reset.
package arena

import (
	"fmt"

	"github.com/dekarrin/stepgram/parseerr"
)

const defaultRegionSize = 64 * 1024

// Handle is a stable reference into an Arena's backing storage. It remains
// valid until the Arena it came from is Reset.
type Handle struct {
	region int
	offset int
	length int
}

// Len returns the number of bytes the Handle refers to.
func (h Handle) Len() int { return h.length }

// Arena is a bump-allocated memory region. Allocation is O(1) amortized;
// there is no individual free, only a full Reset. Growth is geometric:
// when the current backing region runs out of room, a new region at least
// double the previous size (and at least big enough for the request) is
// appended. Handles into earlier regions remain valid for the arena's
// lifetime since existing regions are never moved or resized in place.
type Arena struct {
	regions   [][]byte
	cursor    int
	regionCap int
	hardCap   int64
	used      int64
}

// New creates an Arena whose first region is initialRegionSize bytes (the
// package default is used if initialRegionSize <= 0). hardCapBytes, if
// positive, is the total number of bytes the arena may ever hold across all
// its regions; exceeding it returns ArenaExhausted.
func New(initialRegionSize int, hardCapBytes int64) *Arena {
	if initialRegionSize <= 0 {
		initialRegionSize = defaultRegionSize
	}
	a := &Arena{
		regionCap: initialRegionSize,
		hardCap:   hardCapBytes,
	}
	a.regions = append(a.regions, make([]byte, 0, initialRegionSize))
	return a
}

// Used returns the total number of bytes allocated across all regions since
// the last Reset.
func (a *Arena) Used() int64 { return a.used }

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// Alloc reserves n bytes aligned to align (1 means unaligned) and returns a
// Handle to them. The bytes are zeroed. Alloc fails with a parseerr.Error of
// kind parseerr.ArenaExhausted if the hard cap would be exceeded.
func (a *Arena) Alloc(n int, align int) (Handle, error) {
	if n < 0 {
		return Handle{}, parseerr.New(parseerr.ArenaExhausted, parseerr.Position{}, "cannot allocate negative size")
	}

	regionIdx := len(a.regions) - 1
	region := a.regions[regionIdx]
	start := alignUp(len(region), align)

	if start+n > cap(region) {
		// current region has no room; grow geometrically.
		needed := n + align
		newCap := cap(region) * 2
		if newCap < needed {
			newCap = needed
		}
		if a.hardCap > 0 && a.used+int64(newCap) > a.hardCap {
			newCap = int(a.hardCap - a.used)
			if newCap < needed {
				return Handle{}, parseerr.New(parseerr.ArenaExhausted, parseerr.Position{}, fmt.Sprintf("arena hard cap of %d bytes reached", a.hardCap))
			}
		}
		a.regions = append(a.regions, make([]byte, 0, newCap))
		regionIdx = len(a.regions) - 1
		region = a.regions[regionIdx]
		start = 0
	}

	if a.hardCap > 0 && a.used+int64(n) > a.hardCap {
		return Handle{}, parseerr.New(parseerr.ArenaExhausted, parseerr.Position{}, fmt.Sprintf("arena hard cap of %d bytes reached", a.hardCap))
	}

	end := start + n
	a.regions[regionIdx] = region[:end]
	a.used += int64(end - len(region))

	return Handle{region: regionIdx, offset: start, length: n}, nil
}

// Bytes returns the live slice of bytes backing h. The slice aliases the
// arena's own storage: writes through it are visible to later Bytes calls on
// the same Handle, and it must not be retained past a Reset.
func (a *Arena) Bytes(h Handle) []byte {
	return a.regions[h.region][h.offset : h.offset+h.length]
}

// Write copies data into the bytes backing h, which must be at least
// len(data) long.
func (a *Arena) Write(h Handle, data []byte) {
	copy(a.Bytes(h), data)
}

// Reset discards every allocation, invalidating all outstanding Handles.
// Backing regions are kept (truncated to zero length) so subsequent use
// reuses already-grown capacity instead of starting from the initial size.
func (a *Arena) Reset() {
	for i := range a.regions {
		a.regions[i] = a.regions[i][:0]
	}
	a.used = 0
}
