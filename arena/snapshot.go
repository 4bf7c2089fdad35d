package arena

import (
	"fmt"

	"github.com/dekarrin/rezi"
)

// Snapshot is a REZI-encoded capture of an Arena's regions at a point in
// time, suitable for restoring the arena to a safe rollback point after a
// parseerr.Budget or parseerr.ArenaExhausted failure, per spec.md §7.
type Snapshot struct {
	Regions   [][]byte
	RegionCap int
	HardCap   int64
	Used      int64
}

// Snapshot captures the current contents of the arena. The returned value is
// a deep copy; mutating the arena afterward does not affect it.
func (a *Arena) Snapshot() Snapshot {
	regions := make([][]byte, len(a.regions))
	for i := range a.regions {
		regions[i] = append([]byte(nil), a.regions[i]...)
	}
	return Snapshot{
		Regions:   regions,
		RegionCap: a.regionCap,
		HardCap:   a.hardCap,
		Used:      a.used,
	}
}

// Restore replaces the arena's contents with a previously captured Snapshot.
// All Handles issued before the snapshot was taken become valid again;
// Handles issued between the snapshot and the Restore are invalidated.
func (a *Arena) Restore(s Snapshot) {
	a.regions = make([][]byte, len(s.Regions))
	for i := range s.Regions {
		a.regions[i] = append([]byte(nil), s.Regions[i]...)
	}
	a.regionCap = s.RegionCap
	a.hardCap = s.HardCap
	a.used = s.Used
}

// MarshalBinary implements encoding.BinaryMarshaler so that a Snapshot can be
// encoded with rezi.EncBinary.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	buf := rezi.EncInt(len(s.Regions))
	for _, r := range s.Regions {
		buf = append(buf, rezi.EncInt(len(r))...)
		buf = append(buf, r...)
	}
	buf = append(buf, rezi.EncInt(s.RegionCap)...)
	buf = append(buf, rezi.EncInt(int(s.HardCap))...)
	buf = append(buf, rezi.EncInt(int(s.Used))...)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler so that a Snapshot
// can be decoded with rezi.DecBinary.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	count, n, err := rezi.DecInt(data)
	if err != nil {
		return fmt.Errorf("decoding region count: %w", err)
	}
	data = data[n:]

	regions := make([][]byte, count)
	for i := 0; i < count; i++ {
		regionLen, n, err := rezi.DecInt(data)
		if err != nil {
			return fmt.Errorf("decoding region %d length: %w", i, err)
		}
		data = data[n:]

		if len(data) < regionLen {
			return fmt.Errorf("decoding region %d: unexpected EOF", i)
		}
		regions[i] = append([]byte(nil), data[:regionLen]...)
		data = data[regionLen:]
	}

	regionCap, n, err := rezi.DecInt(data)
	if err != nil {
		return fmt.Errorf("decoding region cap: %w", err)
	}
	data = data[n:]

	hardCap, n, err := rezi.DecInt(data)
	if err != nil {
		return fmt.Errorf("decoding hard cap: %w", err)
	}
	data = data[n:]

	used, n, err := rezi.DecInt(data)
	if err != nil {
		return fmt.Errorf("decoding used: %w", err)
	}
	data = data[n:]

	s.Regions = regions
	s.RegionCap = regionCap
	s.HardCap = int64(hardCap)
	s.Used = int64(used)
	return nil
}

// EncodeSnapshot serializes a Snapshot to bytes using REZI, for callers that
// want to persist a rollback point outside process memory (e.g. across a
// crash during a long batch of next_tokens calls).
func EncodeSnapshot(s Snapshot) []byte {
	return rezi.EncBinary(s)
}

// DecodeSnapshot deserializes bytes produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	n, err := rezi.DecBinary(data, &s)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decoding arena snapshot: %w", err)
	}
	if n != len(data) {
		return Snapshot{}, fmt.Errorf("decoding arena snapshot: consumed %d/%d bytes", n, len(data))
	}
	return s, nil
}
