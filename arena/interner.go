package arena

// StringInterner maps string values to dense, stable integer ids. Two calls
// to Intern with byte-wise-equal strings always return the same id; Resolve
// is O(1) and reads the bytes back out of the arena that backs this
// interner, so interned strings share the arena's lifetime.
type StringInterner struct {
	a       *Arena
	ids     map[string]int
	handles []Handle
}

// NewStringInterner creates a StringInterner whose backing storage lives in
// a.
func NewStringInterner(a *Arena) *StringInterner {
	return &StringInterner{
		a:   a,
		ids: make(map[string]int),
	}
}

// Intern returns the dense id for s, allocating a new one (and copying s's
// bytes into the arena) if s has not been seen before by this interner.
func (si *StringInterner) Intern(s string) (int, error) {
	if id, ok := si.ids[s]; ok {
		return id, nil
	}

	h, err := si.a.Alloc(len(s), 1)
	if err != nil {
		return 0, err
	}
	si.a.Write(h, []byte(s))

	id := len(si.handles)
	si.handles = append(si.handles, h)
	si.ids[s] = id
	return id, nil
}

// Resolve returns the string previously interned under id. It panics if id
// is out of range, the same way an out-of-bounds slice index would, since an
// id handed back by Intern is always in range until the arena is Reset.
func (si *StringInterner) Resolve(id int) string {
	h := si.handles[id]
	return string(si.a.Bytes(h))
}

// Len returns the number of distinct strings interned so far.
func (si *StringInterner) Len() int {
	return len(si.handles)
}

// Truncate discards every string interned at or after id n, rolling the
// interner back to an earlier point. Handles into the arena for the
// surviving ids remain valid as long as the arena contents they reference
// are restored alongside.
func (si *StringInterner) Truncate(n int) {
	if n >= len(si.handles) {
		return
	}
	for i := n; i < len(si.handles); i++ {
		delete(si.ids, string(si.a.Bytes(si.handles[i])))
	}
	si.handles = si.handles[:n]
}

// Reset discards all interned strings. It does not reset the backing Arena
// itself; callers that reset the arena should also construct a fresh
// StringInterner (or call Reset here first) since old ids would otherwise
// resolve to garbage.
func (si *StringInterner) Reset() {
	si.ids = make(map[string]int)
	si.handles = nil
}
