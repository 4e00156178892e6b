package types

import "encoding/hex"

// Principal is an opaque, equality-comparable user identifier. Go slices
// can't be map keys or compared with ==, so the raw bytes are carried
// internally as a string — the same workaround the corpus reaches for
// whenever it needs byte-slice identity as a map key (e.g. the teacher's
// sync.Map-keyed handle/header caches).
type Principal struct {
	raw string
}

// NewPrincipal wraps a byte slice as a Principal. The slice is copied so the
// caller is free to mutate it afterwards.
func NewPrincipal(b []byte) Principal {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Principal{raw: string(cp)}
}

func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

func (p Principal) String() string {
	return hex.EncodeToString([]byte(p.raw))
}

func (p Principal) IsZero() bool {
	return p.raw == ""
}
