package crypto

import "errors"

// Hidden wraps a sensitive byte string so it cannot leak through logging or
// serialization by accident. String and GoString are masked and MarshalJSON
// refuses outright; the only way at the value is Bytes.
type Hidden struct {
	value []byte
}

// NewHidden takes ownership of b. Callers must not reuse the slice.
func NewHidden(b []byte) *Hidden {
	return &Hidden{value: b}
}

// HiddenString wraps a string secret.
func HiddenString(s string) *Hidden {
	return &Hidden{value: []byte(s)}
}

// Bytes exposes the secret. The returned slice aliases the internal buffer
// and goes blank after Wipe.
func (h *Hidden) Bytes() []byte {
	if h == nil {
		return nil
	}
	return h.value
}

// Wipe zeroes the secret in place.
func (h *Hidden) Wipe() {
	if h == nil {
		return
	}
	for i := range h.value {
		h.value[i] = 0
	}
	h.value = h.value[:0]
}

func (h *Hidden) String() string   { return "[hidden]" }
func (h *Hidden) GoString() string { return "crypto.Hidden{}" }

func (h *Hidden) MarshalJSON() ([]byte, error) {
	return nil, errors.New("hidden values cannot be serialized")
}

func (h *Hidden) MarshalCBOR() ([]byte, error) {
	return nil, errors.New("hidden values cannot be serialized")
}
