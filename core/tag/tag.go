// Package tag decodes the 4-byte tag that marks checkpoint transactions.
package tag

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the tag length in bytes.
const Size = 4

var ErrInvalidTagEncoding = errors.New("invalid tag encoding")

// Tag identifies bridge-relevant transactions on the proof-of-work chain.
type Tag [Size]byte

// Decode parses exactly 2*Size hex characters.
func Decode(s string) (Tag, error) {
	var t Tag
	if len(s) != 2*Size {
		return t, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidTagEncoding, 2*Size, len(s))
	}
	if _, err := hex.Decode(t[:], []byte(s)); err != nil {
		return Tag{}, fmt.Errorf("%w: %q is not a valid hex string", ErrInvalidTagEncoding, s)
	}
	return t, nil
}

// FromBytes copies a raw tag, checking its length.
func FromBytes(b []byte) (Tag, error) {
	var t Tag
	if len(b) != Size {
		return t, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidTagEncoding, Size, len(b))
	}
	copy(t[:], b)
	return t, nil
}

func (t Tag) String() string {
	return hex.EncodeToString(t[:])
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(text []byte) error {
	d, err := Decode(string(text))
	if err != nil {
		return err
	}
	*t = d
	return nil
}
