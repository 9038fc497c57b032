package protocol

import (
	"bytes"
	"unicode/utf8"
)

// Mode discriminates the two payload variants.
type Mode int

const (
	// ModeBinary is a self-contained payload with an on-chain content digest
	// and a storage pointer.
	ModeBinary Mode = iota
	// ModeService is a bare record reference; the bundle is retrieved from
	// the operator and there is no on-chain digest to check against.
	ModeService
)

// Classified is the tagged result of Classify. Exactly one of Binary or
// Reference is populated, selected by Mode.
type Classified struct {
	Mode      Mode
	Binary    *Payload // set when Mode == ModeBinary
	Reference string   // set when Mode == ModeService
}

// Classify decides which variant a marker-prefixed payload is.
//
// Service mode wins when the bytes after the marker start with ':' and the
// remainder is valid UTF-8 with no NUL; otherwise a binary decode is
// attempted. The classification is total: any marker-prefixed byte string is
// exactly one of service mode, binary, or a KindUnknown error.
func Classify(data []byte) (*Classified, error) {
	if !bytes.HasPrefix(data, []byte(Marker)) {
		return nil, newError(KindPrefix, "payload does not begin with the EVST1 marker")
	}

	rest := data[len(Marker):]
	if len(rest) > 0 && rest[0] == ':' {
		ref := rest[1:]
		if utf8.Valid(ref) && bytes.IndexByte(ref, 0) < 0 {
			return &Classified{Mode: ModeService, Reference: string(ref)}, nil
		}
	}

	p, err := DecodeBinary(data)
	if err != nil {
		return nil, wrapError(KindUnknown, "payload is neither service mode nor a binary anchor", err)
	}
	return &Classified{Mode: ModeBinary, Binary: p}, nil
}
