// Package protocol implements the EVST1 anchor payload codec.
//
// Two wire forms share the five byte ASCII marker "EVST1":
//
//   - binary: marker, one flag byte (storage type in bits 7:4, privacy in
//     bits 1:0, remaining bits reserved-zero), a 32-byte sha2-256 content
//     digest, then a variable-length storage pointer;
//   - service mode: marker, a literal ':', then a UTF-8 reference resolved
//     against the operator's record store instead of a storage backend.
//
// Every payload fits the 80-byte OP_RETURN relay bound; Encode fails rather
// than truncates when a pointer would push past it.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"everstone.io/anchor/cidutil"
)

// Marker is the ASCII protocol marker preceding every anchor payload.
const Marker = "EVST1"

// MaxPayloadSize is the practical OP_RETURN data bound. Encoding beyond it
// would make the transaction nonstandard, so the codec refuses.
const MaxPayloadSize = 80

// DigestSize is the exact length of the anchored content digest.
const DigestSize = 32

const headerSize = len(Marker) + 1 + DigestSize

// StorageType identifies the backend the storage pointer addresses.
type StorageType uint8

const (
	// StorageContentAddressed points at a content-addressed object; the
	// pointer bytes are a binary CIDv1.
	StorageContentAddressed StorageType = 0x00
	// StorageLedger points at a permanent-ledger object; the pointer bytes
	// are the raw ledger identifier, conventionally shown base64url.
	StorageLedger StorageType = 0x01
)

func (t StorageType) String() string {
	switch t {
	case StorageContentAddressed:
		return "content-addressed"
	case StorageLedger:
		return "ledger"
	default:
		return fmt.Sprintf("storage-type-%#x", uint8(t))
	}
}

// Payload is a decoded binary anchor payload. Values are constructed once at
// anchor time and never mutated.
type Payload struct {
	StorageType StorageType
	Privacy     uint8
	// ContentHash is the lowercase hex sha2-256 digest of the bundle bytes.
	ContentHash string
	// StoragePointer is the canonical string form of the pointer: a CID for
	// content-addressed storage, base64url for ledger storage.
	StoragePointer string
}

// EncodeBinary encodes a binary anchor payload.
//
// contentHash must be exactly 32 bytes. pointer is the backend-native string
// form (CID string or base64url ledger id); its binary form is what lands on
// chain.
func EncodeBinary(storageType StorageType, privacy uint8, contentHash []byte, pointer string) ([]byte, error) {
	if len(contentHash) != DigestSize {
		return nil, newError(KindDigest, fmt.Sprintf("content digest must be %d bytes, got %d", DigestSize, len(contentHash)))
	}
	if privacy > 0x03 {
		return nil, newError(KindFlags, fmt.Sprintf("privacy flags out of range: %#x", privacy))
	}

	var ptrBytes []byte
	var err error
	switch storageType {
	case StorageContentAddressed:
		ptrBytes, err = cidutil.PointerBytes(pointer)
		if err != nil {
			return nil, wrapError(KindPointer, "invalid content-address pointer", err)
		}
	case StorageLedger:
		ptrBytes, err = base64.RawURLEncoding.DecodeString(pointer)
		if err != nil {
			return nil, wrapError(KindPointer, "invalid ledger pointer", err)
		}
	default:
		return nil, newError(KindPointer, fmt.Sprintf("unknown storage type %#x", uint8(storageType)))
	}

	total := headerSize + len(ptrBytes)
	if total > MaxPayloadSize {
		return nil, newError(KindSize, fmt.Sprintf("payload is %d bytes, exceeds %d byte bound", total, MaxPayloadSize))
	}

	out := make([]byte, 0, total)
	out = append(out, Marker...)
	out = append(out, uint8(storageType)<<4|privacy&0x03)
	out = append(out, contentHash...)
	out = append(out, ptrBytes...)
	return out, nil
}

// DecodeBinary decodes a binary anchor payload read back from chain.
//
// Any mismatch in the fixed prefix or lengths is a decode failure, not a
// recoverable state.
func DecodeBinary(data []byte) (*Payload, error) {
	if !bytes.HasPrefix(data, []byte(Marker)) {
		return nil, newError(KindPrefix, "payload does not begin with the EVST1 marker")
	}
	if len(data) < headerSize {
		return nil, newError(KindTruncated, fmt.Sprintf("payload is %d bytes, header needs %d", len(data), headerSize))
	}

	// Reserved bits (3:2) are ignored on decode; encoders never set them.
	flags := data[len(Marker)]
	storageType := StorageType(flags >> 4)
	privacy := flags & 0x03

	digest := data[len(Marker)+1 : headerSize]
	ptrBytes := data[headerSize:]

	var pointer string
	switch storageType {
	case StorageContentAddressed:
		s, err := cidutil.PointerString(ptrBytes)
		if err != nil {
			return nil, wrapError(KindPointer, "malformed content-address pointer bytes", err)
		}
		pointer = s
	case StorageLedger:
		pointer = base64.RawURLEncoding.EncodeToString(ptrBytes)
	default:
		return nil, newError(KindPointer, fmt.Sprintf("unknown storage type %#x", uint8(storageType)))
	}

	return &Payload{
		StorageType:    storageType,
		Privacy:        privacy,
		ContentHash:    hex.EncodeToString(digest),
		StoragePointer: pointer,
	}, nil
}

// EncodeServiceMode encodes a service-mode anchor: "EVST1:<reference>".
//
// The reference is an opaque record identifier; it must be valid UTF-8
// without embedded NUL bytes.
func EncodeServiceMode(reference string) ([]byte, error) {
	if reference == "" {
		return nil, newError(KindReference, "service-mode reference is empty")
	}
	if !utf8.ValidString(reference) {
		return nil, newError(KindReference, "service-mode reference is not valid UTF-8")
	}
	if bytes.IndexByte([]byte(reference), 0) >= 0 {
		return nil, newError(KindReference, "service-mode reference contains NUL")
	}
	total := len(Marker) + 1 + len(reference)
	if total > MaxPayloadSize {
		return nil, newError(KindSize, fmt.Sprintf("payload is %d bytes, exceeds %d byte bound", total, MaxPayloadSize))
	}
	return []byte(Marker + ":" + reference), nil
}
