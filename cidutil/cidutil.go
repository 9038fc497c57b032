package cidutil

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// DigestHex returns the lowercase hex sha2-256 digest of data.
//
// This is the content digest anchored on chain; it is the plain hash of the
// bundle bytes, not a multihash.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest returns the raw 32-byte sha2-256 digest of data.
func Digest(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// PointerBytes returns the binary form of a CID string for embedding in an
// anchor payload. The string form is what gateways and humans use; the
// binary form is what goes on chain.
func PointerBytes(s string) ([]byte, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return nil, err
	}
	return id.Bytes(), nil
}

// PointerString decodes binary CID bytes back to the canonical string form.
func PointerString(b []byte) (string, error) {
	id, err := cid.Cast(b)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
