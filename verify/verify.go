// Package verify turns a transaction id into a hash-checked, unpacked
// content bundle.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"everstone.io/anchor/bundle"
	"everstone.io/anchor/chain"
	"everstone.io/anchor/cidutil"
	"everstone.io/anchor/memorial"
	"everstone.io/anchor/protocol"
	"everstone.io/anchor/storage"
)

// Status is the terminal state of one verification attempt.
type Status string

const (
	// StatusVerified means the bundle was located, retrieved, digest-checked
	// where an on-chain digest exists, and unpacked.
	StatusVerified Status = "verified"
	// StatusHashMismatch means the retrieved bytes do not match the digest
	// anchored on chain. The bundle contents are withheld.
	StatusHashMismatch Status = "hash_mismatch"
	// StatusFailed means the attempt stopped before the integrity check;
	// Result.Reason says where.
	StatusFailed Status = "failed"
)

// Reason qualifies StatusFailed.
type Reason string

const (
	ReasonNotFound           Reason = "transaction_not_found"
	ReasonNoAnchor           Reason = "no_anchor_output"
	ReasonUnknownFormat      Reason = "unknown_protocol_format"
	ReasonBundleUnavailable  Reason = "bundle_unavailable"
	ReasonAllGatewaysFailed  Reason = "all_gateways_failed"
	ReasonUnsupportedBackend Reason = "unsupported_storage_backend"
	ReasonManifestMissing    Reason = "manifest_missing"
	ReasonCorruptArchive     Reason = "corrupt_archive"
)

// Result is the terminal state of Verify with everything established along
// the way. Metadata and Assets are populated only when Status is
// StatusVerified.
type Result struct {
	TxID   string
	Status Status
	Reason Reason
	Err    error

	Mode      protocol.Mode
	Payload   *protocol.Payload // binary mode
	Reference string            // service mode

	// Digest is the sha2-256 hex of the retrieved bytes. OnChainDigest is
	// the digest the payload anchors; empty in service mode.
	Digest        string
	OnChainDigest string
	// DigestUnverifiable marks the service-mode trust gap: no on-chain
	// digest exists, so Digest is reported but proves nothing by itself.
	DigestUnverifiable bool

	// Gateway is the endpoint that served the bytes in content-addressed
	// mode.
	Gateway string

	// ConfirmationHeight is nil while the transaction is unconfirmed.
	ConfirmationHeight *int64

	Metadata *memorial.Record
	Assets   map[string][]byte
}

// ChainReader is the slice of the explorer client the pipeline needs.
type ChainReader interface {
	Transaction(ctx context.Context, txid string) (*chain.Transaction, error)
	ConfirmationHeight(ctx context.Context, txid string) (*int64, error)
}

// GatewaySource retrieves content-addressed bundles and reports which
// endpoint served them.
type GatewaySource interface {
	FetchProvenance(ctx context.Context, ref string) ([]byte, string, error)
}

// Verifier runs the verification state machine. Each call to Verify is one
// independent attempt; a Verifier is safe for concurrent use when its
// collaborators are.
type Verifier struct {
	chain    ChainReader
	service  storage.BundleSource
	gateways GatewaySource
	log      zerolog.Logger
}

// Options configures a Verifier. Chain is required. A nil Service makes
// service-mode payloads fail with ReasonBundleUnavailable; a nil Gateways
// makes content-addressed payloads fail with ReasonAllGatewaysFailed.
type Options struct {
	Chain    ChainReader
	Service  storage.BundleSource
	Gateways GatewaySource
	Log      zerolog.Logger
}

func New(opts Options) (*Verifier, error) {
	if opts.Chain == nil {
		return nil, fmt.Errorf("verify: nil chain reader")
	}
	return &Verifier{
		chain:    opts.Chain,
		service:  opts.Service,
		gateways: opts.Gateways,
		log:      opts.Log,
	}, nil
}

// Verify runs one attempt over txid. It always returns a terminal Result;
// failures are states, not Go errors, so callers handle every outcome the
// same way.
func (v *Verifier) Verify(ctx context.Context, txid string) *Result {
	res := &Result{TxID: txid}

	// Locate.
	tx, err := v.chain.Transaction(ctx, txid)
	if err != nil {
		return v.failed(res, ReasonNotFound, err)
	}
	payloadBytes, err := chain.LocateAnchorOutput(tx)
	if err != nil {
		return v.failed(res, ReasonNoAnchor, err)
	}

	// Decode.
	classified, err := protocol.Classify(payloadBytes)
	if err != nil {
		return v.failed(res, ReasonUnknownFormat, err)
	}
	res.Mode = classified.Mode

	// Retrieve.
	var raw []byte
	switch classified.Mode {
	case protocol.ModeService:
		res.Reference = classified.Reference
		res.DigestUnverifiable = true
		if v.service == nil {
			return v.failed(res, ReasonBundleUnavailable, fmt.Errorf("no bundle service configured"))
		}
		raw, err = v.service.Fetch(ctx, classified.Reference)
		if err != nil {
			return v.failed(res, ReasonBundleUnavailable, err)
		}

	case protocol.ModeBinary:
		res.Payload = classified.Binary
		res.OnChainDigest = classified.Binary.ContentHash
		switch classified.Binary.StorageType {
		case protocol.StorageContentAddressed:
			if v.gateways == nil {
				return v.failed(res, ReasonAllGatewaysFailed, fmt.Errorf("no gateways configured"))
			}
			var served string
			raw, served, err = v.gateways.FetchProvenance(ctx, classified.Binary.StoragePointer)
			if err != nil {
				return v.failed(res, ReasonAllGatewaysFailed, err)
			}
			res.Gateway = served
		default:
			return v.failed(res, ReasonUnsupportedBackend,
				fmt.Errorf("storage type %s has no retrieval path", classified.Binary.StorageType))
		}
	}

	// Integrity.
	res.Digest = cidutil.DigestHex(raw)
	if res.OnChainDigest != "" && res.Digest != res.OnChainDigest {
		res.Status = StatusHashMismatch
		v.log.Warn().
			Str("txid", txid).
			Str("expected", res.OnChainDigest).
			Str("computed", res.Digest).
			Msg("anchored digest mismatch")
		return res
	}

	// Unpack.
	arch, err := bundle.Unpack(raw)
	if err != nil {
		reason := ReasonCorruptArchive
		if errors.Is(err, bundle.ErrManifestMissing) {
			reason = ReasonManifestMissing
		}
		return v.failed(res, reason, err)
	}

	// Confirmation state is informational; a pending transaction still
	// verifies.
	if height, err := v.chain.ConfirmationHeight(ctx, txid); err == nil {
		res.ConfirmationHeight = height
	}

	res.Status = StatusVerified
	res.Metadata = arch.Manifest
	res.Assets = arch.Assets
	v.log.Info().
		Str("txid", txid).
		Str("digest", res.Digest).
		Str("gateway", res.Gateway).
		Bool("digest_unverifiable", res.DigestUnverifiable).
		Msg("bundle verified")
	return res
}

func (v *Verifier) failed(res *Result, reason Reason, err error) *Result {
	res.Status = StatusFailed
	res.Reason = reason
	res.Err = err
	v.log.Debug().
		Str("txid", res.TxID).
		Str("reason", string(reason)).
		Err(err).
		Msg("verification failed")
	return res
}
