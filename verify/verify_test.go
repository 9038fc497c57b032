package verify

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"everstone.io/anchor/bundle"
	"everstone.io/anchor/chain"
	"everstone.io/anchor/cidutil"
	"everstone.io/anchor/memorial"
	"everstone.io/anchor/protocol"
	"everstone.io/anchor/storage/gateway"
)

type fakeChain struct {
	tx     *chain.Transaction
	txErr  error
	height *int64
}

func (f *fakeChain) Transaction(ctx context.Context, txid string) (*chain.Transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.tx, nil
}

func (f *fakeChain) ConfirmationHeight(ctx context.Context, txid string) (*int64, error) {
	return f.height, nil
}

type fakeSource struct {
	data []byte
	err  error
	refs []string
}

func (f *fakeSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.refs = append(f.refs, ref)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeGateways struct {
	data     []byte
	endpoint string
	err      error
}

func (f *fakeGateways) FetchProvenance(ctx context.Context, ref string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.endpoint, nil
}

func testBundle(t *testing.T) []byte {
	t.Helper()
	rec := &memorial.Record{
		Provenance: memorial.Provenance{Version: memorial.ManifestVersion},
		Subject: memorial.Subject{
			FullName:  "Claude Shannon",
			BirthDate: "1916-04-30",
			DeathDate: "2001-02-24",
			Epitaph:   "A mathematical theory of communication",
		},
		Content: memorial.Content{
			BioMarkdown: "bio.md",
			MainImage:   "portrait.jpg",
		},
	}
	b, err := bundle.Pack(rec, map[string][]byte{
		"bio.md":       []byte("# Claude Shannon\n"),
		"portrait.jpg": {0xff, 0xd8, 0xff},
	})
	require.NoError(t, err)
	return b
}

func anchorTx(t *testing.T, payload []byte) *chain.Transaction {
	t.Helper()
	require.LessOrEqual(t, len(payload), 75, "test payload must fit a direct push")
	script := append([]byte{0x6a, byte(len(payload))}, payload...)
	return &chain.Transaction{
		TxID: "a1b2",
		Vout: []chain.Output{
			{ScriptPubKey: "0014" + "00112233445566778899aabbccddeeff00112233", ScriptPubKeyType: "v0_p2wpkh", Value: 100_000},
			{ScriptPubKey: hex.EncodeToString(script), ScriptPubKeyType: "op_return"},
		},
	}
}

func binaryPayload(t *testing.T, data []byte) ([]byte, string) {
	t.Helper()
	digest := sha256.Sum256(data)
	ref := cidutil.CIDv1RawSHA256(data)
	payload, err := protocol.EncodeBinary(protocol.StorageContentAddressed, 0, digest[:], ref)
	require.NoError(t, err)
	return payload, ref
}

func servicePayload(t *testing.T, ref string) []byte {
	t.Helper()
	p, err := protocol.EncodeServiceMode(ref)
	require.NoError(t, err)
	return p
}

func newVerifier(t *testing.T, opts Options) *Verifier {
	t.Helper()
	opts.Log = zerolog.Nop()
	v, err := New(opts)
	require.NoError(t, err)
	return v
}

func TestVerifyServiceMode(t *testing.T) {
	data := testBundle(t)
	height := int64(850_000)
	src := &fakeSource{data: data}
	v := newVerifier(t, Options{
		Chain:   &fakeChain{tx: anchorTx(t, servicePayload(t, "claude-shannon")), height: &height},
		Service: src,
	})

	res := v.Verify(context.Background(), "a1b2")
	require.Equal(t, StatusVerified, res.Status, "unexpected failure: %v", res.Err)
	assert.Equal(t, protocol.ModeService, res.Mode)
	assert.Equal(t, "claude-shannon", res.Reference)
	assert.Equal(t, []string{"claude-shannon"}, src.refs)

	assert.True(t, res.DigestUnverifiable, "service mode has no on-chain digest")
	assert.Empty(t, res.OnChainDigest)
	assert.Equal(t, cidutil.DigestHex(data), res.Digest)

	require.NotNil(t, res.Metadata)
	assert.Equal(t, "Claude Shannon", res.Metadata.Subject.FullName)
	_, ok := res.Assets["bio.md"]
	assert.True(t, ok)

	require.NotNil(t, res.ConfirmationHeight)
	assert.Equal(t, height, *res.ConfirmationHeight)
}

func TestVerifyBinaryMode(t *testing.T) {
	data := testBundle(t)
	payload, _ := binaryPayload(t, data)
	v := newVerifier(t, Options{
		Chain:    &fakeChain{tx: anchorTx(t, payload)},
		Gateways: &fakeGateways{data: data, endpoint: "https://ipfs.io/ipfs/"},
	})

	res := v.Verify(context.Background(), "a1b2")
	require.Equal(t, StatusVerified, res.Status, "unexpected failure: %v", res.Err)
	assert.Equal(t, protocol.ModeBinary, res.Mode)
	assert.Equal(t, "https://ipfs.io/ipfs/", res.Gateway)
	assert.Equal(t, res.OnChainDigest, res.Digest)
	assert.False(t, res.DigestUnverifiable)
	assert.Nil(t, res.ConfirmationHeight, "pending transaction still verifies")
	require.NotNil(t, res.Metadata)
}

func TestVerifyHashMismatchWithholdsBundle(t *testing.T) {
	data := testBundle(t)
	payload, _ := binaryPayload(t, data)
	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-1] ^= 0x01

	v := newVerifier(t, Options{
		Chain:    &fakeChain{tx: anchorTx(t, payload)},
		Gateways: &fakeGateways{data: tampered, endpoint: "https://ipfs.io/ipfs/"},
	})

	res := v.Verify(context.Background(), "a1b2")
	require.Equal(t, StatusHashMismatch, res.Status)

	digest := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(digest[:]), res.OnChainDigest)
	assert.Equal(t, cidutil.DigestHex(tampered), res.Digest)
	assert.NotEqual(t, res.OnChainDigest, res.Digest)

	assert.Nil(t, res.Metadata, "mismatched bundle must never be exposed")
	assert.Nil(t, res.Assets, "mismatched bundle must never be exposed")
}

func TestVerifyFailureReasons(t *testing.T) {
	data := testBundle(t)
	payload, _ := binaryPayload(t, data)

	ledgerDigest := sha256.Sum256(data)
	ledgerPayload, err := protocol.EncodeBinary(protocol.StorageLedger, 0, ledgerDigest[:], "bGVkZ2VyLWlk")
	require.NoError(t, err)

	// A zip with no manifest whose digest is correctly anchored.
	var noManifest bytes.Buffer
	zw := zip.NewWriter(&noManifest)
	w, err := zw.Create("assets/only.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	noManifestPayload, _ := binaryPayload(t, noManifest.Bytes())

	garbage := []byte("not a zip archive")
	garbagePayload, _ := binaryPayload(t, garbage)

	cases := []struct {
		name   string
		opts   Options
		reason Reason
	}{
		{
			name:   "transaction not found",
			opts:   Options{Chain: &fakeChain{txErr: chain.ErrTxNotFound}},
			reason: ReasonNotFound,
		},
		{
			name: "no anchor output",
			opts: Options{Chain: &fakeChain{tx: &chain.Transaction{
				Vout: []chain.Output{{ScriptPubKeyType: "v0_p2wpkh", ScriptPubKey: "0014aa"}},
			}}},
			reason: ReasonNoAnchor,
		},
		{
			name: "unknown format",
			opts: Options{Chain: &fakeChain{tx: anchorTx(t, []byte(protocol.Marker + "xx"))}},
			reason: ReasonUnknownFormat,
		},
		{
			name: "service bundle unavailable",
			opts: Options{
				Chain:   &fakeChain{tx: anchorTx(t, servicePayload(t, "claude-shannon"))},
				Service: &fakeSource{err: errors.New("upstream down")},
			},
			reason: ReasonBundleUnavailable,
		},
		{
			name: "all gateways failed",
			opts: Options{
				Chain:    &fakeChain{tx: anchorTx(t, payload)},
				Gateways: &fakeGateways{err: errors.New("all hops failed")},
			},
			reason: ReasonAllGatewaysFailed,
		},
		{
			name:   "ledger storage unsupported",
			opts:   Options{Chain: &fakeChain{tx: anchorTx(t, ledgerPayload)}},
			reason: ReasonUnsupportedBackend,
		},
		{
			name: "manifest missing",
			opts: Options{
				Chain:    &fakeChain{tx: anchorTx(t, noManifestPayload)},
				Gateways: &fakeGateways{data: noManifest.Bytes(), endpoint: "g"},
			},
			reason: ReasonManifestMissing,
		},
		{
			name: "corrupt archive",
			opts: Options{
				Chain:    &fakeChain{tx: anchorTx(t, garbagePayload)},
				Gateways: &fakeGateways{data: garbage, endpoint: "g"},
			},
			reason: ReasonCorruptArchive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newVerifier(t, tc.opts).Verify(context.Background(), "a1b2")
			require.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Error(t, res.Err)
			assert.Nil(t, res.Metadata)
		})
	}
}

func TestVerifyGatewayFallback(t *testing.T) {
	data := testBundle(t)
	payload, ref := binaryPayload(t, data)

	stall := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}
	slow1 := httptest.NewServer(http.HandlerFunc(stall))
	defer slow1.Close()
	slow2 := httptest.NewServer(http.HandlerFunc(stall))
	defer slow2.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/%s", ref), r.URL.Path)
		w.Write(data)
	}))
	defer good.Close()

	src := gateway.New(slow1.URL, slow2.URL, good.URL)
	src.AttemptTimeout = 50 * time.Millisecond

	v := newVerifier(t, Options{
		Chain:    &fakeChain{tx: anchorTx(t, payload)},
		Gateways: src,
	})

	res := v.Verify(context.Background(), "a1b2")
	require.Equal(t, StatusVerified, res.Status, "unexpected failure: %v", res.Err)
	assert.Equal(t, good.URL, res.Gateway, "bytes must come from the surviving gateway only")
	assert.Equal(t, res.OnChainDigest, res.Digest)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "Claude Shannon", res.Metadata.Subject.FullName)
}
