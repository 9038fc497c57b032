package txbuild

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"everstone.io/anchor/chain"
	"everstone.io/anchor/protocol"
	"everstone.io/anchor/treasury"
)

// CustodialMinerFee is the fixed miner fee in sats for custodial anchor
// transactions. They are small (one or two inputs, OP_RETURN, change), so a
// fixed budget keeps the flow simple.
const CustodialMinerFee = 2000

// ChainIndex is the slice of the explorer client the custodial flow needs.
type ChainIndex interface {
	AddressUTXOs(ctx context.Context, address string) ([]chain.UTXO, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Custodian anchors references by spending the operator's own wallet.
//
// All spends are serialized through an internal mutex: two concurrent builds
// over the same wallet would select the same unconfirmed outputs and
// double-spend each other.
type Custodian struct {
	mu sync.Mutex

	key   *treasury.Key
	index ChainIndex
	log   zerolog.Logger

	addrScript []byte
}

// NewCustodian wires a custodian. A nil key fails with ErrNoCustodialKey:
// the custodial path is unavailable without it, never mocked.
func NewCustodian(key *treasury.Key, index ChainIndex, log zerolog.Logger) (*Custodian, error) {
	if key == nil {
		return nil, ErrNoCustodialKey
	}
	if index == nil {
		return nil, fmt.Errorf("txbuild: nil chain index")
	}
	script, err := txscript.PayToAddrScript(key.Address)
	if err != nil {
		return nil, err
	}
	return &Custodian{key: key, index: index, log: log, addrScript: script}, nil
}

// Address returns the custodial wallet address.
func (c *Custodian) Address() string {
	return c.key.Address.EncodeAddress()
}

// AnchorReference builds, signs and broadcasts a service-mode anchor for a
// record reference, returning the txid. The transaction carries only the
// OP_RETURN output and change; no treasury fee output, the custodial flow
// anchors on the operator's own dime.
func (c *Custodian) AnchorReference(ctx context.Context, reference string) (string, error) {
	payload, err := protocol.EncodeServiceMode(reference)
	if err != nil {
		return "", err
	}
	return c.AnchorPayload(ctx, payload)
}

// AnchorPayload is AnchorReference for an already-encoded payload.
func (c *Custodian) AnchorPayload(ctx context.Context, payload []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := c.Address()
	utxos, err := c.index.AddressUTXOs(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("txbuild: fetching custodial utxos: %w", err)
	}
	if len(utxos) == 0 {
		return "", fmt.Errorf("%w: wallet %s is empty", ErrTreasuryExhausted, addr)
	}

	// Greedy selection: stop as soon as fee plus a dust-sized change is
	// covered.
	var selected []chain.UTXO
	var totalInput int64
	for _, u := range utxos {
		selected = append(selected, u)
		totalInput += u.Value
		if totalInput > CustodialMinerFee+DustThreshold {
			break
		}
	}
	if totalInput < CustodialMinerFee {
		return "", fmt.Errorf("%w: have %d sats, miner fee floor is %d", ErrTreasuryExhausted, totalInput, CustodialMinerFee)
	}

	anchorScript, err := txscript.NullDataScript(payload)
	if err != nil {
		return "", fmt.Errorf("txbuild: anchor payload rejected: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return "", fmt.Errorf("txbuild: bad utxo txid %q: %w", u.TxID, err)
		}
		op := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts[*op] = wire.NewTxOut(u.Value, c.addrScript)
	}

	tx.AddTxOut(wire.NewTxOut(0, anchorScript))
	change := totalInput - CustodialMinerFee
	if change > DustThreshold {
		tx.AddTxOut(wire.NewTxOut(change, c.addrScript))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prev := prevOuts[in.PreviousOutPoint]
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, prev.Value, prev.PkScript,
			txscript.SigHashAll, c.key.WIF.PrivKey, true)
		if err != nil {
			return "", fmt.Errorf("txbuild: signing input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	rawHex := hex.EncodeToString(buf.Bytes())

	txid, err := c.index.Broadcast(ctx, rawHex)
	if err != nil {
		// Surfaced, not retried: the caller decides whether to try again.
		return "", err
	}
	c.log.Info().
		Str("txid", txid).
		Str("address", addr).
		Int64("input_sats", totalInput).
		Int("inputs", len(selected)).
		Msg("anchor broadcast")
	return txid, nil
}
