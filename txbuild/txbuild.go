// Package txbuild constructs the Bitcoin transactions that anchor EVST1
// payloads.
//
// Two flows exist. The PSBT flow builds an unsigned, fee-correct transaction
// paying the service fee to the treasury and carrying the anchor in an
// OP_RETURN output; the payer's own wallet signs it, custody never moves.
// The custodial flow (custodial.go) spends the operator's wallet to anchor
// without a fee output, signing and broadcasting on its own.
package txbuild

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DustThreshold is the conventional minimum economically spendable output
// value in sats. Change at or below it is left to the miner instead.
const DustThreshold = 546

// DefaultMinerFee is the assumed miner fee in sats for the PSBT flow when
// the request does not pin one.
const DefaultMinerFee = 3000

// UTXO is one spendable output offered by the payer. Values are immutable;
// selection consumes them only by listing them as transaction inputs.
type UTXO struct {
	TxID  string
	Vout  uint32
	Value int64
	// ScriptPubKey is the hex script of the output when the wallet supplied
	// it; empty means "derive from the payer address".
	ScriptPubKey string
}

// BuildRequest describes one anchoring transaction to be signed externally.
type BuildRequest struct {
	PayerAddress    string
	UTXOs           []UTXO
	Payload         []byte // encoded anchor payload (protocol.EncodeBinary / EncodeServiceMode)
	ServiceFeeSats  int64
	TreasuryAddress string
	// MinerFeeSats is the miner fee budgeted into the transaction; <=0
	// selects DefaultMinerFee.
	MinerFeeSats int64
}

// BuildResult is the unsigned artifact plus the arithmetic that produced it.
type BuildResult struct {
	Packet *psbt.Packet
	Base64 string

	TotalInput    int64
	MinerFee      int64
	Change        int64
	ChangeEmitted bool
}

// Builder builds unsigned anchoring transactions for one network.
type Builder struct {
	Params *chaincfg.Params
}

func NewBuilder(params *chaincfg.Params) *Builder {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Builder{Params: params}
}

// BuildUnsigned assembles the transaction:
//
//	output 0: service fee -> treasury
//	output 1: OP_RETURN anchor, value 0
//	output 2: change -> payer, only when above DustThreshold
//
// Inputs are accumulated first-fit in the order given until they cover
// service fee plus miner fee. The service fee MUST be fully covered or the
// build fails with ErrInsufficientFunds; a shortfall against the nominal
// miner fee is tolerated and the leftover above the service fee goes to the
// miner instead of change. The sum of outputs plus the reported miner fee
// equals the sum of selected inputs exactly.
func (b *Builder) BuildUnsigned(req BuildRequest) (*BuildResult, error) {
	if len(req.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}
	if req.ServiceFeeSats <= 0 {
		return nil, fmt.Errorf("txbuild: non-positive service fee %d", req.ServiceFeeSats)
	}
	minerFee := req.MinerFeeSats
	if minerFee <= 0 {
		minerFee = DefaultMinerFee
	}

	payerAddr, err := decodeAddress(req.PayerAddress, b.Params)
	if err != nil {
		return nil, err
	}
	treasuryAddr, err := decodeAddress(req.TreasuryAddress, b.Params)
	if err != nil {
		return nil, err
	}
	payerScript, err := txscript.PayToAddrScript(payerAddr)
	if err != nil {
		return nil, err
	}
	treasuryScript, err := txscript.PayToAddrScript(treasuryAddr)
	if err != nil {
		return nil, err
	}
	anchorScript, err := txscript.NullDataScript(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("txbuild: anchor payload rejected: %w", err)
	}

	// First-fit accumulation in the order given; no optimization.
	target := req.ServiceFeeSats + minerFee
	var selected []UTXO
	var totalInput int64
	for _, u := range req.UTXOs {
		selected = append(selected, u)
		totalInput += u.Value
		if totalInput >= target {
			break
		}
	}
	if totalInput < req.ServiceFeeSats {
		return nil, fmt.Errorf("%w: have %d sats, service fee is %d", ErrInsufficientFunds, totalInput, req.ServiceFeeSats)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	witnessUtxos := make([]*wire.TxOut, 0, len(selected))
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("txbuild: bad utxo txid %q: %w", u.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))

		prevScript := payerScript
		if u.ScriptPubKey != "" {
			prevScript, err = hex.DecodeString(u.ScriptPubKey)
			if err != nil {
				return nil, fmt.Errorf("txbuild: bad utxo script for %s:%d: %w", u.TxID, u.Vout, err)
			}
		}
		witnessUtxos = append(witnessUtxos, wire.NewTxOut(u.Value, prevScript))
	}

	tx.AddTxOut(wire.NewTxOut(req.ServiceFeeSats, treasuryScript))
	tx.AddTxOut(wire.NewTxOut(0, anchorScript))

	change := totalInput - req.ServiceFeeSats - minerFee
	changeEmitted := change > DustThreshold
	if changeEmitted {
		tx.AddTxOut(wire.NewTxOut(change, payerScript))
	} else {
		// Sub-dust or negative change is left to the miner.
		change = 0
		minerFee = totalInput - req.ServiceFeeSats
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	// Witness utxo data lets the signing wallet verify amounts offline.
	for i, out := range witnessUtxos {
		packet.Inputs[i].WitnessUtxo = out
	}

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		Packet:        packet,
		Base64:        b64,
		TotalInput:    totalInput,
		MinerFee:      minerFee,
		Change:        change,
		ChangeEmitted: changeEmitted,
	}, nil
}

func decodeAddress(addr string, params *chaincfg.Params) (btcutil.Address, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	if !a.IsForNet(params) {
		return nil, fmt.Errorf("%w: %q is not a %s address", ErrInvalidAddress, addr, params.Name)
	}
	return a, nil
}
