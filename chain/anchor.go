package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"everstone.io/anchor/protocol"
)

// LocateAnchorOutput scans a transaction's outputs for the data-carrier
// output and extracts the EVST1 payload bytes from its script.
//
// The marker is searched inside the script rather than assumed at a fixed
// offset, because the push opcode prefix varies with payload length.
func LocateAnchorOutput(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, ErrNoAnchorOutput
	}

	marker := []byte(protocol.Marker)
	found := false
	for _, out := range tx.Vout {
		if !isDataCarrier(out) {
			continue
		}
		found = true

		script, err := hex.DecodeString(out.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("chain: undecodable output script: %w", err)
		}
		if idx := bytes.Index(script, marker); idx >= 0 {
			return script[idx:], nil
		}
	}

	if found {
		return nil, ErrMarkerMissing
	}
	return nil, ErrNoAnchorOutput
}

func isDataCarrier(out Output) bool {
	if out.ScriptPubKeyType == "op_return" {
		return true
	}
	return strings.HasPrefix(out.ScriptPubKey, "6a")
}
