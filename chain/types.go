package chain

// Transaction is an explorer-indexed transaction, confirmed or not.
type Transaction struct {
	TxID     string   `json:"txid"`
	Version  int32    `json:"version"`
	Locktime uint32   `json:"locktime"`
	Vin      []Input  `json:"vin"`
	Vout     []Output `json:"vout"`
	Size     int      `json:"size"`
	Weight   int      `json:"weight"`
	Fee      int64    `json:"fee"`
	Status   Status   `json:"status"`
}

type Input struct {
	TxID    string  `json:"txid"`
	Vout    uint32  `json:"vout"`
	Prevout *Output `json:"prevout,omitempty"`
}

type Output struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	Address          string `json:"scriptpubkey_address,omitempty"`
	Value            int64  `json:"value"`
}

// Status carries confirmation state. BlockHeight and BlockTime are only
// meaningful when Confirmed is true.
type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// UTXO is a spendable output owned by some address. Values are read-only
// snapshots of the index; selection never mutates them.
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
	Status Status `json:"status"`
}

// Block is explorer block metadata.
type Block struct {
	ID        string `json:"id"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	TxCount   int    `json:"tx_count"`
}
