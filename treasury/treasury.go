// Package treasury loads the custodial signing key.
//
// The key is a single wallet-import-format (WIF) secret for one P2WPKH
// address. Absence of the key makes the custodial anchoring path
// unavailable; nothing here ever fabricates a stand-in.
package treasury

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "EVERSTONE_TREASURY_WIF"

// ErrNoKey means no custodial key is configured anywhere.
var ErrNoKey = errors.New("treasury: no custodial key configured")

// Key is a loaded custodial key with its derived address.
type Key struct {
	WIF     *btcutil.WIF
	Address btcutil.Address
	Params  *chaincfg.Params
}

// DefaultKeyPath is where LoadDefault looks when the environment variable
// is unset.
func DefaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".everstone", "treasury.key"), nil
}

// Load resolves the key from the environment variable, then the default key
// file. ErrNoKey when neither is present.
func Load(params *chaincfg.Params) (*Key, error) {
	if s := os.Getenv(EnvVar); s != "" {
		return FromWIF(s, params)
	}
	path, err := DefaultKeyPath()
	if err != nil {
		return nil, err
	}
	k, err := LoadFile(path, params)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoKey
	}
	return k, err
}

// LoadFile reads a WIF key file. The file must not be group or world
// readable.
func LoadFile(path string, params *chaincfg.Params) (*Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("treasury: key file %s is readable by others (mode %v)", path, info.Mode().Perm())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromWIF(strings.TrimSpace(string(b)), params)
}

// FromWIF parses a WIF string and derives the custodial P2WPKH address.
func FromWIF(s string, params *chaincfg.Params) (*Key, error) {
	if s == "" {
		return nil, ErrNoKey
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, fmt.Errorf("treasury: malformed WIF: %w", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("treasury: key is not for network %s", params.Name)
	}
	if !wif.CompressPubKey {
		return nil, errors.New("treasury: uncompressed keys cannot derive a P2WPKH address")
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), params)
	if err != nil {
		return nil, err
	}
	return &Key{WIF: wif, Address: addr, Params: params}, nil
}
