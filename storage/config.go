package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config describes the retrieval sources a verifier uses.
//
// Example:
//
//	{
//	  "gateways": ["https://ipfs.io/ipfs/", "https://gateway.pinata.cloud/ipfs/"],
//	  "service_url": "https://everstone.example/api/memorials",
//	  "grpc_target": "records.internal:7443"
//	}
//
// Gateways are tried in slice order; callers MUST supply a fixed order so
// retrieval provenance stays deterministic.
type Config struct {
	Gateways   []string `json:"gateways"`
	ServiceURL string   `json:"service_url,omitempty"`
	GRPCTarget string   `json:"grpc_target,omitempty"`
}

// LoadConfigFile reads and validates a JSON source config.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("storage: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Gateways) == 0 && c.ServiceURL == "" && c.GRPCTarget == "" {
		return errors.New("storage: at least one source is required")
	}
	seen := make(map[string]struct{}, len(c.Gateways))
	for _, g := range c.Gateways {
		if !strings.HasPrefix(g, "http://") && !strings.HasPrefix(g, "https://") {
			return fmt.Errorf("storage: gateway %q is not an http(s) URL", g)
		}
		if _, ok := seen[g]; ok {
			return fmt.Errorf("storage: duplicate gateway %q", g)
		}
		seen[g] = struct{}{}
	}
	return nil
}
