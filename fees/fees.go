// Package fees estimates miner-fee rates and anchoring transaction costs.
//
// Estimates here are advisory, for budgeting and UI display; the transaction
// builder does its own fee arithmetic.
package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the public mempool.space recommended-fees endpoint.
const DefaultEndpoint = "https://mempool.space/api/v1/fees/recommended"

// AssumedVSize is the assumed virtual size of a standard anchoring
// transaction (a handful of inputs, fee output, OP_RETURN, change).
const AssumedVSize = 250

// Tiers are fee-rate tiers in sat/vB, fastest first.
type Tiers struct {
	Fastest  int64 `json:"fastestFee"`
	HalfHour int64 `json:"halfHourFee"`
	Hour     int64 `json:"hourFee"`
	Economy  int64 `json:"economyFee"`
	Minimum  int64 `json:"minimumFee"`
}

// FallbackTiers is returned when the fee index is unreachable. Conservative
// enough to confirm, cheap enough not to overpay badly.
var FallbackTiers = Tiers{Fastest: 30, HalfHour: 20, Hour: 10, Economy: 5, Minimum: 1}

// Costs are estimated total costs in sats for one anchoring transaction.
type Costs struct {
	Fastest  int64
	Fast     int64
	Standard int64
}

// Client fetches current fee tiers.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

func New() *Client {
	return &Client{Endpoint: DefaultEndpoint, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Tiers returns the current network tiers, or FallbackTiers on any transport
// or decode failure. Fee estimation is advisory, so the caller never sees an
// error here.
func (c *Client) Tiers(ctx context.Context) Tiers {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FallbackTiers
	}
	resp, err := client.Do(req)
	if err != nil {
		return FallbackTiers
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FallbackTiers
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FallbackTiers
	}
	var t Tiers
	if err := json.Unmarshal(body, &t); err != nil || t.Minimum <= 0 {
		return FallbackTiers
	}
	return t
}

// EstimateCost converts tiers into total sats for a transaction of vsize
// virtual bytes; vsize <= 0 selects AssumedVSize.
func EstimateCost(t Tiers, vsize int64) Costs {
	if vsize <= 0 {
		vsize = AssumedVSize
	}
	return Costs{
		Fastest:  t.Fastest * vsize,
		Fast:     t.HalfHour * vsize,
		Standard: t.Hour * vsize,
	}
}

// String renders tiers for log or CLI output.
func (t Tiers) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fastest %d, half-hour %d, hour %d, economy %d, minimum %d sat/vB",
		t.Fastest, t.HalfHour, t.Hour, t.Economy, t.Minimum)
	return b.String()
}
