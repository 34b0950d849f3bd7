package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
)

// GasToken is the native asset used for all prize transfers.
const GasToken = "0xd2a4cff31913016155e38e474a2c06d08be276cf"

// ValidateAddress checks that addr decodes as a valid script-hash address.
// Invalid winner wallets fail here instead of burning a transfer attempt.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, err := address.StringToUint160(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

// GetBalance returns the spendable native-asset balance of an address.
func (c *Client) GetBalance(ctx context.Context, addr string) (float64, error) {
	if err := ValidateAddress(addr); err != nil {
		return 0, err
	}

	result, err := c.Call(ctx, "getbalance", []interface{}{GasToken, addr})
	if err != nil {
		return 0, fmt.Errorf("getbalance: %w", err)
	}

	var payload struct {
		Balance float64 `json:"balance,string"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return payload.Balance, nil
}

// Send transfers amount from one wallet to another and returns the
// transaction hash. The node may still fail the transaction after
// submission; callers must treat only a returned hash as a reference,
// never as final confirmation.
func (c *Client) Send(ctx context.Context, from, to string, amount float64) (string, error) {
	if err := ValidateAddress(from); err != nil {
		return "", fmt.Errorf("from: %w", err)
	}
	if err := ValidateAddress(to); err != nil {
		return "", fmt.Errorf("to: %w", err)
	}
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive, got %v", amount)
	}

	result, err := c.Call(ctx, "sendfrom", []interface{}{GasToken, from, to, amount})
	if err != nil {
		return "", fmt.Errorf("sendfrom: %w", err)
	}

	var payload struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", fmt.Errorf("parse transfer result: %w", err)
	}
	if payload.Hash == "" {
		return "", fmt.Errorf("node returned no transaction hash")
	}
	return payload.Hash, nil
}
