// Package fees computes the trading fee and its deterministic split among the
// creator, protocol-vault, and liquidity-treasury beneficiaries. Arithmetic
// uses shopspring/decimal with floor rounding so accumulated rounding error
// always favors the protocol.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// amountScale is the decimal precision of prompt amounts.
const amountScale = 9

const bpsDenominator = 10_000

// Split is one trade's fee divided among the beneficiaries. The treasury
// absorbs the floor-rounding remainder so the three shares always sum to the
// full fee.
type Split struct {
	Creator  float64
	Vault    float64
	Treasury float64
}

// Policy holds the deployment-wide fee parameters, loaded once at startup and
// immutable thereafter.
type Policy struct {
	feeBps      decimal.Decimal
	creatorPct  decimal.Decimal
	vaultPct    decimal.Decimal
	treasuryPct decimal.Decimal
}

// NewPolicy validates and builds a fee policy. The split percentages must sum
// to exactly 100.
func NewPolicy(feeBps, creatorPct, vaultPct, treasuryPct int) (*Policy, error) {
	if feeBps < 0 || feeBps >= bpsDenominator {
		return nil, fmt.Errorf("fees: fee_bps must be in [0, %d), got %d", bpsDenominator, feeBps)
	}
	if creatorPct < 0 || vaultPct < 0 || treasuryPct < 0 {
		return nil, fmt.Errorf("fees: split percentages must be non-negative")
	}
	if creatorPct+vaultPct+treasuryPct != 100 {
		return nil, fmt.Errorf("fees: split percentages must sum to 100, got %d/%d/%d",
			creatorPct, vaultPct, treasuryPct)
	}
	return &Policy{
		feeBps:      decimal.NewFromInt(int64(feeBps)),
		creatorPct:  decimal.NewFromInt(int64(creatorPct)),
		vaultPct:    decimal.NewFromInt(int64(vaultPct)),
		treasuryPct: decimal.NewFromInt(int64(treasuryPct)),
	}, nil
}

// Fee returns the trading fee on gross: gross * fee_bps / 10000, floored to
// the amount scale.
func (p *Policy) Fee(gross float64) float64 {
	fee := decimal.NewFromFloat(gross).
		Mul(p.feeBps).
		Div(decimal.NewFromInt(bpsDenominator)).
		RoundFloor(amountScale)
	return fee.InexactFloat64()
}

// GrossFromNet inverts Fee: given the net proceeds actually consumed by the
// curve, it returns the gross input to charge and the fee component, with the
// fee rounded up so partial fills never undercharge.
func (p *Policy) GrossFromNet(net float64) (gross, fee float64) {
	netD := decimal.NewFromFloat(net)
	denom := decimal.NewFromInt(bpsDenominator).Sub(p.feeBps)
	grossD := netD.Mul(decimal.NewFromInt(bpsDenominator)).Div(denom).RoundCeil(amountScale)
	feeD := grossD.Sub(netD)
	return grossD.InexactFloat64(), feeD.InexactFloat64()
}

// SplitFee divides a fee among the beneficiaries. Creator and vault shares
// are floored; the treasury receives the exact remainder.
func (p *Policy) SplitFee(fee float64) Split {
	feeD := decimal.NewFromFloat(fee)
	hundred := decimal.NewFromInt(100)

	creator := feeD.Mul(p.creatorPct).Div(hundred).RoundFloor(amountScale)
	vault := feeD.Mul(p.vaultPct).Div(hundred).RoundFloor(amountScale)
	treasury := feeD.Sub(creator).Sub(vault)

	return Split{
		Creator:  creator.InexactFloat64(),
		Vault:    vault.InexactFloat64(),
		Treasury: treasury.InexactFloat64(),
	}
}
