// Package curve implements the linear bonding-curve pricing math. All
// functions are pure: quotes depend only on the curve parameters, the current
// shares sold, and the requested amount, so identical inputs always produce
// identical outputs.
package curve

import (
	"fmt"
	"math"

	"github.com/promptfun/launchpad/internal/domain"
)

// flatSlopeEpsilon is the threshold under which the curve is treated as flat
// and the quadratic solve is replaced by simple division, avoiding a
// division by a near-zero coefficient.
const flatSlopeEpsilon = 1e-18

// Params are the immutable pricing parameters of one agent's curve. Price is
// linear in shares sold: price(sold) = P0 + (P1-P0) * sold / Cap.
type Params struct {
	P0  float64
	P1  float64
	Cap float64
}

// Validate checks the structural constraints on the curve parameters.
func (p Params) Validate() error {
	if p.Cap <= 0 {
		return fmt.Errorf("curve: cap must be positive, got %v", p.Cap)
	}
	if p.P0 <= 0 || p.P1 <= 0 {
		return fmt.Errorf("curve: endpoint prices must be positive, got p0=%v p1=%v", p.P0, p.P1)
	}
	if p.P0 >= p.P1 {
		return fmt.Errorf("curve: p0 must be below p1, got p0=%v p1=%v", p.P0, p.P1)
	}
	return nil
}

// Price returns the spot price at the given cumulative shares sold.
func (p Params) Price(sold float64) float64 {
	return p.P0 + (p.P1-p.P0)*sold/p.Cap
}

func (p Params) slope() float64 {
	return (p.P1 - p.P0) / p.Cap
}

// BuyQuote is the result of pricing a buy. NetCost is the portion of the net
// proceeds actually consumed by the curve; it is below the requested net only
// when the buy is clamped at the tradeable cap.
type BuyQuote struct {
	SharesOut   float64
	NetCost     float64
	PriceBefore float64
	PriceAfter  float64
}

// QuoteBuy prices a buy of netProceeds (prompt after the trading fee) at the
// given shares sold. It solves a*x^2 + b*x + c = 0 with a = slope/2,
// b = price(sold), c = -netProceeds and takes the positive root; a flat curve
// falls back to netProceeds / price. The purchase is clamped so that
// sold + shares never exceeds the cap, with SharesOut and NetCost recomputed
// consistently with the clamp.
func (p Params) QuoteBuy(sold, netProceeds float64) (BuyQuote, error) {
	if err := p.Validate(); err != nil {
		return BuyQuote{}, err
	}
	if netProceeds <= 0 {
		return BuyQuote{}, fmt.Errorf("%w: net proceeds must be positive", domain.ErrInvalidTrade)
	}
	if sold < 0 || sold > p.Cap {
		return BuyQuote{}, fmt.Errorf("%w: shares sold %v outside [0, %v]", domain.ErrInvalidTrade, sold, p.Cap)
	}
	if sold == p.Cap {
		return BuyQuote{}, fmt.Errorf("%w: curve sold out", domain.ErrCapacityExceeded)
	}

	priceBefore := p.Price(sold)
	slope := p.slope()

	var shares float64
	if slope < flatSlopeEpsilon {
		shares = netProceeds / priceBefore
	} else {
		a := slope / 2
		b := priceBefore
		c := -netProceeds
		disc := b*b - 4*a*c
		if disc < 0 {
			// Cannot happen for positive inputs on a rising curve; treat as
			// an internal invariant violation rather than user error.
			return BuyQuote{}, fmt.Errorf("%w: negative discriminant (sold=%v net=%v)", domain.ErrInvalidTrade, sold, netProceeds)
		}
		shares = (-b + math.Sqrt(disc)) / (2 * a)
	}

	netCost := netProceeds
	if sold+shares > p.Cap {
		shares = p.Cap - sold
		netCost = p.segmentValue(sold, sold+shares)
	}

	return BuyQuote{
		SharesOut:   shares,
		NetCost:     netCost,
		PriceBefore: priceBefore,
		PriceAfter:  p.Price(sold + shares),
	}, nil
}

// SellQuote is the result of pricing a sell. GrossProceeds is the curve area
// released; the trading fee is deducted from it by the caller.
type SellQuote struct {
	GrossProceeds float64
	PriceBefore   float64
	PriceAfter    float64
}

// QuoteSell prices a sell of sharesIn at the given shares sold. Proceeds are
// the trapezoidal area under the price line between sold-sharesIn and sold,
// which for a linear curve is the exact integral and therefore the exact
// inverse of the buy-side solve: a buy immediately sold back returns the same
// gross, with only the two fee deductions separating input from output.
func (p Params) QuoteSell(sold, sharesIn float64) (SellQuote, error) {
	if err := p.Validate(); err != nil {
		return SellQuote{}, err
	}
	if sharesIn <= 0 {
		return SellQuote{}, fmt.Errorf("%w: shares must be positive", domain.ErrInvalidTrade)
	}
	if sharesIn > sold {
		return SellQuote{}, fmt.Errorf("%w: selling %v with only %v sold", domain.ErrInsufficientSupply, sharesIn, sold)
	}

	return SellQuote{
		GrossProceeds: p.segmentValue(sold-sharesIn, sold),
		PriceBefore:   p.Price(sold),
		PriceAfter:    p.Price(sold - sharesIn),
	}, nil
}

// segmentValue is the area under the price line between lo and hi shares
// sold: the average of the endpoint prices times the quantity.
func (p Params) segmentValue(lo, hi float64) float64 {
	return (p.Price(lo) + p.Price(hi)) / 2 * (hi - lo)
}
