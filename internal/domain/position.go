package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HolderPosition is a holder's token balance for a single agent. Rows are
// created lazily on first buy and never physically deleted; a zero balance is
// a valid terminal state.
type HolderPosition struct {
	AgentID       string
	HolderAddress string
	TokenBalance  float64
	UpdatedAt     time.Time
}

// NormalizeAddress validates a hex wallet address and returns its canonical
// lowercase form, which is used as the storage key for positions and reward
// accruals.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}
