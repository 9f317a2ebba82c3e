package decoder

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	selectorLen = 4
	slotLen     = 32

	// MinCalldataLen is the byte length of a selector followed by two argument slots.
	MinCalldataLen = selectorLen + 2*slotLen
)

// tokenUnit is 10^18. Every supported token uses 18 decimals.
var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DecodeError reports calldata that cannot be read as a transfer(address,uint256) call.
type DecodeError struct {
	Input  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode calldata: %s: %v", e.Reason, e.Err)
	}
	return "decode calldata: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Transfer is the argument pair of an ERC20 transfer call.
type Transfer struct {
	Selector  [4]byte
	Recipient common.Address
	RawAmount *big.Int // Base units
	Amount    *big.Int // Whole tokens, truncated
}

// AmountString renders the whole-token amount.
func (t *Transfer) AmountString() string {
	return t.Amount.String()
}

// DecodeTransfer reads transfer(address,uint256) calldata.
// The selector is skipped without being checked, so calldata for any other
// method with the same head layout is read the same way.
func DecodeTransfer(input string) (*Transfer, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(input), "0x"), "0X")
	if len(raw) < MinCalldataLen*2 {
		return nil, &DecodeError{
			Input:  input,
			Reason: fmt.Sprintf("calldata too short: got %d hex chars, need %d", len(raw), MinCalldataLen*2),
		}
	}

	// Only the selector and the two head slots are read; any tail is ignored.
	data, err := hex.DecodeString(raw[:MinCalldataLen*2])
	if err != nil {
		return nil, &DecodeError{Input: input, Reason: "invalid hex", Err: err}
	}

	t := &Transfer{}
	copy(t.Selector[:], data[:selectorLen])

	// 1. Recipient: low 20 bytes of the first slot
	first := data[selectorLen : selectorLen+slotLen]
	t.Recipient = common.BytesToAddress(first[slotLen-common.AddressLength:])

	// 2. Amount: second slot as big-endian uint256
	second := data[selectorLen+slotLen : selectorLen+2*slotLen]
	t.RawAmount = new(big.Int).SetBytes(second)
	t.Amount = ToWholeTokens(t.RawAmount)

	return t, nil
}

// ToWholeTokens truncates an 18-decimal base-unit amount to whole tokens.
func ToWholeTokens(baseUnits *big.Int) *big.Int {
	if baseUnits == nil {
		return new(big.Int)
	}
	return new(big.Int).Quo(baseUnits, tokenUnit)
}
