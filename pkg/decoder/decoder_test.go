package decoder

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20TransferABI = `[{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var burnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

func packTransfer(t *testing.T, to common.Address, amount *big.Int) string {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	require.NoError(t, err)
	data, err := parsed.Pack("transfer", to, amount)
	require.NoError(t, err)
	return hexutil.Encode(data)
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), tokenUnit)
}

func TestDecodeTransfer(t *testing.T) {
	input := packTransfer(t, burnAddress, tokens(5))

	tr, err := DecodeTransfer(input)
	require.NoError(t, err)
	assert.Equal(t, burnAddress, tr.Recipient)
	assert.Equal(t, "5", tr.AmountString())
	assert.Equal(t, tokens(5), tr.RawAmount)
	// transfer(address,uint256)
	assert.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, tr.Selector)
}

func TestDecodeTransfer_Deterministic(t *testing.T) {
	input := packTransfer(t, burnAddress, big.NewInt(123456789))

	a, err := DecodeTransfer(input)
	require.NoError(t, err)
	b, err := DecodeTransfer(input)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeTransfer_TruncatesFraction(t *testing.T) {
	// 7.999... tokens
	raw := new(big.Int).Sub(tokens(8), big.NewInt(1))
	tr, err := DecodeTransfer(packTransfer(t, burnAddress, raw))
	require.NoError(t, err)
	assert.Equal(t, "7", tr.AmountString())

	tr, err = DecodeTransfer(packTransfer(t, burnAddress, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, "0", tr.AmountString())
}

func TestDecodeTransfer_IgnoresSelectorAndTail(t *testing.T) {
	input := packTransfer(t, burnAddress, tokens(42))
	// Swap in an unrelated selector and append a trailing word
	other := "0xdeadbeef" + input[10:] + strings.Repeat("0", 64)

	tr, err := DecodeTransfer(other)
	require.NoError(t, err)
	assert.Equal(t, burnAddress, tr.Recipient)
	assert.Equal(t, "42", tr.AmountString())
	assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, tr.Selector)
}

func TestDecodeTransfer_WithoutPrefix(t *testing.T) {
	input := packTransfer(t, burnAddress, tokens(3))
	tr, err := DecodeTransfer(strings.TrimPrefix(input, "0x"))
	require.NoError(t, err)
	assert.Equal(t, "3", tr.AmountString())
}

func TestDecodeTransfer_ErrorCases(t *testing.T) {
	valid := packTransfer(t, burnAddress, tokens(1))

	cases := map[string]string{
		"empty":       "",
		"selector":    "0xa9059cbb",
		"one slot":    valid[:10+64],
		"short":       valid[:len(valid)-2],
		"invalid hex": "0xa9059cbb" + strings.Repeat("zz", 64),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransfer(input)
			require.Error(t, err)
			var decErr *DecodeError
			assert.True(t, errors.As(err, &decErr))
			assert.Equal(t, input, decErr.Input)
		})
	}
}

func TestDecodeError_Message(t *testing.T) {
	_, err := DecodeTransfer("0x1234")
	assert.Contains(t, err.Error(), "calldata too short")

	_, err = DecodeTransfer("0xa9059cbb" + strings.Repeat("zz", 64))
	assert.Contains(t, err.Error(), "invalid hex")
}

func TestToWholeTokens(t *testing.T) {
	assert.Equal(t, big.NewInt(0), ToWholeTokens(nil))
	assert.Equal(t, big.NewInt(1000), ToWholeTokens(tokens(1000)))
}
