package token

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/84hero/burn-notifier/pkg/rpc"
)

// ERC20BalanceABI is the balanceOf fragment of the ERC20 ABI.
const ERC20BalanceABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI = mustParseABI(ERC20BalanceABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BalanceReader reads the token balance held by one fixed holder.
type BalanceReader struct {
	client   rpc.Client
	contract common.Address
	holder   common.Address
}

// NewBalanceReader creates a reader for holder's balance of the token at contract.
func NewBalanceReader(client rpc.Client, contract, holder common.Address) *BalanceReader {
	return &BalanceReader{
		client:   client,
		contract: contract,
		holder:   holder,
	}
}

// Contract returns the token contract address.
func (r *BalanceReader) Contract() common.Address { return r.contract }

// Holder returns the address whose balance is read.
func (r *BalanceReader) Holder() common.Address { return r.holder }

// BurnedBalance returns the holder's balance at the latest block, in base units.
func (r *BalanceReader) BurnedBalance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", r.holder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf data")
	}

	to := r.contract
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call balanceOf")
	}

	if len(result) == 0 {
		return nil, errors.New("empty result from balanceOf call")
	}

	values, err := erc20ABI.Unpack("balanceOf", result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack balanceOf result")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected balanceOf result type %T", values[0])
	}

	return balance, nil
}
