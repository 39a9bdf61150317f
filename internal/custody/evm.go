package custody

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

var (
	transferSelector     = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	transferFromSelector = crypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]

	errReverted      = errors.New("transaction reverted")
	errFalseReturned = errors.New("token returned false")
	errPending       = errors.New("transaction still pending")
	errWrongTarget   = errors.New("transaction not sent to custody")
	errWrongValue    = errors.New("transaction value does not match amount")
	errWrongSender   = errors.New("transaction not sent by holder")
)

// Backend is the subset of an RPC client the EVM custody needs. *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	ethereum.TransactionReader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ClaimStore records consumed native attachment references.
type ClaimStore interface {
	// Claim returns false when ref was already claimed.
	Claim(ctx context.Context, ref string) (bool, error)
}

// DefaultConfirmTimeout bounds how long a broadcast transaction is awaited.
const DefaultConfirmTimeout = 2 * time.Minute

// EVM performs custody transfers with transactions signed by the custody key.
type EVM struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	claims         ClaimStore
	pollInterval   time.Duration
	confirmTimeout time.Duration

	mu sync.Mutex
}

// EVMOption tunes an EVM custody.
type EVMOption func(*EVM)

// WithConfirmTimeout sets how long to wait for a receipt after broadcasting.
func WithConfirmTimeout(d time.Duration) EVMOption {
	return func(e *EVM) {
		if d > 0 {
			e.confirmTimeout = d
		}
	}
}

// NewEVM resolves the chain id and builds an EVM custody for key.
func NewEVM(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, claims ClaimStore, opts ...EVMOption) (*EVM, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	e := &EVM{
		backend:        backend,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		claims:         claims,
		pollInterval:   time.Second,
		confirmTimeout: DefaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Address returns the custody account.
func (e *EVM) Address() common.Address { return e.address }

// Pull calls transferFrom(holder, custody, amount) on the token.
func (e *EVM) Pull(ctx context.Context, holder, tokenAddr common.Address, amount *big.Int) (Receipt, error) {
	data := erc20Call(transferFromSelector, holder, e.address, amount)
	hash, err := e.execute(ctx, tokenAddr, nil, data, true)
	return outcome(holder, asset.Token(tokenAddr), amount, hash, err)
}

// Release sends native value or calls transfer(holder, amount) on the token.
func (e *EVM) Release(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) (Receipt, error) {
	var (
		hash common.Hash
		err  error
	)
	if tokenAddr, ok := id.TokenAddress(); ok {
		hash, err = e.execute(ctx, tokenAddr, nil, erc20Call(transferSelector, holder, amount), true)
	} else {
		hash, err = e.execute(ctx, holder, amount, nil, false)
	}
	return outcome(holder, id, amount, hash, err)
}

// outcome classifies an execute result. A hash returned with an error means
// the transaction was broadcast and its fate is unknown.
func outcome(target common.Address, id asset.ID, amount *big.Int, hash common.Hash, err error) (Receipt, error) {
	switch {
	case err == nil:
		return Receipt{Reference: hash.Hex()}, nil
	case hash != (common.Hash{}):
		return Receipt{}, unconfirmed(target, id, amount, hash.Hex(), err)
	default:
		return Receipt{}, failed(target, id, amount, err)
	}
}

// ClaimNative verifies that ref is a mined transaction from holder carrying
// exactly amount to the custody account, and that it was not claimed before.
func (e *EVM) ClaimNative(ctx context.Context, holder common.Address, amount *big.Int, ref string) (Receipt, error) {
	id := asset.Native()
	hash := common.HexToHash(ref)

	tx, pending, err := e.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return Receipt{}, failed(holder, id, amount, fmt.Errorf("lookup %s: %w", ref, err))
	}
	if pending {
		return Receipt{}, failed(holder, id, amount, errPending)
	}
	receipt, err := e.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return Receipt{}, failed(holder, id, amount, fmt.Errorf("receipt %s: %w", ref, err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, failed(holder, id, amount, errReverted)
	}
	if tx.To() == nil || *tx.To() != e.address {
		return Receipt{}, failed(holder, id, amount, errWrongTarget)
	}
	if tx.Value().Cmp(amount) != 0 {
		return Receipt{}, failed(holder, id, amount, errWrongValue)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx)
	if err != nil || sender != holder {
		return Receipt{}, failed(holder, id, amount, errWrongSender)
	}

	ok, err := e.claims.Claim(ctx, hash.Hex())
	if err != nil {
		return Receipt{}, fmt.Errorf("record claim: %w", err)
	}
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrAlreadyClaimed, hash.Hex())
	}
	return Receipt{Reference: hash.Hex()}, nil
}

func (e *EVM) execute(ctx context.Context, to common.Address, value *big.Int, data []byte, tokenCall bool) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: e.address, To: &to, Value: value, Data: data}

	if tokenCall {
		out, err := e.backend.CallContract(ctx, msg, nil)
		if err != nil {
			return common.Hash{}, fmt.Errorf("simulate: %w", err)
		}
		if err := checkReturn(out); err != nil {
			return common.Hash{}, err
		}
	}

	signed, err := e.send(ctx, msg)
	if err != nil {
		return common.Hash{}, err
	}

	receipt, err := e.waitMined(ctx, signed.Hash())
	if err != nil {
		return signed.Hash(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, errReverted
	}
	return signed.Hash(), nil
}

// send signs and broadcasts msg. The nonce lock is held only until the
// transaction is handed to the node.
func (e *EVM) send(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.address)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := e.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, To: msg.To, Value: msg.Value, Gas: gas, GasPrice: gasPrice, Data: msg.Data})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

// waitMined polls for the receipt of hash until confirmTimeout. RPC errors
// are retried; the last one is reported if the deadline passes.
func (e *EVM) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("receipt: %w", lastErr)
			}
			return nil, fmt.Errorf("receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func erc20Call(selector []byte, args ...any) []byte {
	buf := bytes.NewBuffer(append([]byte(nil), selector...))
	for _, arg := range args {
		switch v := arg.(type) {
		case common.Address:
			buf.Write(common.LeftPadBytes(v.Bytes(), 32))
		case *big.Int:
			buf.Write(common.LeftPadBytes(v.Bytes(), 32))
		}
	}
	return buf.Bytes()
}

// checkReturn accepts tokens that return nothing or a true bool.
func checkReturn(out []byte) error {
	if len(out) == 0 {
		return nil
	}
	if len(out) != 32 || new(big.Int).SetBytes(out).Sign() == 0 {
		return errFalseReturned
	}
	return nil
}
