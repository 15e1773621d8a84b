package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xgr-network/xgr-relay/internal/ethrpc"
)

// Backend is the subset of ethclient.Client the relay needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Client bundles the backend with the signing identity and the target contract.
// It is built once per process and passed to every component that talks to the chain.
type Client struct {
	Backend Backend

	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	contract common.Address
	closeFn  func()
}

type DialConfig struct {
	RPCURL     string
	APIKey     string
	PrivateKey string
	Contract   string
}

// NewClient wraps an already connected backend.
func NewClient(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, contract common.Address) *Client {
	return &Client{
		Backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(chainID),
		contract: contract,
		closeFn:  func() {},
	}
}

// Dial connects to the RPC endpoint and resolves the chain id.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	contract, err := ParseAddress(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}

	rc, err := ethrpc.Dial(ctx, cfg.RPCURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	ec := ethclient.NewClient(rc)

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()

		return nil, fmt.Errorf("resolve chain id: %w", err)
	}

	c := NewClient(ec, key, chainID, contract)
	c.closeFn = ec.Close

	return c, nil
}

func (c *Client) From() common.Address     { return c.from }
func (c *Client) Contract() common.Address { return c.contract }
func (c *Client) ChainID() *big.Int        { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() {
	c.closeFn()
}

// ParsePrivateKey accepts hex with or without 0x.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if clean == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return key, nil
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}

	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}

	return addr, nil
}
