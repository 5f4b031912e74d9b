// Package eth wraps the go-ethereum client with the narrow surface the
// backend needs: contract log streaming, block timestamps, and the
// contract's per-order cumulative-fill accessor.
package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// ClientConfig holds connection parameters for the chain client.
type ClientConfig struct {
	// RPCURL is the node endpoint. Live log subscription requires a ws://
	// or wss:// endpoint; http endpoints still support backfill and calls.
	RPCURL string

	// ContractAddress is the exchange contract emitting the events.
	ContractAddress string
}

// Client implements domain.ChainClient and provides log access for the
// ingest pipeline.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
}

// Dial connects to the node and verifies the endpoint responds.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("eth: invalid contract address %q", cfg.ContractAddress)
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:      ec,
		contract: common.HexToAddress(cfg.ContractAddress),
	}

	if _, err := c.eth.ChainID(ctx); err != nil {
		ec.Close()
		return nil, fmt.Errorf("eth: chain id: %w", err)
	}

	return c, nil
}

// Contract returns the exchange contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockTimestamp returns the timestamp of the given block.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("eth: header %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// LatestBlockTimestamp returns the timestamp of the chain head.
func (c *Client) LatestBlockTimestamp(ctx context.Context) (time.Time, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("eth: latest header: %w", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// LatestBlockNumber returns the chain head number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth: block number: %w", err)
	}
	return n, nil
}

// OrderFills calls the contract's orderFills accessor for (maker, order
// hash) against the latest block and returns the cumulative filled amount.
func (c *Client) OrderFills(ctx context.Context, maker common.Address, orderHash common.Hash) (*big.Int, error) {
	data, err := ExchangeABI.Pack("orderFills", maker, orderHash)
	if err != nil {
		return nil, fmt.Errorf("eth: pack orderFills: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth: call orderFills: %w", err)
	}

	results, err := ExchangeABI.Unpack("orderFills", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("eth: unpack orderFills: %w", err)
	}
	fill, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("eth: unpack orderFills: unexpected type %T", results[0])
	}
	return fill, nil
}

// FilterLogs returns the contract's logs in [from, to], inclusive. Used by
// the backfill phase.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eth: filter logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// SubscribeLogs opens a live subscription for the contract's logs.
func (c *Client) SubscribeLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
	}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, sink)
	if err != nil {
		return nil, fmt.Errorf("eth: subscribe logs: %w", err)
	}
	return sub, nil
}

// Compile-time interface check.
var _ domain.ChainClient = (*Client)(nil)
