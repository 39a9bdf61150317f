package infra

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// NewEthClient dials an EVM JSON-RPC endpoint and verifies it answers.
func NewEthClient(ctx context.Context, url string) (*ethclient.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("eth rpc url is required")
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}

	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	return client, nil
}
