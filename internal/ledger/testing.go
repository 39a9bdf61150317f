package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

// SeedBalance is a test helper that seeds a holder balance and the USD total when
// using the in-memory ledger. Counters and the journal are left untouched.
func SeedBalance(l Ledger, holder common.Address, id asset.ID, amount, usd *big.Int) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[balanceKey{holder: holder, asset: id}] = new(big.Int).Set(amount)
		mem.totalUSD = new(big.Int).Add(mem.totalUSD, usd)
	}
}
