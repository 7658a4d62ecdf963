package main

import (
	"fmt"

	"github.com/defistate/defistate-mutator/cmd/mutatord/config"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	"github.com/holiman/uint256"
)

// seedGenesis mints the configured holdings into the ledger and registers the
// configured collections as the admin. It runs once per store.
func seedGenesis(cfg *config.MutatorConfig, book *ledger.Book, eng *mutator.Engine) error {
	for _, h := range cfg.Genesis.Holdings {
		for _, id := range h.TokenIDs {
			tokenID, overflow := uint256.FromBig(id)
			if overflow {
				return fmt.Errorf("token id %s overflows uint256", id)
			}
			if err := book.Mint(h.Collection, h.Owner, tokenID); err != nil {
				return fmt.Errorf("failed to mint %s of %s: %w", id, h.Collection, err)
			}
		}
	}

	for _, gc := range cfg.Genesis.Collections {
		pool := make([]*uint256.Int, len(gc.Pool))
		for i, id := range gc.Pool {
			var overflow bool
			if pool[i], overflow = uint256.FromBig(id); overflow {
				return fmt.Errorf("pool id %s overflows uint256", id)
			}
		}
		fee, overflow := uint256.FromBig(gc.Fee)
		if overflow {
			return fmt.Errorf("fee %s overflows uint256", gc.Fee)
		}
		if err := eng.AddCollection(cfg.Admin, gc.Address, pool, fee); err != nil {
			return fmt.Errorf("failed to add collection %s: %w", gc.Address, err)
		}
	}
	return nil
}
