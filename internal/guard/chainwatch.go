package guard

import (
	"fmt"
	"log"

	"github.com/windi/backend/internal/forensic"
)

// ChainWatcher walks the forensic ledger, verifying temporal monotonicity
// and hash linkage. Rows tagged "legacy" predate the chain and are
// excluded by the ledger itself.
type ChainWatcher struct {
	chain  *forensic.Chain
	store  *Store
	alerts *AlertEngine
	logger *log.Logger
}

func NewChainWatcher(chain *forensic.Chain, store *Store, alerts *AlertEngine) *ChainWatcher {
	return &ChainWatcher{
		chain:  chain,
		store:  store,
		alerts: alerts,
		logger: log.New(log.Writer(), "[GUARD-CHAIN] ", log.LstdFlags),
	}
}

// Run performs one full chain verification pass.
func (w *ChainWatcher) Run() {
	breaks, err := w.chain.VerifyChain()
	if err != nil {
		w.alerts.Fire(SeverityWarning, "ChainWatcher", "Chain verification error",
			"Ledger could not be walked", err.Error())
		return
	}

	count, _ := w.chain.Count()
	if w.store != nil {
		if err := w.store.recordChainCheck(count, len(breaks)); err != nil {
			w.logger.Printf("❌ Record chain check failed: %v", err)
		}
	}

	if len(breaks) == 0 {
		return
	}
	detail := ""
	for _, b := range breaks {
		detail += fmt.Sprintf("id=%d reason=%s; ", b.ID, b.Reason)
	}
	w.alerts.Fire(SeverityCritical, "ChainWatcher", "Audit chain break detected",
		fmt.Sprintf("%d break(s) across %d records", len(breaks), count), detail)
}
