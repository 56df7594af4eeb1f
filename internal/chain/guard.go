package chain

import "github.com/alanyoungcy/groupmarket/internal/domain"

// Guard rejects nested entry into a component while one of its operations
// is still in flight, e.g. a ledger callback that calls back into the
// market engine mid-settlement.
type Guard struct {
	entered bool
}

// Enter marks the component busy. It returns domain.ErrReentrant when the
// component is already busy.
func (g *Guard) Enter() error {
	if g.entered {
		return domain.ErrReentrant
	}
	g.entered = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() { g.entered = false }

// Busy reports whether an operation is in flight.
func (g *Guard) Busy() bool { return g.entered }
