package strategy

import (
	"fmt"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"
)

// Book is the part of the ledger a signal is executed against.
type Book interface {
	Positions() []model.Position
	ExitPosition(positionID string) ledger.Result
	PlaceOrder(req ledger.OrderRequest) ledger.Result
}

// Execute applies sig to book. An open position in the opposite direction is
// exited first; a position already in the signal's direction is left alone.
// EXIT only closes the symbol's open position. Returns the new order's ID, or
// "" when no entry was placed.
func Execute(book Book, sig Signal) (string, error) {
	var open *model.Position
	for _, p := range book.Positions() {
		if p.Symbol == sig.Symbol {
			p := p
			open = &p
			break
		}
	}

	if open != nil {
		sameSide := (sig.Action == ActionBuy && open.IsLong()) || (sig.Action == ActionSell && !open.IsLong())
		if sameSide {
			return "", nil
		}
		if res := book.ExitPosition(open.ID); !res.Success {
			return "", fmt.Errorf("exit %s: %w", open.ID, res.Err)
		}
	}
	if sig.Action == ActionExit {
		return "", nil
	}

	side := model.SideBuy
	if sig.Action == ActionSell {
		side = model.SideSell
	}
	res := book.PlaceOrder(ledger.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: sig.Qty,
		Price:    sig.Price,
		Kind:     model.KindMarket,
		StopLoss: sig.StopLoss,
		Target1:  sig.Target1,
		Target2:  sig.Target2,
	})
	if !res.Success {
		return "", fmt.Errorf("place %s %s: %w", side, sig.Symbol, res.Err)
	}
	return res.OrderID, nil
}
