package telemetry

import (
	"sync"

	"github.com/shopspring/decimal"
)

// CreditLedger accumulates paid entries per car from the coin-box
// counter reports. The device counter may reset (power cycle, manual
// clear); the ledger only ever adds the positive deltas, so credits
// survive resets and are reduced exclusively by Consume.
type CreditLedger struct {
	mu      sync.Mutex
	lastRaw map[int]int
	credits map[int]int
	value   map[int]decimal.Decimal
}

func NewCreditLedger() *CreditLedger {
	return &CreditLedger{
		lastRaw: make(map[int]int),
		credits: make(map[int]int),
		value:   make(map[int]decimal.Decimal),
	}
}

// Update folds one raw counter report into the ledger. A report lower
// than the previous one means the device counter was reset; the full
// reported value then counts as new coins.
func (l *CreditLedger) Update(carID, reportedCoins int, coinValue decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.lastRaw[carID]
	delta := reportedCoins - last
	if delta < 0 {
		delta = reportedCoins
	}
	l.lastRaw[carID] = reportedCoins
	l.credits[carID] += delta
	l.value[carID] = coinValue
}

// Credits returns the unconsumed paid entries of a car.
func (l *CreditLedger) Credits(carID int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[carID]
}

// Value returns the monetary value of the car's last coin.
func (l *CreditLedger) Value(carID int) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value[carID]
}

// Consume removes one credit per listed car, flooring at zero.
func (l *CreditLedger) Consume(carIDs []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, carID := range carIDs {
		if l.credits[carID] > 0 {
			l.credits[carID]--
		}
	}
}
