package telemetry

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCreditLedger_Accumulates(t *testing.T) {
	l := NewCreditLedger()
	l.Update(1, 2, decimal.NewFromFloat(0.5))
	assert.Equal(t, 2, l.Credits(1))

	l.Update(1, 3, decimal.NewFromFloat(0.5))
	assert.Equal(t, 3, l.Credits(1))

	// unchanged report adds nothing
	l.Update(1, 3, decimal.NewFromFloat(0.5))
	assert.Equal(t, 3, l.Credits(1))
}

func TestCreditLedger_SurvivesCounterReset(t *testing.T) {
	l := NewCreditLedger()
	l.Update(1, 5, decimal.Zero)
	l.Consume([]int{1, 1})
	assert.Equal(t, 3, l.Credits(1))

	// device power cycled, counter starts over with one fresh coin
	l.Update(1, 1, decimal.Zero)
	assert.Equal(t, 4, l.Credits(1))
}

func TestCreditLedger_ConsumeFloorsAtZero(t *testing.T) {
	l := NewCreditLedger()
	l.Update(2, 1, decimal.Zero)
	l.Consume([]int{2, 2, 2})
	assert.Equal(t, 0, l.Credits(2))
}

func TestCreditLedger_TracksCoinValue(t *testing.T) {
	l := NewCreditLedger()
	want := decimal.RequireFromString("1.50")
	l.Update(3, 1, want)
	assert.True(t, want.Equal(l.Value(3)))
}
