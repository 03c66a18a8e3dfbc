package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStateTerminal(t *testing.T) {
	assert.False(t, OrderPending.Terminal())
	assert.True(t, OrderApproved.Terminal())
	assert.True(t, OrderRejected.Terminal())
	assert.True(t, OrderExpired.Terminal())
}

func TestOrderExpiredBy(t *testing.T) {
	deadline := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	o := Order{State: OrderPending, ExpiresAt: deadline}

	assert.False(t, o.ExpiredBy(deadline.Add(-time.Second)))
	assert.False(t, o.ExpiredBy(deadline), "deadline itself is not yet expired")
	assert.True(t, o.ExpiredBy(deadline.Add(time.Second)))

	// Terminal orders never expire, no matter the clock.
	for _, s := range []OrderState{OrderApproved, OrderRejected, OrderExpired} {
		o.State = s
		assert.False(t, o.ExpiredBy(deadline.Add(time.Hour)), string(s))
	}
}

func TestLotAvailable(t *testing.T) {
	l := Lot{Total: 100, Sold: 40}
	assert.Equal(t, uint32(60), l.Available())

	l.Sold = 100
	assert.Equal(t, uint32(0), l.Available())

	// Defensive: a sold counter past total still reports zero, not an
	// underflowed huge number.
	l.Sold = 120
	assert.Equal(t, uint32(0), l.Available())
}

func TestOrderMoneyColumnsRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("1500.50")
	qty := decimal.NewFromInt(3)
	assert.Equal(t, "4501.50", price.Mul(qty).StringFixed(2))
}
