package feesplit

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

var fortyPercent = decimal.RequireFromString("0.40")

func TestSplitReferenceScenario(t *testing.T) {
	tailor := uuid.New()
	result, err := Split([]Line{
		{TailorID: tailor, UnitPriceCents: 12000, Quantity: 1},
		{TailorID: tailor, UnitPriceCents: 4550, Quantity: 2},
	}, fortyPercent)
	require.NoError(t, err)

	assert.Equal(t, []int64{12000, 9100}, result.SubtotalsCents)
	assert.Equal(t, int64(21100), result.TotalCents)
	assert.Equal(t, int64(8440), result.PlatformFeeCents)
	assert.Equal(t, int64(12660), result.TailorAmountCents)
}

func TestSplitEmptyOrder(t *testing.T) {
	_, err := Split(nil, fortyPercent)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyOrder))

	_, err = Split([]Line{}, fortyPercent)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyOrder))
}

func TestSplitInvalidQuantity(t *testing.T) {
	_, err := Split([]Line{{UnitPriceCents: 100, Quantity: 0}}, fortyPercent)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidQuantity))
}

func TestSplitRejectsRateOutOfRange(t *testing.T) {
	lines := []Line{{UnitPriceCents: 100, Quantity: 1}}
	_, err := Split(lines, decimal.RequireFromString("1.01"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = Split(lines, decimal.RequireFromString("-0.1"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSplitRoundsFeeHalfUp(t *testing.T) {
	// 0.40 * 1 cent = 0.4 -> 0; 0.40 * 5 cents = 2.0; 0.25 * 2 cents = 0.5 -> 1
	result, err := Split([]Line{{UnitPriceCents: 1, Quantity: 1}}, fortyPercent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.PlatformFeeCents)

	result, err = Split([]Line{{UnitPriceCents: 2, Quantity: 1}}, decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.PlatformFeeCents)
	assert.Equal(t, int64(1), result.TailorAmountCents)
}

func TestSplitDecimalSubCentPrices(t *testing.T) {
	result, err := SplitDecimal([]DecimalLine{
		{UnitPrice: decimal.RequireFromString("10.005"), Quantity: 1},
		{UnitPrice: decimal.RequireFromString("0.333"), Quantity: 3},
	}, fortyPercent)
	require.NoError(t, err)
	assert.Equal(t, []int64{1001, 100}, result.SubtotalsCents)
	assert.Equal(t, int64(1101), result.TotalCents)
	assert.Equal(t, int64(440), result.PlatformFeeCents)
	assert.Equal(t, result.TotalCents, result.PlatformFeeCents+result.TailorAmountCents)
}

func TestSplitFeeIdentityHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rng.Intn(6) + 1
		lines := make([]Line, n)
		for j := range lines {
			lines[j] = Line{
				TailorID:       uuid.New(),
				UnitPriceCents: rng.Int63n(500000),
				Quantity:       rng.Intn(9) + 1,
			}
		}
		rate := decimal.NewFromInt(int64(rng.Intn(10001))).Div(decimal.NewFromInt(10000))

		result, err := Split(lines, rate)
		require.NoError(t, err)
		require.Equal(t, result.TotalCents, result.PlatformFeeCents+result.TailorAmountCents)

		shares, err := PerTailor(lines, rate)
		require.NoError(t, err)
		var payout int64
		for _, share := range shares {
			payout += share.PayoutCents
		}
		require.Equal(t, result.TailorAmountCents, payout)
	}
}

func TestPerTailorGroupsByTailor(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	shares, err := PerTailor([]Line{
		{TailorID: a, UnitPriceCents: 12000, Quantity: 1},
		{TailorID: b, UnitPriceCents: 4550, Quantity: 2},
		{TailorID: a, UnitPriceCents: 1000, Quantity: 1},
	}, fortyPercent)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, a, shares[0].TailorID)
	assert.Equal(t, int64(13000), shares[0].SubtotalCents)
	assert.Equal(t, int64(7800), shares[0].PayoutCents)
	assert.Equal(t, int64(5460), shares[1].PayoutCents)
}
