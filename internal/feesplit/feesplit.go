// Package feesplit divides an order total between the platform and its tailors.
package feesplit

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

// Line is one priced order line in minor units.
type Line struct {
	TailorID       uuid.UUID
	UnitPriceCents int64
	Quantity       int
}

// DecimalLine carries a unit price that may have sub-cent precision, in major units.
type DecimalLine struct {
	TailorID  uuid.UUID
	UnitPrice decimal.Decimal
	Quantity  int
}

// Result holds the split in minor units. TotalCents == PlatformFeeCents + TailorAmountCents.
type Result struct {
	SubtotalsCents    []int64
	TotalCents        int64
	PlatformFeeCents  int64
	TailorAmountCents int64
}

// TailorShare is one tailor's part of the tailor amount.
type TailorShare struct {
	TailorID      uuid.UUID
	SubtotalCents int64
	PayoutCents   int64
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Split computes line subtotals, the total and the platform/tailor division.
func Split(lines []Line, rate decimal.Decimal) (Result, error) {
	if len(lines) == 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeEmptyOrder, "order has no items")
	}
	if err := validateRate(rate); err != nil {
		return Result{}, err
	}

	subtotals := make([]int64, len(lines))
	var total int64
	for i, line := range lines {
		if line.Quantity < 1 {
			return Result{}, invalidQuantity(i, line.Quantity)
		}
		if line.UnitPriceCents < 0 {
			return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
		}
		subtotals[i] = line.UnitPriceCents * int64(line.Quantity)
		total += subtotals[i]
	}
	return divide(subtotals, total, rate), nil
}

// SplitDecimal is Split for unit prices with sub-cent precision. Each line
// subtotal is rounded half-up to whole cents before summing.
func SplitDecimal(lines []DecimalLine, rate decimal.Decimal) (Result, error) {
	if len(lines) == 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeEmptyOrder, "order has no items")
	}
	if err := validateRate(rate); err != nil {
		return Result{}, err
	}

	subtotals := make([]int64, len(lines))
	var total int64
	for i, line := range lines {
		if line.Quantity < 1 {
			return Result{}, invalidQuantity(i, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
		}
		cents := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Mul(hundred)
		subtotals[i] = roundHalfUp(cents)
		total += subtotals[i]
	}
	return divide(subtotals, total, rate), nil
}

// PerTailor breaks the tailor amount down by tailor. Shares are proportional
// to each tailor's subtotal; leftover cents go to the largest remainders so the
// shares sum exactly to the tailor amount.
func PerTailor(lines []Line, rate decimal.Decimal) ([]TailorShare, error) {
	result, err := Split(lines, rate)
	if err != nil {
		return nil, err
	}

	order := []uuid.UUID{}
	subtotalByTailor := map[uuid.UUID]int64{}
	for i, line := range lines {
		if _, ok := subtotalByTailor[line.TailorID]; !ok {
			order = append(order, line.TailorID)
		}
		subtotalByTailor[line.TailorID] += result.SubtotalsCents[i]
	}

	shares := make([]TailorShare, len(order))
	if result.TotalCents == 0 {
		for i, id := range order {
			shares[i] = TailorShare{TailorID: id}
		}
		return shares, nil
	}

	type remainder struct {
		index int
		value decimal.Decimal
	}
	remainders := make([]remainder, len(order))
	tailorAmount := decimal.NewFromInt(result.TailorAmountCents)
	total := decimal.NewFromInt(result.TotalCents)
	var allocated int64
	for i, id := range order {
		exact := tailorAmount.Mul(decimal.NewFromInt(subtotalByTailor[id])).Div(total)
		floor := exact.Floor()
		shares[i] = TailorShare{
			TailorID:      id,
			SubtotalCents: subtotalByTailor[id],
			PayoutCents:   floor.IntPart(),
		}
		allocated += shares[i].PayoutCents
		remainders[i] = remainder{index: i, value: exact.Sub(floor)}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value.GreaterThan(remainders[b].value)
	})
	for left, k := result.TailorAmountCents-allocated, 0; left > 0; left, k = left-1, k+1 {
		shares[remainders[k%len(remainders)].index].PayoutCents++
	}
	return shares, nil
}

func divide(subtotals []int64, total int64, rate decimal.Decimal) Result {
	fee := roundHalfUp(decimal.NewFromInt(total).Mul(rate))
	return Result{
		SubtotalsCents:    subtotals,
		TotalCents:        total,
		PlatformFeeCents:  fee,
		TailorAmountCents: total - fee,
	}
}

// roundHalfUp rounds a non-negative cent amount to the nearest whole cent, ties away from zero.
func roundHalfUp(cents decimal.Decimal) int64 {
	return cents.Round(0).IntPart()
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return pkgerrors.New(pkgerrors.CodeValidation, "platform rate must be between 0 and 1")
	}
	return nil
}

func invalidQuantity(index, qty int) error {
	return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
		WithDetails(map[string]any{"line": index, "quantity": qty})
}
