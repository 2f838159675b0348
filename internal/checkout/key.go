package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// checkoutKey correlates repeated checkout attempts for the same selection so
// a retry reuses the pending order instead of creating another.
func checkoutKey(req Request) string {
	if req.CartID != nil {
		return "cart:" + req.CartID.String()
	}
	item := req.Item
	return fmt.Sprintf("item:%s:%d:%s", item.ProductID, item.Quantity, customizationHash(item.FabricChoice, item.Notes, item.MeasurementSessionID))
}

func customizationHash(fabric, notes *string, measurement *uuid.UUID) string {
	parts := []string{deref(fabric), deref(notes), ""}
	if measurement != nil {
		parts[2] = measurement.String()
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:8])
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// idempotencyKey changes whenever the amount or the session window changes,
// since Stripe rejects a reused key carrying different parameters.
func idempotencyKey(orderID uuid.UUID, totalCents int64, expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return fmt.Sprintf("checkout-%s-%d", orderID, totalCents)
	}
	return fmt.Sprintf("checkout-%s-%d-%d", orderID, totalCents, expiresAt.Unix())
}
