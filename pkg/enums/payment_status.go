package enums

// PaymentStatus mirrors the gateway's checkout payment status.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

func (p PaymentStatus) String() string {
	return string(p)
}

// PaymentStatusForOrder derives a payment status from local order state.
// Used when the gateway cannot be reached.
func PaymentStatusForOrder(status OrderStatus, paid bool) PaymentStatus {
	switch {
	case status == OrderStatusCancelled && paid:
		return PaymentStatusRefunded
	case paid:
		return PaymentStatusPaid
	default:
		return PaymentStatusUnpaid
	}
}
