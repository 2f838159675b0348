package enums

import "testing"

func TestOrderStatusTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusPending:    false,
		OrderStatusPaid:       false,
		OrderStatusProcessing: false,
		OrderStatusShipped:    false,
		OrderStatusDelivered:  true,
		OrderStatusCancelled:  true,
	}
	for status, want := range terminal {
		if status.IsTerminal() != want {
			t.Fatalf("status %s terminal=%v want %v", status, status.IsTerminal(), want)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	got, err := ParseOrderStatus("shipped")
	if err != nil || got != OrderStatusShipped {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
	if _, err := ParseOrderStatus("refunded"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestParseRoleIsCaseInsensitive(t *testing.T) {
	got, err := ParseRole(" Tailor ")
	if err != nil || got != RoleTailor {
		t.Fatalf("unexpected role %q %v", got, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}

func TestParseCurrencyNormalizes(t *testing.T) {
	got, err := ParseCurrency("usd")
	if err != nil || got != CurrencyUSD {
		t.Fatalf("unexpected currency %q %v", got, err)
	}
	if got.Lower() != "usd" {
		t.Fatalf("unexpected lower %q", got.Lower())
	}
}

func TestPaymentStatusForOrder(t *testing.T) {
	if PaymentStatusForOrder(OrderStatusPending, false) != PaymentStatusUnpaid {
		t.Fatal("pending unpaid order should be unpaid")
	}
	if PaymentStatusForOrder(OrderStatusShipped, true) != PaymentStatusPaid {
		t.Fatal("shipped order should be paid")
	}
	if PaymentStatusForOrder(OrderStatusCancelled, true) != PaymentStatusRefunded {
		t.Fatal("cancelled after payment should be refunded")
	}
}
