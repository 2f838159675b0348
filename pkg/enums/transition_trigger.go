package enums

import "fmt"

// TransitionTrigger names the source that requested an order status change.
type TransitionTrigger string

const (
	TriggerCheckout TransitionTrigger = "checkout"
	TriggerWebhook  TransitionTrigger = "webhook"
	TriggerCustomer TransitionTrigger = "customer"
	TriggerTailor   TransitionTrigger = "tailor"
	TriggerAdmin    TransitionTrigger = "admin"
	TriggerSystem   TransitionTrigger = "system"
)

var validTransitionTriggers = []TransitionTrigger{
	TriggerCheckout,
	TriggerWebhook,
	TriggerCustomer,
	TriggerTailor,
	TriggerAdmin,
	TriggerSystem,
}

func (t TransitionTrigger) String() string {
	return string(t)
}

func (t TransitionTrigger) IsValid() bool {
	for _, candidate := range validTransitionTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseTransitionTrigger(value string) (TransitionTrigger, error) {
	for _, candidate := range validTransitionTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transition trigger %q", value)
}
