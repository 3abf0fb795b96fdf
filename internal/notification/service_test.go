package notification

import "testing"

// Event types are persisted in outbox rows, so renaming one strands every
// undelivered row carrying the old name.
func TestOutboxEventTypeWireNames(t *testing.T) {
	want := map[string]string{
		EventLeadOffered:    "lead_offered",
		EventOfferExpiring:  "offer_expiring",
		EventLeadSold:       "lead_sold",
		EventLeadUnsold:     "lead_unsold",
		EventPurchaseFailed: "purchase_failed",
	}
	for got, expected := range want {
		if got != expected {
			t.Fatalf("event type %q must stay %q", got, expected)
		}
	}
}
