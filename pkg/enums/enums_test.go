package enums

import "testing"

func TestParseNumberStatus(t *testing.T) {
	got, err := ParseNumberStatus("active")
	if err != nil || got != NumberStatusActive {
		t.Fatalf("expected active, got %q err=%v", got, err)
	}
	if _, err := ParseNumberStatus("reserved"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestSubscriptionStatusValidity(t *testing.T) {
	for _, s := range []SubscriptionStatus{SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusCanceled} {
		if !s.IsValid() {
			t.Fatalf("expected %q valid", s)
		}
	}
	if SubscriptionStatus("trialing").IsValid() {
		t.Fatal("trialing is not a known status")
	}
}

func TestParseOutboxEventType(t *testing.T) {
	got, err := ParseOutboxEventType("call.completed")
	if err != nil || got != EventCallCompleted {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if _, err := ParseOutboxEventType("order_created"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if !AggregateAccount.IsValid() || OutboxAggregateType("store").IsValid() {
		t.Fatal("aggregate validity mismatch")
	}
}

func TestParseOutboxAggregateType(t *testing.T) {
	got, err := ParseOutboxAggregateType("subscription")
	if err != nil || got != AggregateSubscription {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if _, err := ParseOutboxAggregateType("order"); err == nil {
		t.Fatal("expected error for unknown aggregate")
	}
}
