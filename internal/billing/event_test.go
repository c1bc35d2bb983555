package billing

import (
	"testing"
	"time"
)

const checkoutCompletedBody = `{
  "id": "evt_5WHHcZPv7VS0YUsberIuOz",
  "eventType": "checkout.completed",
  "created_at": 1728734325927,
  "object": {
    "id": "ch_4l0N34kxo16AhRKUHFUuXr",
    "object": "checkout",
    "order": {
      "id": "ord_4aDwWXjMLpes4Kj4XqNnUA",
      "transaction": "tran_5yMaWzAl3jxuGJMCOrYWwk",
      "updated_at": "2026-10-01T12:00:00Z"
    },
    "product": {"id": "prod_7YCG8QS6mq0BDo7r0HSxlY"},
    "metadata": {"userId": "2b7c2f0e-1a1f-4f0a-9f59-0c6c6f2d7e11"}
  }
}`

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(checkoutCompletedBody))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.ID != "evt_5WHHcZPv7VS0YUsberIuOz" || ev.Type != EventCheckoutCompleted {
		t.Errorf("unexpected id/type: %q %q", ev.ID, ev.Type)
	}
	if ev.AccountID != "2b7c2f0e-1a1f-4f0a-9f59-0c6c6f2d7e11" || ev.PlanID != "prod_7YCG8QS6mq0BDo7r0HSxlY" {
		t.Errorf("unexpected account/plan: %q %q", ev.AccountID, ev.PlanID)
	}
	if ev.Transaction != "tran_5yMaWzAl3jxuGJMCOrYWwk" {
		t.Errorf("unexpected transaction %q", ev.Transaction)
	}
	want := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	if ev.PeriodEnd == nil || !ev.PeriodEnd.Equal(want) {
		t.Errorf("unexpected period end %v", ev.PeriodEnd)
	}
	if string(ev.Raw) != checkoutCompletedBody {
		t.Error("raw payload not preserved")
	}
}

func TestParseEvent_IdempotencyKeyFallback(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"id":"evt_1","object":{"id":"ch_1","order":{"id":"ord_1"}}}`, "evt_1"},
		{`{"object":{"id":"ch_1","order":{"id":"ord_1"}}}`, "ord_1"},
		{`{"object":{"id":"ch_1"}}`, "ch_1"},
		{`{"eventType":"checkout.completed"}`, ""},
	}
	for _, tc := range cases {
		ev, err := ParseEvent([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if ev.ID != tc.want {
			t.Errorf("%s: got %q, want %q", tc.body, ev.ID, tc.want)
		}
	}
}

func TestParseEvent_EpochMillis(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"e","object":{"order":{"updated_at":1728734325927}}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.PeriodEnd == nil || ev.PeriodEnd.UnixMilli() != 1728734325927 {
		t.Errorf("unexpected period end %v", ev.PeriodEnd)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error")
	}
}
