package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	if got := retryQueue("serenity.exchanges"); got != "serenity.exchanges.retry" {
		t.Fatalf("unexpected retry queue %q", got)
	}
	if got := deadQueue("serenity.exchanges"); got != "serenity.exchanges.dlq" {
		t.Fatalf("unexpected dead letter queue %q", got)
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		headers amqp.Table
		want    int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{retryHeader: int32(2)}, 2},
		{amqp.Table{retryHeader: int64(3)}, 3},
		{amqp.Table{retryHeader: "nope"}, 0},
	}
	for _, tc := range cases {
		if got := retryCount(tc.headers); got != tc.want {
			t.Fatalf("retryCount(%v) = %d, want %d", tc.headers, got, tc.want)
		}
	}
}

func TestShouldDeadLetter(t *testing.T) {
	transient := errors.New("store offline")
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"transient first attempt", transient, 0, false},
		{"transient retries exhausted", transient, 3, true},
		{"permanent first attempt", Permanent(errors.New("bad json")), 0, true},
	}
	for _, tc := range cases {
		if got := shouldDeadLetter(tc.err, tc.attempt, 3); got != tc.want {
			t.Fatalf("%s: shouldDeadLetter = %v, want %v", tc.name, got, tc.want)
		}
	}
	if Permanent(nil) != nil {
		t.Fatal("expected Permanent(nil) to be nil")
	}
}
