package pubsub

import (
	"context"
	"testing"

	"github.com/ringwise/ringwise-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"ringwise", "domain-events", "projects/ringwise/topics/domain-events"},
		{"ringwise", "projects/other/topics/x", "projects/other/topics/x"},
		{"ringwise", "  ", ""},
		{"", "domain-events", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{DomainTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errNoTopic {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatalf("expected nil publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSubscriptionResourceName(t *testing.T) {
	if got := subscriptionResourceName("ringwise", "usage-analytics"); got != "projects/ringwise/subscriptions/usage-analytics" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := subscriptionResourceName("ringwise", "projects/other/subscriptions/x"); got != "projects/other/subscriptions/x" {
		t.Fatalf("expected full name to pass through, got %q", got)
	}
	var c *Client
	if c.AnalyticsSubscriber() != nil {
		t.Fatalf("expected nil subscriber")
	}
}
