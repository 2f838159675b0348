package pubsub

import (
	"testing"

	"github.com/NorikGo/tailormp-sub002/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"tailormp", "order-events", "projects/tailormp/topics/order-events"},
		{"tailormp", " projects/other/topics/x ", "projects/other/topics/x"},
		{"", "order-events", ""},
		{"tailormp", "  ", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNames(t *testing.T) {
	if got := topicNames(config.PubSubConfig{}); len(got) != 0 {
		t.Fatalf("expected no topics without orders topic, got %v", got)
	}
	got := topicNames(config.PubSubConfig{OrdersTopic: "orders", DLQTopic: "orders-dlq"})
	if len(got) != 2 || got[0] != "orders" || got[1] != "orders-dlq" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.OrdersPublisher() != nil || c.DLQPublisher() != nil {
		t.Fatalf("expected nil publishers on nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}
