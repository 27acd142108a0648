//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectForTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestIntegration_AnnouncementRoundtrip(t *testing.T) {
	pub := connectForTest(t, "graylogic-gateway-int-pub")
	sub := connectForTest(t, "graylogic-gateway-int-sub")

	type announcement struct {
		ID     string `json:"id"`
		NodeID uint64 `json:"node_id"`
	}
	received := make(chan announcement, 1)

	err := sub.Subscribe(Topics{}.AllDeviceAnnouncements(), 1, func(_ string, payload []byte) error {
		var a announcement
		if err := json.Unmarshal(payload, &a); err != nil {
			return err
		}
		select {
		case received <- a:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(Topics{}.AllDeviceAnnouncements()) {
		t.Fatal("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	want := announcement{ID: "dev-int-1", NodeID: 0x1234}
	if err := pub.PublishJSON(Topics{}.DeviceAnnounce(want.ID), want, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got != want {
			t.Errorf("received %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for announcement")
	}

	if err := sub.Unsubscribe(Topics{}.AllDeviceAnnouncements()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", sub.SubscriptionCount())
	}
}

func TestIntegration_RetainedAvailability(t *testing.T) {
	connectForTest(t, "graylogic-gateway-int-avail")
	watcher := connectForTest(t, "graylogic-gateway-int-watch")

	got := make(chan availability, 4)
	err := watcher.Subscribe(Topics{}.Availability(), 1, func(_ string, payload []byte) error {
		var a availability
		if err := json.Unmarshal(payload, &a); err == nil {
			got <- a
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case a := <-got:
		if a.Status != "online" {
			t.Errorf("retained availability = %+v, want online", a)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no retained availability message")
	}
}

func TestIntegration_RefreshRequests(t *testing.T) {
	gateway := connectForTest(t, "graylogic-gateway-int-gw")
	remote := connectForTest(t, "graylogic-gateway-int-remote")

	ids := make(chan string, 1)
	if err := gateway.HandleRefreshRequests(func(id string) error {
		ids <- id
		return nil
	}); err != nil {
		t.Fatalf("HandleRefreshRequests() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := remote.Publish(Topics{}.DeviceRefresh("dev-int-2"), nil, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case id := <-ids:
		if id != "dev-int-2" {
			t.Errorf("refresh id = %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for refresh request")
	}
}
