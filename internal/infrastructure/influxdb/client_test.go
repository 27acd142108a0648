package influxdb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "gateway",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test if InfluxDB is not running, unless
// RUN_INTEGRATION demands it.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Connect(ctx, testConfig(), "test-site")
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	if _, err := Connect(context.Background(), cfg, "test-site"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Connect(ctx, cfg, "test-site"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	// Writes on a disconnected client are dropped, not panics.
	c.WriteCommissioningAttempt("commission", "CommissionedSuccessfully", true, time.Second)
	c.WriteSubsystemReadiness("matter", true)
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = 0
	opts := clientOptions(cfg, "site-7")
	if opts.BatchSize() != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), defaultBatchSize)
	}
	if opts.FlushInterval() != uint(defaultFlushInterval.Milliseconds()) {
		t.Errorf("FlushInterval() = %d ms", opts.FlushInterval())
	}
	if tags := opts.WriteOptions().DefaultTags(); tags["site"] != "site-7" {
		t.Errorf("default tags = %v", tags)
	}

	cfg.BatchSize = 25
	cfg.FlushInterval = 2
	opts = clientOptions(cfg, "")
	if opts.BatchSize() != 25 || opts.FlushInterval() != 2000 {
		t.Errorf("BatchSize() = %d, FlushInterval() = %d", opts.BatchSize(), opts.FlushInterval())
	}
	if _, ok := opts.WriteOptions().DefaultTags()["site"]; ok {
		t.Error("empty site id should not add a tag")
	}
}

func TestDrainErrors(t *testing.T) {
	c := &Client{}
	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	errs := make(chan error, 2)
	errs <- errors.New("bucket not found")
	errs <- errors.New("timeout")
	close(errs)
	c.drainErrors(errs)

	if c.WriteErrors() != 2 || len(got) != 2 {
		t.Fatalf("WriteErrors() = %d, callbacks = %d", c.WriteErrors(), len(got))
	}
	if !errors.Is(got[0], ErrWriteFailed) {
		t.Errorf("callback error = %v, want ErrWriteFailed", got[0])
	}
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func TestPointBuilders(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("commissioning", func(t *testing.T) {
		p := commissioningPoint("pair", "DiscoveryFailed", false, 1500*time.Millisecond, ts)
		if p.Name() != MeasurementCommissioning {
			t.Errorf("Name() = %q", p.Name())
		}
		if tags := tagMap(p); tags["kind"] != "pair" || tags["status"] != "DiscoveryFailed" {
			t.Errorf("tags = %v", tags)
		}
		fields := fieldMap(p)
		if fields["success"] != false || fields["duration_ms"] != int64(1500) {
			t.Errorf("fields = %v", fields)
		}
		if !p.Time().Equal(ts) {
			t.Errorf("Time() = %v", p.Time())
		}
	})

	t.Run("discovery", func(t *testing.T) {
		p := discoveryPoint(0x1234, 3, true, time.Second, ts)
		if tags := tagMap(p); tags["node_id"] != "0x1234" {
			t.Errorf("tags = %v", tags)
		}
		if fields := fieldMap(p); fields["endpoints"] != int64(3) {
			t.Errorf("fields = %v", fields)
		}
	})

	t.Run("subsystem", func(t *testing.T) {
		p := subsystemPoint("zigbee", true, ts)
		if tagMap(p)["subsystem"] != "zigbee" || fieldMap(p)["ready"] != true {
			t.Errorf("point = %v %v", tagMap(p), fieldMap(p))
		}
	})

	t.Run("device state skips strings", func(t *testing.T) {
		p := deviceStatePoint("dev-1", "light", map[string]any{"on_off": true, "level": 200, "name": "x"}, ts)
		fields := fieldMap(p)
		if len(fields) != 2 {
			t.Errorf("fields = %v, want on_off and level only", fields)
		}
		if deviceStatePoint("dev-1", "light", map[string]any{"name": "x"}, ts) != nil {
			t.Error("state with no numeric values should produce no point")
		}
	})
}

func TestWriteIntegration(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	writeErrs := make(chan error, 8)
	client.SetOnError(func(err error) {
		select {
		case writeErrs <- err:
		default:
		}
	})

	client.WriteCommissioningAttempt("commission", "CommissionedSuccessfully", true, 2*time.Second)
	client.WriteDiscovery(0x1234, 2, true, time.Second)
	client.WriteSubsystemReadiness("matter", true)
	client.WriteDeviceState("dev-int", "plug", map[string]any{"on_off": true})
	client.Flush()

	select {
	case err := <-writeErrs:
		t.Errorf("async write error = %v", err)
	default:
	}
}
