package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func newFakeClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func TestReadingPoint(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p := ReadingPoint(collector.Reading{
		Addr: 104, Gateway: "10.0.0.5:502", Breaker: "Garage",
		Volts: 231.2, Amps: 4.5, Watts: 1040, WattHours: 88000, Frequency: 50, PowerFactor: 0.98,
		At: at,
	})

	if p.Name() != Measurement {
		t.Errorf("Name() = %q, want %q", p.Name(), Measurement)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	wantTags := map[string]string{"unit": "104", "gateway": "10.0.0.5:502", "breaker": "Garage"}
	for k, v := range wantTags {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["watts"] != 1040.0 || fields["power_factor"] != 0.98 || fields["alarm"] != false {
		t.Errorf("fields = %v", fields)
	}
	if len(fields) != 7 {
		t.Errorf("field count = %d, want 7", len(fields))
	}
}

func TestReadingPoint_NoBreakerTag(t *testing.T) {
	p := ReadingPoint(collector.Reading{Addr: 1, Gateway: "gw"})
	for _, tag := range p.TagList() {
		if tag.Key == "breaker" {
			t.Error("breaker tag set for empty breaker")
		}
	}
}

func TestRecordReading(t *testing.T) {
	c, w := newFakeClient()

	if err := c.RecordReading(context.Background(), collector.Reading{Addr: 9}); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on Close = %d, want 1", w.flushes)
	}
	if err := c.RecordReading(context.Background(), collector.Reading{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RecordReading() after Close error = %v, want ErrNotConnected", err)
	}

	c.Flush()
	if w.flushes != 1 {
		t.Error("Flush() after Close reached the writer")
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newFakeClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("401 unauthorized")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// TestConnect_Live runs against a real server when INFLUXDB_TEST_URL is set.
func TestConnect_Live(t *testing.T) {
	url := os.Getenv("INFLUXDB_TEST_URL")
	if url == "" {
		t.Skip("INFLUXDB_TEST_URL not set")
	}
	cfg := config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("INFLUXDB_TEST_TOKEN"),
		Org:           os.Getenv("INFLUXDB_TEST_ORG"),
		Bucket:        os.Getenv("INFLUXDB_TEST_BUCKET"),
		FlushInterval: 1,
	}

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := c.RecordReading(context.Background(), collector.Reading{Addr: 1, Gateway: "test", At: time.Now()}); err != nil {
		t.Errorf("RecordReading() error = %v", err)
	}
	c.Flush()
}
