package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
)

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv(config.PathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a config file")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want a config load failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// No broker address and no devices.
	content := "mqtt_server_port: 1883\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(config.PathEnvVar, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should reject an invalid config")
	}
	if !strings.Contains(err.Error(), "mqtt_server_addr is required") {
		t.Errorf("error = %v, want the missing broker address reported", err)
	}
}

func TestGatewaysOf(t *testing.T) {
	devices := []collector.Device{
		{Addr: 101, Gateway: "10.0.0.5:502"},
		{Addr: 102, Gateway: "10.0.0.5:502"},
		{Addr: 1, Gateway: "10.0.0.6:502"},
		{Addr: 103, Gateway: "10.0.0.5:502"},
	}

	got := gatewaysOf(devices)
	want := []string{"10.0.0.5:502", "10.0.0.6:502"}
	if len(got) != len(want) {
		t.Fatalf("gatewaysOf() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("gatewaysOf()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

type countingAnnouncer struct{ n int }

func (c *countingAnnouncer) RequestAnnounce() { c.n++ }

func TestHomeAssistantBirth(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)

	tests := []struct {
		name    string
		msg     ipc.Inbound
		wantAnn int
	}{
		{"online", ipc.Inbound{Topic: "homeassistant/status", Payload: []byte("online")}, 1},
		{"online with newline", ipc.Inbound{Topic: "homeassistant/status", Payload: []byte("online\n")}, 1},
		{"offline", ipc.Inbound{Topic: "homeassistant/status", Payload: []byte("offline")}, 0},
		{"other topic", ipc.Inbound{Topic: "pzem016mqtt/status", Payload: []byte("online")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &countingAnnouncer{}
			homeAssistantBirth("homeassistant/status", a, log)(tt.msg)
			if a.n != tt.wantAnn {
				t.Errorf("announcements = %d, want %d", a.n, tt.wantAnn)
			}
		})
	}
}
