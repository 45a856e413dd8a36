package registry

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync/atomic"
	"testing"

	"bytemomo/armada/internal/domain"

	"github.com/sirupsen/logrus"
)

type fakeService struct {
	name       string
	devices    []domain.Device
	connectErr error
	listErr    error

	connects atomic.Int32
	closes   atomic.Int32
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Connect(ctx context.Context) (domain.DiscoveryConn, error) {
	s.connects.Add(1)
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &fakeConn{svc: s}, nil
}

type fakeConn struct{ svc *fakeService }

func (c *fakeConn) Devices(ctx context.Context) ([]domain.Device, error) {
	if c.svc.listErr != nil {
		return nil, c.svc.listErr
	}
	return c.svc.devices, nil
}

func (c *fakeConn) Close() error {
	c.svc.closes.Add(1)
	return nil
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func adbDevices(serials ...string) []domain.Device {
	out := make([]domain.Device, len(serials))
	for i, s := range serials {
		out[i] = domain.Device{Serial: s, Source: domain.SourceADB}
	}
	return out
}

func TestResolveUnionDeduplicates(t *testing.T) {
	svc := &fakeService{name: "adb", devices: adbDevices("B", "C")}
	reg := New(testLog(), svc)

	got, err := reg.Resolve(context.Background(), domain.ExplicitDevices("A", "B"), true)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(got.Serials(), want) {
		t.Fatalf("serials = %v, want %v", got.Serials(), want)
	}

	// B was requested explicitly and keeps that provenance.
	for _, d := range got.Devices() {
		if d.Serial == "B" && d.Source != domain.SourceExplicit {
			t.Errorf("B source = %q, want explicit", d.Source)
		}
		if d.Serial == "C" && d.Source != domain.SourceADB {
			t.Errorf("C source = %q, want adb", d.Source)
		}
	}
	if svc.connects.Load() != 1 || svc.closes.Load() != 1 {
		t.Errorf("connects=%d closes=%d, want 1/1", svc.connects.Load(), svc.closes.Load())
	}
}

func TestResolveWithoutDiscoveryLeavesBaseUntouched(t *testing.T) {
	svc := &fakeService{name: "adb", devices: adbDevices("Z")}
	reg := New(testLog(), svc)
	base := domain.ExplicitDevices("A", "B")

	got, err := reg.Resolve(context.Background(), base, false)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !reflect.DeepEqual(got.Serials(), base.Serials()) {
		t.Fatalf("serials = %v, want %v", got.Serials(), base.Serials())
	}
	if svc.connects.Load() != 0 {
		t.Fatal("discovery service must not be contacted")
	}
}

func TestResolveUnavailableService(t *testing.T) {
	down := &fakeService{name: "adb", connectErr: errors.New("connection refused")}
	up := &fakeService{name: "mdns", devices: adbDevices("C")}
	reg := New(testLog(), down, up)

	got, err := reg.Resolve(context.Background(), domain.ExplicitDevices("A"), true)
	if !errors.Is(err, domain.ErrDiscoveryUnavailable) {
		t.Fatalf("expected ErrDiscoveryUnavailable, got %v", err)
	}
	if want := []string{"A", "C"}; !reflect.DeepEqual(got.Serials(), want) {
		t.Fatalf("serials = %v, want %v", got.Serials(), want)
	}
	if down.closes.Load() != 0 {
		t.Error("close called on a connection that was never opened")
	}
}

func TestResolveClosesConnectionOnListFailure(t *testing.T) {
	svc := &fakeService{name: "adb", listErr: errors.New("protocol fault")}
	reg := New(testLog(), svc)

	got, err := reg.Resolve(context.Background(), domain.ExplicitDevices("A"), true)
	if !errors.Is(err, domain.ErrDiscoveryUnavailable) {
		t.Fatalf("expected ErrDiscoveryUnavailable, got %v", err)
	}
	if svc.closes.Load() != 1 {
		t.Fatalf("closes = %d, want 1", svc.closes.Load())
	}
	if !reflect.DeepEqual(got.Serials(), []string{"A"}) {
		t.Fatalf("serials = %v", got.Serials())
	}
}

func TestResolveNoServices(t *testing.T) {
	reg := New(testLog())

	got, err := reg.Resolve(context.Background(), domain.ExplicitDevices("A"), true)
	if !errors.Is(err, domain.ErrDiscoveryUnavailable) {
		t.Fatalf("expected ErrDiscoveryUnavailable, got %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("base devices lost: %v", got.Serials())
	}

	if _, err := reg.Resolve(context.Background(), domain.ExplicitDevices("A"), false); err != nil {
		t.Fatalf("no discovery requested, got %v", err)
	}
}

func TestResolveEmptyBaseDiscoversAll(t *testing.T) {
	reg := New(testLog(),
		&fakeService{name: "adb", devices: adbDevices("emulator-5554", "emulator-5556")},
		&fakeService{name: "nmap", devices: []domain.Device{
			{Serial: "192.168.1.20:5555", Source: domain.SourceNmap},
			{Serial: "emulator-5554", Source: domain.SourceNmap},
		}},
	)

	got, err := reg.Resolve(context.Background(), domain.DeviceSet{}, true)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := []string{"emulator-5554", "emulator-5556", "192.168.1.20:5555"}
	if !reflect.DeepEqual(got.Serials(), want) {
		t.Fatalf("serials = %v, want %v", got.Serials(), want)
	}
}
