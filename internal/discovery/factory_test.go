package discovery

import (
	"context"
	"testing"

	"bytemomo/armada/internal/domain"
)

func TestNewServiceADBDefault(t *testing.T) {
	svc, err := NewService(discardLog(), &domain.ServiceConfig{})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if svc.Name() != ServiceTypeADB {
		t.Errorf("expected %q, got %q", ServiceTypeADB, svc.Name())
	}
	if _, ok := svc.(*ADBService); !ok {
		t.Fatalf("expected *ADBService, got %T", svc)
	}
}

func TestNewServiceNmap(t *testing.T) {
	cfg := &domain.ServiceConfig{
		Type: ServiceTypeNmap,
		Nmap: &domain.NmapServiceConfig{Targets: []string{"192.168.1.0/24"}, Ports: []string{"5555", "5557"}},
	}
	svc, err := NewService(discardLog(), cfg)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	n, ok := svc.(*NmapService)
	if !ok {
		t.Fatalf("expected *NmapService, got %T", svc)
	}
	if len(n.Config.Ports) != 2 || n.Config.Targets[0] != "192.168.1.0/24" {
		t.Errorf("unexpected config %+v", n.Config)
	}
}

func TestNewServiceNmapMissingConfig(t *testing.T) {
	if _, err := NewService(discardLog(), &domain.ServiceConfig{Type: ServiceTypeNmap}); err == nil {
		t.Fatal("expected error for missing nmap config")
	}
}

func TestNewServiceMDNS(t *testing.T) {
	svc, err := NewService(discardLog(), &domain.ServiceConfig{Type: ServiceTypeMDNS})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if svc.Name() != ServiceTypeMDNS {
		t.Errorf("expected %q, got %q", ServiceTypeMDNS, svc.Name())
	}
}

func TestNewServiceErrors(t *testing.T) {
	if _, err := NewService(discardLog(), nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewService(discardLog(), &domain.ServiceConfig{Type: "usb"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNewServicesDefaultsToADB(t *testing.T) {
	services, err := NewServices(discardLog(), nil)
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	if len(services) != 1 || services[0].Name() != ServiceTypeADB {
		t.Fatalf("unexpected services %+v", services)
	}
}

func TestNewServicesWithoutLogger(t *testing.T) {
	services, err := NewServices(nil, []*domain.ServiceConfig{
		{Type: ServiceTypeADB},
		{Type: ServiceTypeNmap, Nmap: &domain.NmapServiceConfig{Targets: []string{"10.0.0.1"}}},
		{Type: ServiceTypeMDNS},
	})
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	if len(services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(services))
	}
}

func TestNmapConnectWithoutLogger(t *testing.T) {
	svc := &NmapService{Config: domain.NmapServiceConfig{Targets: []string{"10.0.0.1"}}}
	conn, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c, ok := conn.(*nmapConn); !ok || c.log == nil {
		t.Fatalf("expected an nmap connection with a logger, got %#v", conn)
	}
	conn.Close()
}
