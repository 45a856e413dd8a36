// Package discovery enumerates reachable Android devices through the adb
// server, network scans and mDNS adverts.
package discovery

import (
	"fmt"

	"bytemomo/armada/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	ServiceTypeADB  = "adb"
	ServiceTypeNmap = "nmap"
	ServiceTypeMDNS = "mdns"
)

// NewService creates a discovery service from configuration.
func NewService(log *logrus.Entry, cfg *domain.ServiceConfig) (domain.DiscoveryService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("discovery config is nil")
	}

	switch cfg.Type {
	case ServiceTypeADB, "":
		adbCfg := cfg.ADB
		if adbCfg == nil {
			adbCfg = &domain.ADBServiceConfig{}
		}
		return &ADBService{
			Log:    serviceLog(log, ServiceTypeADB),
			Config: *adbCfg,
		}, nil

	case ServiceTypeNmap:
		if cfg.Nmap == nil {
			return nil, fmt.Errorf("nmap discovery requires nmap config")
		}
		return &NmapService{
			Log:    serviceLog(log, ServiceTypeNmap),
			Config: *cfg.Nmap,
		}, nil

	case ServiceTypeMDNS:
		mdnsCfg := cfg.MDNS
		if mdnsCfg == nil {
			mdnsCfg = &domain.MDNSServiceConfig{}
		}
		return &MDNSService{
			Log:    serviceLog(log, ServiceTypeMDNS),
			Config: *mdnsCfg,
		}, nil

	default:
		return nil, fmt.Errorf("unknown discovery type: %s", cfg.Type)
	}
}

// NewServices builds every configured service. With no configuration the
// local adb server is used.
func NewServices(log *logrus.Entry, cfgs []*domain.ServiceConfig) ([]domain.DiscoveryService, error) {
	if len(cfgs) == 0 {
		cfgs = []*domain.ServiceConfig{{Type: ServiceTypeADB}}
	}

	services := make([]domain.DiscoveryService, 0, len(cfgs))
	for i, cfg := range cfgs {
		svc, err := NewService(serviceLog(log, "").WithField("discovery_idx", i), cfg)
		if err != nil {
			return nil, fmt.Errorf("create discovery service %d: %w", i, err)
		}
		services = append(services, svc)
	}
	return services, nil
}

// serviceLog tags log with the service type, falling back to the standard
// logger when log is nil.
func serviceLog(log *logrus.Entry, service string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if service == "" {
		return log
	}
	return log.WithField("discovery", service)
}
