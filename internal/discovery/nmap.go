package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"bytemomo/armada/internal/domain"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/sirupsen/logrus"
)

// DefaultADBPort is the port adbd listens on in TCP mode.
const DefaultADBPort = "5555"

// NmapService finds devices listening for adb over TCP.
type NmapService struct {
	Log    *logrus.Entry
	Config domain.NmapServiceConfig
}

func (s *NmapService) Name() string { return ServiceTypeNmap }

// Connect validates the scan scope. nmap itself runs inside Devices.
func (s *NmapService) Connect(ctx context.Context) (domain.DiscoveryConn, error) {
	targets := sanitizeTargets(s.Config.Targets)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid scan targets provided")
	}
	return &nmapConn{log: s.log(), cfg: s.Config, targets: targets}, nil
}

func (s *NmapService) log() *logrus.Entry { return serviceLog(s.Log, ServiceTypeNmap) }

type nmapConn struct {
	log     *logrus.Entry
	cfg     domain.NmapServiceConfig
	targets []string
}

func (c *nmapConn) Devices(ctx context.Context) ([]domain.Device, error) {
	ports := c.cfg.Ports
	if len(ports) == 0 {
		ports = []string{DefaultADBPort}
	}

	c.log.WithFields(logrus.Fields{
		"targets": c.targets,
		"ports":   ports,
	}).Info("Starting nmap scan")

	opts := []nmap.Option{
		nmap.WithTargets(c.targets...),
		nmap.WithPorts(strings.Join(ports, ",")),
		nmap.WithDisabledDNSResolution(),
		nmap.WithOpenOnly(),
		nmap.WithConnectScan(),
	}
	if c.cfg.Interface != "" {
		opts = append(opts, nmap.WithInterface(c.cfg.Interface))
	}
	if c.cfg.SkipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}
	if timing, ok := timingTemplate(c.cfg.Timing); ok {
		opts = append(opts, nmap.WithTimingTemplate(timing))
	} else {
		c.log.Errorf("Wrong timing for nmap discovery: %s", c.cfg.Timing)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("run nmap: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		c.log.WithField("warnings", *warnings).Warn("Nmap scan produced warnings")
	}

	devices := devicesFromHosts(result.Hosts)
	c.log.WithFields(logrus.Fields{
		"hosts":   len(result.Hosts),
		"devices": len(devices),
	}).Info("Nmap scan complete")
	return devices, nil
}

func (c *nmapConn) Close() error { return nil }

// devicesFromHosts turns every open TCP port into a "host:port" serial, the
// form adb uses for network devices.
func devicesFromHosts(hosts []nmap.Host) []domain.Device {
	var out []domain.Device
	seen := make(map[string]struct{})
	for _, h := range hosts {
		host := pickHostAddress(h)
		if host == "" {
			continue
		}
		for _, p := range h.Ports {
			if !strings.EqualFold(p.Protocol, "tcp") {
				continue
			}
			if !strings.HasPrefix(strings.ToLower(p.State.State), "open") {
				continue
			}
			serial := net.JoinHostPort(host, strconv.Itoa(int(p.ID)))
			if _, ok := seen[serial]; ok {
				continue
			}
			seen[serial] = struct{}{}
			out = append(out, domain.Device{Serial: serial, Source: domain.SourceNmap})
		}
	}
	return out
}

func timingTemplate(name string) (nmap.Timing, bool) {
	switch strings.ToUpper(name) {
	case "T0":
		return nmap.TimingSlowest, true
	case "T1":
		return nmap.TimingSneaky, true
	case "T2":
		return nmap.TimingPolite, true
	case "", "T3":
		return nmap.TimingNormal, true
	case "T4":
		return nmap.TimingAggressive, true
	case "T5":
		return nmap.TimingFastest, true
	default:
		return nmap.TimingNormal, false
	}
}

func sanitizeTargets(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func pickHostAddress(h nmap.Host) string {
	for _, a := range h.Addresses {
		if a.AddrType == "ipv4" {
			return a.Addr
		}
	}
	for _, a := range h.Addresses {
		if a.AddrType == "ipv6" {
			return a.Addr
		}
	}
	if len(h.Addresses) > 0 {
		return h.Addresses[0].Addr
	}
	return ""
}
