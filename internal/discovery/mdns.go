package discovery

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"bytemomo/armada/internal/domain"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMDNSService is advertised by devices with wireless debugging on.
	DefaultMDNSService = "_adb-tls-connect._tcp.local."
	defaultMDNSTimeout = 2 * time.Second

	// qclassUnicastResponse asks responders to answer the querying socket
	// directly instead of the multicast group.
	qclassUnicastResponse = 1 << 15
)

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MDNSService discovers devices advertising adb over mDNS.
type MDNSService struct {
	Log    *logrus.Entry
	Config domain.MDNSServiceConfig
}

func (s *MDNSService) Name() string { return ServiceTypeMDNS }

// Connect opens the UDP socket used for the query.
func (s *MDNSService) Connect(ctx context.Context) (domain.DiscoveryConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open mdns socket: %w", err)
	}

	service := s.Config.Service
	if service == "" {
		service = DefaultMDNSService
	}
	timeout := s.Config.Timeout
	if timeout <= 0 {
		timeout = defaultMDNSTimeout
	}
	return &mdnsConn{
		log:     s.log(),
		conn:    conn,
		service: dns.Fqdn(service),
		timeout: timeout,
	}, nil
}

type mdnsConn struct {
	log     *logrus.Entry
	conn    *net.UDPConn
	service string
	timeout time.Duration
}

func (c *mdnsConn) Devices(ctx context.Context) ([]domain.Device, error) {
	query := new(dns.Msg)
	query.SetQuestion(c.service, dns.TypePTR)
	query.Question[0].Qclass |= qclassUnicastResponse
	query.RecursionDesired = false

	packed, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack mdns query: %w", err)
	}
	if _, err := c.conn.WriteToUDP(packed, mdnsGroup); err != nil {
		return nil, fmt.Errorf("send mdns query: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var replies []*dns.Msg
	buf := make([]byte, 65536)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return nil, fmt.Errorf("read mdns reply: %w", err)
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			c.log.WithError(err).Debug("Ignoring malformed mdns packet")
			continue
		}
		replies = append(replies, msg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := devicesFromReplies(c.service, replies)
	c.log.WithFields(logrus.Fields{
		"replies": len(replies),
		"devices": len(devices),
	}).Info("mDNS discovery complete")
	return devices, nil
}

func (c *mdnsConn) Close() error { return c.conn.Close() }

func (s *MDNSService) log() *logrus.Entry { return serviceLog(s.Log, ServiceTypeMDNS) }

// devicesFromReplies resolves PTR -> SRV -> A/AAAA across all replies and
// returns one "ip:port" device per advertised instance.
func devicesFromReplies(service string, replies []*dns.Msg) []domain.Device {
	instances := map[string]struct{}{}
	srv := map[string]*dns.SRV{}
	addrs := map[string][]net.IP{}

	for _, msg := range replies {
		records := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)
		for _, rr := range records {
			switch r := rr.(type) {
			case *dns.PTR:
				if strings.EqualFold(r.Hdr.Name, service) {
					instances[strings.ToLower(r.Ptr)] = struct{}{}
				}
			case *dns.SRV:
				srv[strings.ToLower(r.Hdr.Name)] = r
			case *dns.A:
				host := strings.ToLower(r.Hdr.Name)
				addrs[host] = append(addrs[host], r.A)
			case *dns.AAAA:
				host := strings.ToLower(r.Hdr.Name)
				addrs[host] = append(addrs[host], r.AAAA)
			}
		}
	}

	var out []domain.Device
	seen := map[string]struct{}{}
	for _, instance := range slices.Sorted(maps.Keys(instances)) {
		rec, ok := srv[instance]
		if !ok {
			continue
		}
		ip := preferIPv4(addrs[strings.ToLower(rec.Target)])
		if ip == nil {
			continue
		}
		serial := net.JoinHostPort(ip.String(), strconv.Itoa(int(rec.Port)))
		if _, dup := seen[serial]; dup {
			continue
		}
		seen[serial] = struct{}{}
		out = append(out, domain.Device{Serial: serial, Source: domain.SourceMDNS})
	}
	return out
}

func preferIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip
		}
	}
	if len(ips) > 0 {
		return ips[0]
	}
	return nil
}
