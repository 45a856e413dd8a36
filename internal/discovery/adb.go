package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"bytemomo/armada/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	DefaultADBAddr        = "127.0.0.1:5037"
	defaultADBDialTimeout = 5 * time.Second
)

// ADBService lists devices known to a running adb server.
type ADBService struct {
	Log    *logrus.Entry
	Config domain.ADBServiceConfig
}

func (s *ADBService) Name() string { return ServiceTypeADB }

// Connect dials the adb server. The returned connection serves a single
// host request, as the adb server closes it after replying.
func (s *ADBService) Connect(ctx context.Context) (domain.DiscoveryConn, error) {
	addr := s.Config.Addr
	if addr == "" {
		addr = DefaultADBAddr
	}
	timeout := s.Config.DialTimeout
	if timeout <= 0 {
		timeout = defaultADBDialTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial adb server %s: %w", addr, err)
	}

	log := s.log()
	log.WithField("addr", addr).Debug("Connected to adb server")
	return &adbConn{
		log:            log,
		conn:           conn,
		includeOffline: s.Config.IncludeOffline,
	}, nil
}

type adbConn struct {
	log            *logrus.Entry
	conn           net.Conn
	includeOffline bool
}

func (c *adbConn) Devices(ctx context.Context) ([]domain.Device, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := writeHostRequest(c.conn, "host:devices"); err != nil {
		return nil, err
	}

	r := bufio.NewReader(c.conn)
	if err := readStatus(r); err != nil {
		return nil, err
	}
	payload, err := readLengthPrefixed(r)
	if err != nil {
		return nil, fmt.Errorf("read device list: %w", err)
	}

	devices := parseDeviceList(payload, c.includeOffline)
	c.log.WithField("count", len(devices)).Debug("adb server listed devices")
	return devices, nil
}

func (c *adbConn) Close() error { return c.conn.Close() }

func (s *ADBService) log() *logrus.Entry { return serviceLog(s.Log, ServiceTypeADB) }

// writeHostRequest frames a request as four hex digits of length followed
// by the payload.
func writeHostRequest(w io.Writer, req string) error {
	if _, err := fmt.Fprintf(w, "%04x%s", len(req), req); err != nil {
		return fmt.Errorf("send %q: %w", req, err)
	}
	return nil
}

func readStatus(r *bufio.Reader) error {
	status := make([]byte, 4)
	if _, err := io.ReadFull(r, status); err != nil {
		return fmt.Errorf("read adb status: %w", err)
	}
	switch string(status) {
	case "OKAY":
		return nil
	case "FAIL":
		msg, err := readLengthPrefixed(r)
		if err != nil {
			return errors.New("adb server failed without a message")
		}
		return fmt.Errorf("adb server: %s", msg)
	default:
		return fmt.Errorf("unexpected adb status %q", status)
	}
}

func readLengthPrefixed(r *bufio.Reader) (string, error) {
	hex := make([]byte, 4)
	if _, err := io.ReadFull(r, hex); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(hex), 16, 32)
	if err != nil {
		return "", fmt.Errorf("invalid length %q: %w", hex, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// parseDeviceList reads "serial\tstate" lines. Only devices in the "device"
// state are usable unless includeOffline is set.
func parseDeviceList(payload string, includeOffline bool) []domain.Device {
	var out []domain.Device
	for _, line := range strings.Split(payload, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		serial, state := fields[0], fields[1]
		if state != "device" && !includeOffline {
			continue
		}
		out = append(out, domain.Device{Serial: serial, Source: domain.SourceADB})
	}
	return out
}
