package discovery

import (
	"net"
	"slices"
	"testing"

	"bytemomo/armada/internal/domain"

	"github.com/miekg/dns"
)

func hdr(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: 120}
}

func TestDevicesFromReplies(t *testing.T) {
	service := DefaultMDNSService
	instance := "adb-R58M123-abc." + service

	answer := new(dns.Msg)
	answer.Answer = []dns.RR{
		&dns.PTR{Hdr: hdr(service, dns.TypePTR), Ptr: instance},
	}
	answer.Extra = []dns.RR{
		&dns.SRV{Hdr: hdr(instance, dns.TypeSRV), Target: "Android.local.", Port: 37123},
		&dns.AAAA{Hdr: hdr("Android.local.", dns.TypeAAAA), AAAA: net.ParseIP("fe80::2")},
		&dns.A{Hdr: hdr("Android.local.", dns.TypeA), A: net.ParseIP("192.168.1.42")},
	}

	orphan := new(dns.Msg)
	orphan.Answer = []dns.RR{
		&dns.PTR{Hdr: hdr(service, dns.TypePTR), Ptr: "adb-missing-srv." + service},
		&dns.PTR{Hdr: hdr("_other._tcp.local.", dns.TypePTR), Ptr: "printer._other._tcp.local."},
	}

	devices := devicesFromReplies(service, []*dns.Msg{answer, orphan, answer})
	if len(devices) != 1 {
		t.Fatalf("expected one device, got %+v", devices)
	}
	if devices[0].Serial != "192.168.1.42:37123" || devices[0].Source != domain.SourceMDNS {
		t.Fatalf("unexpected device %+v", devices[0])
	}
}

func TestDevicesFromRepliesEmpty(t *testing.T) {
	if got := devicesFromReplies(DefaultMDNSService, nil); len(got) != 0 {
		t.Fatalf("expected no devices, got %+v", got)
	}
}

func TestDevicesFromRepliesStableOrder(t *testing.T) {
	service := DefaultMDNSService
	msg := new(dns.Msg)
	for _, inst := range []struct {
		name string
		ip   string
	}{
		{"adb-c", "192.168.1.13"},
		{"adb-a", "192.168.1.11"},
		{"adb-d", "192.168.1.14"},
		{"adb-b", "192.168.1.12"},
	} {
		instance := inst.name + "." + service
		host := inst.name + ".local."
		msg.Answer = append(msg.Answer, &dns.PTR{Hdr: hdr(service, dns.TypePTR), Ptr: instance})
		msg.Extra = append(msg.Extra,
			&dns.SRV{Hdr: hdr(instance, dns.TypeSRV), Target: host, Port: 5555},
			&dns.A{Hdr: hdr(host, dns.TypeA), A: net.ParseIP(inst.ip)},
		)
	}

	want := []string{"192.168.1.11:5555", "192.168.1.12:5555", "192.168.1.13:5555", "192.168.1.14:5555"}
	for range 20 {
		devices := devicesFromReplies(service, []*dns.Msg{msg})
		got := make([]string, len(devices))
		for i, d := range devices {
			got[i] = d.Serial
		}
		if !slices.Equal(got, want) {
			t.Fatalf("devices = %v, want %v", got, want)
		}
	}
}
