package domain

import "strings"

// DeviceSource records where a device identity came from.
type DeviceSource string

const (
	SourceExplicit DeviceSource = "explicit"
	SourceADB      DeviceSource = "adb"
	SourceNmap     DeviceSource = "nmap"
	SourceMDNS     DeviceSource = "mdns"
)

// Device is one target able to run a test execution on its own.
type Device struct {
	Serial string       `json:"serial" yaml:"serial"`
	Source DeviceSource `json:"source,omitempty" yaml:"source,omitempty"`
}

// Key returns the identity used for deduplication.
func (d Device) Key() string { return d.Serial }

func (d Device) String() string { return d.Serial }

// DeviceSet is an ordered collection of devices with unique serials.
// The zero value is an empty set. A DeviceSet is never mutated after
// construction; Devices hands out copies.
type DeviceSet struct {
	devices []Device
	index   map[string]struct{}
}

// NewDeviceSet builds a set, keeping the first occurrence of each serial.
// Blank serials are dropped.
func NewDeviceSet(devices ...Device) DeviceSet {
	s := DeviceSet{index: make(map[string]struct{}, len(devices))}
	for _, d := range devices {
		d.Serial = strings.TrimSpace(d.Serial)
		if d.Serial == "" {
			continue
		}
		if _, ok := s.index[d.Key()]; ok {
			continue
		}
		s.index[d.Key()] = struct{}{}
		s.devices = append(s.devices, d)
	}
	return s
}

// ExplicitDevices turns caller-supplied serials into a set.
func ExplicitDevices(serials ...string) DeviceSet {
	devices := make([]Device, 0, len(serials))
	for _, serial := range serials {
		devices = append(devices, Device{Serial: serial, Source: SourceExplicit})
	}
	return NewDeviceSet(devices...)
}

// Union returns a new set holding s followed by the members of other that
// are not already present.
func (s DeviceSet) Union(other ...Device) DeviceSet {
	all := make([]Device, 0, len(s.devices)+len(other))
	all = append(all, s.devices...)
	all = append(all, other...)
	return NewDeviceSet(all...)
}

// Len returns the number of devices.
func (s DeviceSet) Len() int { return len(s.devices) }

// Contains reports whether serial is a member.
func (s DeviceSet) Contains(serial string) bool {
	_, ok := s.index[serial]
	return ok
}

// Devices returns a copy of the members in insertion order.
func (s DeviceSet) Devices() []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Serials returns the member identities in insertion order.
func (s DeviceSet) Serials() []string {
	out := make([]string, len(s.devices))
	for i, d := range s.devices {
		out[i] = d.Serial
	}
	return out
}
