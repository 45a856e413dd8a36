package domain

import "time"

// RunConfig holds the test execution parameters shared by every device.
// It is passed by value and never modified once dispatch begins.
type RunConfig struct {
	// Output is the workspace root. It is wiped before each run.
	Output string `yaml:"output"`

	TestPackage string `yaml:"test_package,omitempty"`
	TestRunner  string `yaml:"test_runner,omitempty"`
	ApkPath     string `yaml:"apk,omitempty"`
	TestApkPath string `yaml:"test_apk,omitempty"`

	InstrumentationArgs map[string]string `yaml:"instrumentation_args,omitempty"`
	ClassName           string            `yaml:"class,omitempty"`
	MethodName          string            `yaml:"method,omitempty"`

	// DeviceTimeout bounds a single device execution. Zero waits forever.
	DeviceTimeout time.Duration `yaml:"device_timeout,omitempty"`

	// MaxParallelDevices bounds concurrent executions. Zero means one
	// goroutine per device with no admission limit.
	MaxParallelDevices int `yaml:"max_parallel_devices,omitempty"`
}

// DefaultTestRunner is used when a suite does not name one.
const DefaultTestRunner = "androidx.test.runner.AndroidJUnitRunner"

// EffectiveRunner returns the instrumentation runner class.
func (c RunConfig) EffectiveRunner() string {
	if c.TestRunner == "" {
		return DefaultTestRunner
	}
	return c.TestRunner
}

// UnavailablePolicy decides what a run does when discovery fails.
type UnavailablePolicy string

const (
	UnavailableContinue UnavailablePolicy = "continue"
	UnavailableAbort    UnavailablePolicy = "abort"
)

// DiscoveryConfig lists the discovery services a suite may query.
type DiscoveryConfig struct {
	OnUnavailable UnavailablePolicy `yaml:"on_unavailable,omitempty"`
	Services      []*ServiceConfig  `yaml:"services,omitempty"`
}

// EffectivePolicy defaults to continuing with the explicit devices.
func (d DiscoveryConfig) EffectivePolicy() UnavailablePolicy {
	if d.OnUnavailable == "" {
		return UnavailableContinue
	}
	return d.OnUnavailable
}

// ServiceConfig is the configuration of one discovery service.
type ServiceConfig struct {
	Type string             `yaml:"type"` // "adb", "nmap" or "mdns"
	ADB  *ADBServiceConfig  `yaml:"adb,omitempty"`
	Nmap *NmapServiceConfig `yaml:"nmap,omitempty"`
	MDNS *MDNSServiceConfig `yaml:"mdns,omitempty"`
}

// ADBServiceConfig points at a running adb server.
type ADBServiceConfig struct {
	Addr           string        `yaml:"addr,omitempty"`
	DialTimeout    time.Duration `yaml:"dial_timeout,omitempty"`
	IncludeOffline bool          `yaml:"include_offline,omitempty"`
}

// NmapServiceConfig scans networks for adb-over-TCP listeners.
type NmapServiceConfig struct {
	Targets           []string      `yaml:"targets"`
	Ports             []string      `yaml:"ports,omitempty"`
	Interface         string        `yaml:"iface,omitempty"`
	SkipHostDiscovery bool          `yaml:"skip_host_discovery,omitempty"`
	Timing            string        `yaml:"timing,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
}

// MDNSServiceConfig queries the local link for wireless debugging adverts.
type MDNSServiceConfig struct {
	Service string        `yaml:"service,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ExecutorConfig selects the execution step implementation.
type ExecutorConfig struct {
	Type       string            `yaml:"type,omitempty"` // "instrument" (default) or "grpc"
	Instrument *InstrumentConfig `yaml:"instrument,omitempty"`
	GRPC       *GRPCConfig       `yaml:"grpc,omitempty"`
}

// EffectiveType defaults to local instrumentation through adb.
func (e ExecutorConfig) EffectiveType() string {
	if e.Type == "" {
		return "instrument"
	}
	return e.Type
}

// InstrumentConfig configures the adb instrumentation executor.
type InstrumentConfig struct {
	ADB string `yaml:"adb,omitempty"`
}

// GRPCConfig points at a remote device agent.
type GRPCConfig struct {
	Server string `yaml:"server"`
}

// SinksConfig enables optional result sinks.
type SinksConfig struct {
	MQTT   *MQTTSinkConfig   `yaml:"mqtt,omitempty"`
	SQLite *SQLiteSinkConfig `yaml:"sqlite,omitempty"`
}

// MQTTSinkConfig publishes per-device results to a broker.
type MQTTSinkConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id,omitempty"`
	Topic    string        `yaml:"topic,omitempty"`
	QoS      byte          `yaml:"qos,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// SQLiteSinkConfig persists run history.
type SQLiteSinkConfig struct {
	Path string `yaml:"path"`
}

// Suite is a complete run request as read from a YAML file.
type Suite struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name,omitempty"`
	Run               RunConfig       `yaml:"run"`
	Devices           []string        `yaml:"devices,omitempty"`
	IncludeDiscovered bool            `yaml:"include_discovered,omitempty"`
	Discovery         DiscoveryConfig `yaml:"discovery,omitempty"`
	Executor          ExecutorConfig  `yaml:"executor,omitempty"`
	Sinks             SinksConfig     `yaml:"sinks,omitempty"`
}
