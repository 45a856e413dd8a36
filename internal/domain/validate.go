package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the run configuration before anything touches a device.
func (c RunConfig) Validate() error {
	if c.Output == "" {
		return errors.New("run.output is required")
	}
	if c.DeviceTimeout < 0 {
		return fmt.Errorf("run.device_timeout must not be negative: %s", c.DeviceTimeout)
	}
	if c.MaxParallelDevices < 0 {
		return fmt.Errorf("run.max_parallel_devices must not be negative: %d", c.MaxParallelDevices)
	}
	if c.MethodName != "" && c.ClassName == "" {
		return errors.New("run.method requires run.class")
	}
	return nil
}

// Validate checks a discovery service entry.
func (s ServiceConfig) Validate() error {
	switch s.Type {
	case "adb", "":
		return nil
	case "nmap":
		if s.Nmap == nil || len(s.Nmap.Targets) == 0 {
			return errors.New("discovery nmap: targets are required")
		}
		return nil
	case "mdns":
		return nil
	default:
		return fmt.Errorf("unknown discovery service type: %s", s.Type)
	}
}

// Validate checks the executor selection.
func (e ExecutorConfig) Validate() error {
	switch e.EffectiveType() {
	case "instrument":
		return nil
	case "grpc":
		if e.GRPC == nil || e.GRPC.Server == "" {
			return errors.New("executor.grpc.server is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown executor type: %s", e.Type)
	}
}

// Validate checks the whole suite.
func (s *Suite) Validate() error {
	if s.ID == "" {
		return errors.New("suite id is required")
	}
	if err := s.Run.Validate(); err != nil {
		return err
	}
	switch s.Discovery.EffectivePolicy() {
	case UnavailableContinue, UnavailableAbort:
	default:
		return fmt.Errorf("invalid discovery.on_unavailable: %s", s.Discovery.OnUnavailable)
	}
	for i, svc := range s.Discovery.Services {
		if svc == nil {
			return fmt.Errorf("discovery service %d is nil", i)
		}
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("discovery service %d: %w", i, err)
		}
	}
	if err := s.Executor.Validate(); err != nil {
		return err
	}
	if s.Sinks.MQTT != nil && s.Sinks.MQTT.Broker == "" {
		return errors.New("sinks.mqtt.broker is required")
	}
	if s.Sinks.SQLite != nil {
		if s.Sinks.SQLite.Path == "" {
			return errors.New("sinks.sqlite.path is required")
		}
		if InsideDir(s.Run.Output, s.Sinks.SQLite.Path) {
			return fmt.Errorf("sinks.sqlite.path %s is inside run.output, which is wiped before each run", s.Sinks.SQLite.Path)
		}
	}
	return nil
}

// InsideDir reports whether path is root or lies below it. SQLite special
// names such as ":memory:" and "file:" URIs are never inside a directory.
func InsideDir(root, path string) bool {
	if root == "" || path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
