// Package registry resolves the set of devices a run targets.
package registry

import (
	"context"
	"errors"
	"fmt"

	"bytemomo/armada/internal/domain"

	"github.com/sirupsen/logrus"
)

// Registry merges explicitly requested devices with whatever the configured
// discovery services can currently see.
type Registry struct {
	Log      *logrus.Entry
	Services []domain.DiscoveryService
}

func New(log *logrus.Entry, services ...domain.DiscoveryService) *Registry {
	return &Registry{Log: log, Services: services}
}

// Resolve returns base unchanged unless includeDiscovered is set. Otherwise
// every service is queried through its own connection, which is closed before
// Resolve returns. Base devices win over discovered ones with the same serial.
//
// When a service cannot be reached the error wraps ErrDiscoveryUnavailable and
// the returned set still holds base plus the devices of the services that did
// answer.
func (r *Registry) Resolve(ctx context.Context, base domain.DeviceSet, includeDiscovered bool) (domain.DeviceSet, error) {
	if !includeDiscovered {
		return base, nil
	}
	if len(r.Services) == 0 {
		return base, fmt.Errorf("%w: no discovery service configured", domain.ErrDiscoveryUnavailable)
	}

	resolved := base
	var errs []error
	for _, svc := range r.Services {
		found, err := r.discover(ctx, svc)
		if err != nil {
			r.log().WithFields(logrus.Fields{
				"service": svc.Name(),
				"error":   err,
			}).Warn("Discovery service unavailable")
			errs = append(errs, fmt.Errorf("%w: %s: %w", domain.ErrDiscoveryUnavailable, svc.Name(), err))
			continue
		}
		before := resolved.Len()
		resolved = resolved.Union(found...)
		r.log().WithFields(logrus.Fields{
			"service":    svc.Name(),
			"discovered": len(found),
			"added":      resolved.Len() - before,
		}).Info("Discovery service answered")
	}

	r.log().WithFields(logrus.Fields{
		"explicit": base.Len(),
		"total":    resolved.Len(),
	}).Info("Device set resolved")
	return resolved, errors.Join(errs...)
}

func (r *Registry) discover(ctx context.Context, svc domain.DiscoveryService) (devices []domain.Device, err error) {
	conn, err := svc.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.log().WithFields(logrus.Fields{
				"service": svc.Name(),
				"error":   cerr,
			}).Debug("Closing discovery connection failed")
		}
	}()

	devices, err = conn.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (r *Registry) log() *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return r.Log
}
