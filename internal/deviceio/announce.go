// Package deviceio hosts the optional hardware-adjacent glue around the
// pipeline: USB hotplug detection, a GPIO status indicator, mDNS/DNS-SD
// service announcement, and a pty-backed local console. None of it sits
// on the sample-data path; the orchestrator and its stages run fine with
// every piece in this package left unstarted.
package deviceio

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const dnssdServiceType = "_daqcore._tcp"

// ServiceAnnouncer announces the command socket over mDNS/DNS-SD, the
// same pure-Go brutella/dnssd path teacher's dns_sd.go uses for its KISS
// TCP service — no system daemon or cgo resolver needed.
type ServiceAnnouncer struct {
	Log *log.Logger

	responder dnssd.Responder
}

// Announce registers name (or a hostname-derived default) on port and
// starts responding to mDNS queries in the background. Cancel ctx to stop
// responding.
func (a *ServiceAnnouncer) Announce(ctx context.Context, name string, port int) error {
	if name == "" {
		name = defaultServiceName()
	}

	cfg := dnssd.Config{
		Name: name,
		Type: dnssdServiceType,
		Port: port,
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return err
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return err
	}
	if _, err := rp.Add(sv); err != nil {
		return err
	}
	a.responder = rp

	if a.Log != nil {
		a.Log.Info("dns-sd: announcing command service", "port", port, "name", name)
	}

	go func() {
		if err := rp.Respond(ctx); err != nil && a.Log != nil {
			a.Log.Warn("dns-sd: responder stopped", "err", err)
		}
	}()
	return nil
}

// defaultServiceName mirrors the teacher's hostname-based default:
// "daqcore on <hostname>", with any FQDN domain suffix stripped.
func defaultServiceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "daqcore"
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return "daqcore on " + hostname
}
