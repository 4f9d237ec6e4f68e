package deviceio

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"

	"github.com/acquicore/daqcore/internal/observer"
)

// DeviceWatcher publishes observer.BoardAttached/BoardDetached whenever a
// USB device matching the acquisition board's vendor/product signature is
// plugged in or removed, so a console or UI can prompt an operator to
// execute openboard rather than polling.
type DeviceWatcher struct {
	Bus *observer.Bus
	Log *log.Logger

	// VendorID/ProductID, if non-empty, restrict matching to one
	// controller's USB IDs; left empty, every USB add/remove is reported.
	VendorID  string
	ProductID string
}

// Run blocks, watching udev's netlink socket for USB subsystem events
// until ctx is cancelled.
func (w *DeviceWatcher) Run(ctx context.Context) error {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("usb"); err != nil {
		return err
	}

	devices, errs, err := mon.DeviceChan(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if w.Log != nil {
				w.Log.Warn("device watcher: netlink error", "err", err)
			}
		case dev, ok := <-devices:
			if !ok {
				return nil
			}
			w.handle(dev)
		}
	}
}

func (w *DeviceWatcher) handle(dev *udev.Device) {
	if w.VendorID != "" && dev.PropertyValue("ID_VENDOR_ID") != w.VendorID {
		return
	}
	if w.ProductID != "" && dev.PropertyValue("ID_MODEL_ID") != w.ProductID {
		return
	}

	kind := observer.BoardAttached
	if dev.Action() == "remove" {
		kind = observer.BoardDetached
	}
	if w.Log != nil {
		w.Log.Info("device watcher: usb event", "action", dev.Action(), "devpath", dev.Devpath())
	}
	if w.Bus != nil {
		w.Bus.Publish(observer.Event{Kind: kind, Payload: dev.Devpath()})
	}
}
