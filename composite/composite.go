// Package composite assembles a single composite device.Device exposing any
// combination of the class engines in device/class/{cdc,msc,printer,hid}.
//
// It lives outside the device package because every class engine already
// imports device; Build orchestrates them by calling their existing
// ConfigureDevice/AttachTo* methods in a fixed order (MSC, then each CDC
// channel, then Printer, then HID), assigning interface and endpoint numbers
// deterministically as it goes. Callers still own HAL selection: Build
// returns the class drivers unattached to any device.Stack, so the caller
// constructs the Stack from whichever HAL backend it targets and calls
// SetStack on each driver before starting it.
package composite

import (
	"context"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/device/class/cdc"
	"github.com/gousbd/usbdevice/device/class/hid"
	"github.com/gousbd/usbdevice/device/class/msc"
	"github.com/gousbd/usbdevice/device/class/printer"
	"github.com/gousbd/usbdevice/pkg"
)

// classMultiInterfaceFunction is the device class/subclass/protocol used
// when the assembled configuration carries more than one function, per the
// USB IAD ECN (0xEF/0x02/0x01).
const (
	classMultiInterfaceFunction    = 0xEF
	subclassMultiInterfaceFunction = 0x02
	protocolMultiInterfaceFunction = 0x01
)

// Config selects which class engines to include in a composite device and
// how they are configured. The zero value builds a device with no
// interfaces, which Build rejects.
type Config struct {
	// EnableMSC adds one Mass Storage (BOT/SCSI) interface backed by
	// Storage.
	EnableMSC  bool
	Storage    msc.Storage
	MSCVendor  string // 8-char SCSI INQUIRY vendor ID
	MSCProduct string // 16-char SCSI INQUIRY product ID

	// CDCChannels adds this many independent CDC-ACM virtual COM ports,
	// clamped to cdc.MaxChannels.
	CDCChannels int
	// SharedCDCNotifyEndpoint makes every channel after the first reuse
	// channel 0's interrupt IN endpoint (USE_COMMON_CDC_INT_IN_EP).
	SharedCDCNotifyEndpoint bool

	// EnablePrinter adds one Printer Class interface.
	EnablePrinter bool
	// PrinterBidirectional adds a bulk IN endpoint for GET_PORT_STATUS-style
	// device-to-host data alongside the mandatory bulk OUT job data pipe.
	PrinterBidirectional bool
	PrinterDeviceID      string // IEEE 1284 device ID string

	// EnableHID adds one HID interface.
	EnableHID        bool
	HIDReportDesc    []byte
	HIDOutputReports bool // add an interrupt OUT endpoint (e.g. keyboard LEDs)
	HIDSubclass      uint8
	HIDProtocol      uint8
}

// Result bundles the assembled device with the class drivers Build attached
// to it, so the caller can wire Stack references and event callbacks.
type Result struct {
	Device  *device.Device
	CDC     *cdc.Manager // nil if cfg.CDCChannels == 0
	MSC     *msc.MSC     // nil unless cfg.EnableMSC
	Printer *printer.Printer
	HID     *hid.HID
}

// endpointAllocator hands out ascending endpoint numbers (1-15), one per
// logical pipe; a pipe's IN and OUT directions share a number, matching how
// a bulk or interrupt pair is conventionally wired on a real controller.
type endpointAllocator struct {
	next uint8
}

func newEndpointAllocator() *endpointAllocator {
	return &endpointAllocator{next: 1}
}

func (a *endpointAllocator) take() uint8 {
	n := a.next
	a.next++
	return n
}

// Build assembles a composite device.Device per cfg, assigning interface
// and endpoint numbers deterministically, and returns the class drivers
// attached to configuration 1.
func Build(ctx context.Context, cfg Config, vendorID, productID uint16, manufacturer, product, serial string) (*Result, error) {
	n := cfg.CDCChannels
	if n > cdc.MaxChannels {
		n = cdc.MaxChannels
	}
	if n < 0 {
		n = 0
	}

	functionCount := n + boolToInt(cfg.EnableMSC) + boolToInt(cfg.EnablePrinter) + boolToInt(cfg.EnableHID)
	if functionCount == 0 {
		return nil, pkg.ErrInvalidParameter
	}

	pkg.LogInfo(pkg.ComponentComposite, "assembling composite device",
		"cdcChannels", n, "msc", cfg.EnableMSC, "printer", cfg.EnablePrinter, "hid", cfg.EnableHID)

	builder := device.NewDeviceBuilder().
		WithVendorProduct(vendorID, productID).
		WithStrings(manufacturer, product, serial)

	switch {
	case functionCount > 1:
		builder.WithDeviceClass(classMultiInterfaceFunction, subclassMultiInterfaceFunction, protocolMultiInterfaceFunction)
	case n == 1:
		builder.WithDeviceClass(cdc.ClassCDC, cdc.SubclassACM, 0x00)
	}

	builder.AddConfiguration(1)

	eps := newEndpointAllocator()
	result := &Result{}
	nextIface := uint8(0)

	if cfg.EnableMSC {
		pipe := eps.take()
		m := msc.New(cfg.Storage, cfg.MSCVendor, cfg.MSCProduct)
		m.ConfigureDevice(builder, pipe|device.EndpointDirectionIn, pipe)
		result.MSC = m
		nextIface++
	}

	var cdcIfaceStart uint8
	if n > 0 {
		cdcIfaceStart = nextIface
		mgr := cdc.NewManager(n)
		mgr.UseSharedNotifyEndpoint(cfg.SharedCDCNotifyEndpoint)

		notify := make([]uint8, n)
		dataIn := make([]uint8, n)
		dataOut := make([]uint8, n)
		for i := 0; i < n; i++ {
			if i == 0 || !cfg.SharedCDCNotifyEndpoint {
				notify[i] = eps.take()
			}
			data := eps.take()
			dataIn[i] = data
			dataOut[i] = data
		}
		mgr.ConfigureDevice(builder, notify, dataIn, dataOut)
		for i := 0; i < n; i++ {
			first := cdcIfaceStart + uint8(2*i)
			builder.AddAssociation(first, 2, cdc.ClassCDC, cdc.SubclassACM, cdc.ProtocolAT)
		}
		result.CDC = mgr
		nextIface += uint8(2 * n)
	}

	var printerIface uint8
	if cfg.EnablePrinter {
		printerIface = nextIface
		pipe := eps.take()
		dataIn := uint8(0)
		if cfg.PrinterBidirectional {
			dataIn = pipe | device.EndpointDirectionIn
		}
		p := printer.New(cfg.PrinterDeviceID)
		p.ConfigureDevice(builder, pipe, dataIn)
		result.Printer = p
		nextIface++
	}

	var hidIface uint8
	if cfg.EnableHID {
		hidIface = nextIface
		pipe := eps.take()
		h := hid.New(cfg.HIDReportDesc)
		if cfg.HIDOutputReports {
			h.ConfigureDeviceWithOutEP(builder, pipe, pipe, cfg.HIDSubclass, cfg.HIDProtocol)
		} else {
			h.ConfigureDevice(builder, pipe, cfg.HIDSubclass, cfg.HIDProtocol)
		}
		result.HID = h
		nextIface++
	}

	dev, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	config := dev.GetConfiguration(1)
	if config != nil {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	if result.MSC != nil {
		if err := result.MSC.AttachToInterface(dev, 1, 0); err != nil {
			return nil, err
		}
	}
	if result.CDC != nil {
		ifaceNums := make([]uint8, 2*n)
		for i := range ifaceNums {
			ifaceNums[i] = cdcIfaceStart + uint8(i)
		}
		if err := result.CDC.AttachToInterfaces(dev, 1, ifaceNums); err != nil {
			return nil, err
		}
	}
	if result.Printer != nil {
		if err := result.Printer.AttachToInterface(dev, 1, printerIface); err != nil {
			return nil, err
		}
	}
	if result.HID != nil {
		if err := result.HID.AttachToInterface(dev, 1, hidIface); err != nil {
			return nil, err
		}
	}

	result.Device = dev
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
