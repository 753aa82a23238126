// Package printer implements the USB Printer Class device driver as defined
// by the USB Device Class Definition for Printing Devices.
//
// The Printer class exposes a single bulk OUT pipe carrying the print job
// data stream (PCL, PostScript, or raw IPP/HTTP when tunnelling IPP-over-USB)
// and an optional bulk IN pipe the host can poll for device-originated data
// such as IPP responses or status pages. Unlike Mass Storage or CDC, the
// class defines no wire-level framing for the data pipes: it only adds three
// control requests layered on top of the bulk pipes.
//
// # Control Requests
//
//   - GET_DEVICE_ID returns the IEEE 1284 Device ID string, a set of
//     semicolon-separated key:value pairs (MFG, MDL, CMD, ...) that let the
//     host pick a driver without any data-pipe traffic.
//   - GET_PORT_STATUS reports a one-byte bitmask of paper-out, select, and
//     error conditions.
//   - SOFT_RESET asks the driver to abandon the current job and return to
//     idle, equivalent to a session reset scoped to this interface alone.
//
// # Usage Example
//
//	p := printer.New("MFG:Acme;MDL:Laser1;CMD:PCL;")
//	builder := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1234, 0x5682).
//	    WithStrings("ACME", "USB Printer", "12345678").
//	    AddConfiguration(1)
//	p.ConfigureDevice(builder, 0x02, 0x82)
//	dev, _ := builder.Build(ctx)
//	p.AttachToInterface(dev, 1, 0)
//	stack := device.NewStack(dev, hal)
//	p.SetStack(stack)
//	stack.Start(ctx)
//	p.Run(ctx)
//
// # References
//
//   - USB Device Class Definition for Printing Devices, 1.1
//   - IEEE 1284-2000, section 7.6 (Device ID string)
package printer
