package printer

import (
	"context"
	"sync"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/pkg"
)

// Printer implements the USB Printer Class driver.
type Printer struct {
	// Interface
	iface *device.Interface

	// Endpoints
	dataOutEP *device.Endpoint // Bulk OUT, print job data (required)
	dataInEP  *device.Endpoint // Bulk IN, device-to-host data (optional)

	// Stack reference for data transfer
	stack *device.Stack

	// IEEE 1284 Device ID string, e.g. "MFG:Acme;MDL:Laser1;CMD:PCL;"
	deviceID string

	// Port status byte reported by GET_PORT_STATUS
	portStatus uint8

	// onData is invoked with each chunk of job data read from the bulk OUT
	// pipe; nil discards the data after logging its length.
	onData func(data []byte)

	// onSoftReset is invoked when the host issues SOFT_RESET.
	onSoftReset func()

	// Buffers (zero-allocation)
	jobBuf      [MaxJobBufferSize]byte
	deviceIDBuf [2 + MaxDeviceIDLength]byte

	// State
	mutex      sync.RWMutex
	configured bool
}

// New creates a new Printer class driver advertising the given IEEE 1284
// Device ID string.
func New(deviceID string) *Printer {
	return &Printer{
		deviceID:   deviceID,
		portStatus: PortStatusNotError | PortStatusSelect,
	}
}

// SetStack sets the device stack reference for data transfer.
func (p *Printer) SetStack(stack *device.Stack) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stack = stack
}

// SetOnData sets the callback invoked with each chunk of print job data.
func (p *Printer) SetOnData(cb func(data []byte)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.onData = cb
}

// SetOnSoftReset sets the callback invoked on SOFT_RESET.
func (p *Printer) SetOnSoftReset(cb func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.onSoftReset = cb
}

// SetPortStatus sets the port status bits reported by GET_PORT_STATUS.
func (p *Printer) SetPortStatus(status uint8) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.portStatus = status
}

// Init initializes the class driver for the given interface.
func (p *Printer) Init(iface *device.Interface) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.iface = iface

	for _, ep := range iface.Endpoints() {
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() {
			p.dataInEP = ep
		} else {
			p.dataOutEP = ep
		}
	}

	if p.dataOutEP == nil {
		return pkg.ErrInvalidEndpoint
	}

	p.configured = true
	pkg.LogDebug(pkg.ComponentPrinter, "printer configured",
		"dataOut", p.dataOutEP.Address)

	return nil
}

// HandleSetup processes class-specific SETUP requests.
func (p *Printer) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	if !setup.IsClass() {
		return false, nil, nil
	}

	switch setup.Request {
	case RequestGetDeviceID:
		return p.handleGetDeviceID(setup)

	case RequestGetPortStatus:
		return p.handleGetPortStatus(setup)

	case RequestSoftReset:
		return p.handleSoftReset(setup)

	default:
		return false, nil, nil
	}
}

// handleGetDeviceID handles GET_DEVICE_ID. The response is the Device ID
// string prefixed by its own length as a 2-byte big-endian count
// (IEEE 1284-2000, section 7.6), a detail easy to miss since every other
// descriptor-like string in this stack is little-endian length-prefixed.
func (p *Printer) handleGetDeviceID(setup *device.SetupPacket) (bool, []byte, error) {
	p.mutex.Lock()
	id := p.deviceID
	if len(id) > MaxDeviceIDLength {
		id = id[:MaxDeviceIDLength]
	}

	total := len(id) + 2
	p.deviceIDBuf[0] = byte(total >> 8)
	p.deviceIDBuf[1] = byte(total)
	copy(p.deviceIDBuf[2:], id)
	resp := p.deviceIDBuf[:total]
	p.mutex.Unlock()

	return true, resp, nil
}

// handleGetPortStatus handles GET_PORT_STATUS.
func (p *Printer) handleGetPortStatus(setup *device.SetupPacket) (bool, []byte, error) {
	p.mutex.Lock()
	p.deviceIDBuf[0] = p.portStatus
	resp := p.deviceIDBuf[:1]
	p.mutex.Unlock()

	return true, resp, nil
}

// handleSoftReset handles SOFT_RESET.
func (p *Printer) handleSoftReset(setup *device.SetupPacket) (bool, []byte, error) {
	pkg.LogDebug(pkg.ComponentPrinter, "printer soft reset requested")

	p.mutex.RLock()
	cb := p.onSoftReset
	p.mutex.RUnlock()

	if cb != nil {
		cb()
	}

	return true, nil, nil
}

// Reset implements device.Resettable: a bus reset or suspend is treated the
// same as an explicit SOFT_RESET from the host.
func (p *Printer) Reset() {
	p.mutex.RLock()
	cb := p.onSoftReset
	p.mutex.RUnlock()

	if cb != nil {
		cb()
	}
}

// SetAlternate handles alternate setting changes.
func (p *Printer) SetAlternate(iface *device.Interface, alt uint8) error {
	pkg.LogDebug(pkg.ComponentPrinter, "printer alternate setting",
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Close releases resources held by the class driver.
func (p *Printer) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.iface = nil
	p.dataOutEP = nil
	p.dataInEP = nil
	p.stack = nil
	p.configured = false

	return nil
}

// Run drains the bulk OUT pipe and hands each chunk of job data to the
// configured callback. It should be called in a goroutine after the device
// is configured.
func (p *Printer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.readJobChunk(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogWarn(pkg.ComponentPrinter, "printer read error", "error", err)
		}
	}
}

func (p *Printer) readJobChunk(ctx context.Context) error {
	p.mutex.RLock()
	stack := p.stack
	ep := p.dataOutEP
	configured := p.configured
	cb := p.onData
	p.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	n, err := stack.Read(ctx, ep, p.jobBuf[:])
	if err != nil {
		return err
	}

	if cb != nil && n > 0 {
		cb(p.jobBuf[:n])
	}

	return nil
}

// SendData writes data to the host over the optional bulk IN pipe, used
// for IPP-over-USB responses or status pages. Returns
// [pkg.ErrInvalidEndpoint] if the interface has no IN pipe.
func (p *Printer) SendData(ctx context.Context, data []byte) (int, error) {
	p.mutex.RLock()
	stack := p.stack
	ep := p.dataInEP
	configured := p.configured
	p.mutex.RUnlock()

	if !configured || stack == nil {
		return 0, pkg.ErrNotConfigured
	}
	if ep == nil {
		return 0, pkg.ErrInvalidEndpoint
	}

	return stack.Write(ctx, ep, data)
}

// ConfigureDevice adds the Printer interface to a device builder.
// dataInEPAddr may be 0 to build a unidirectional interface.
func (p *Printer) ConfigureDevice(builder *device.DeviceBuilder, dataOutEPAddr, dataInEPAddr uint8) *device.DeviceBuilder {
	protocol := uint8(ProtocolUnidirectional)
	if dataInEPAddr != 0 {
		protocol = ProtocolBidirectional
	}

	builder.AddInterface(ClassPrinter, SubclassPrinter, protocol)
	builder.AddEndpoint(dataOutEPAddr&0x0F, device.EndpointTypeBulk, 64)
	if dataInEPAddr != 0 {
		builder.AddEndpoint(dataInEPAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, 64)
	}

	return builder
}

// AttachToInterface attaches this class driver to the Printer interface.
func (p *Printer) AttachToInterface(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}

	return iface.SetClassDriver(p)
}

// Compile-time interface checks
var (
	_ device.ClassDriver = (*Printer)(nil)
	_ device.Resettable  = (*Printer)(nil)
)
