package hid

import (
	"context"
	"sync"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/pkg"
)

// MaxReportSize is the maximum HID report size.
const MaxReportSize = 64

// HID implements a HID class driver.
type HID struct {
	// Interface
	iface *device.Interface

	// Endpoints
	inEP  *device.Endpoint // Interrupt IN for input reports
	outEP *device.Endpoint // Interrupt OUT for output reports (optional)

	// Stack reference for data transfer
	stack *device.Stack

	// Report descriptor (stored by reference)
	reportDescriptor []byte

	// HID descriptor
	hidDescriptor HIDDescriptor

	// State
	protocol uint8 // 0 = boot, 1 = report
	idleRate uint8 // Idle rate in 4ms units (0 = infinite)

	// Callbacks
	onOutputReport  func(data []byte)
	onFeatureReport func(reportID uint8, data []byte)
	onSetProtocol   func(protocol uint8)
	onSetIdle       func(rate uint8, reportID uint8)

	// updateIn is polled on the cadence derived from idleRate to produce the
	// next input report; nil means no periodic sampling is configured and
	// reports are only ever pushed explicitly via SendReport.
	updateIn func(buf []byte) (n int, ok bool)

	// updateOut is invoked with each output report read from the interrupt
	// OUT endpoint by Run; nil discards the data after logging its length.
	updateOut func(report []byte)

	// reportTimerMS accumulates elapsed time between Tick calls until it
	// reaches the current polling interval, at which point a sample is
	// taken and the accumulator resets.
	reportTimerMS uint32

	// Buffers (zero-allocation)
	reportBuf   [MaxReportSize]byte // input reports (Tick/SendReport)
	outReportBuf [MaxReportSize]byte // output reports (Run/readOutputReport)
	responseBuf [MaxReportSize]byte

	// State
	mutex      sync.RWMutex
	configured bool
}

// pollingIntervalMS is the interrupt endpoint's bInterval in milliseconds,
// used as the minimum sampling cadence.
const pollingIntervalMS = 10

// New creates a new HID class driver with the given report descriptor.
// The report descriptor is stored by reference.
func New(reportDescriptor []byte) *HID {
	return &HID{
		reportDescriptor: reportDescriptor,
		hidDescriptor: HIDDescriptor{
			Length:         HIDDescriptorSize,
			DescriptorType: DescriptorTypeHID,
			HIDVersion:     0x0111, // HID 1.11
			CountryCode:    CountryNone,
			NumDescriptors: 1,
			ReportDescType: DescriptorTypeReport,
			ReportDescLen:  uint16(len(reportDescriptor)),
		},
		protocol: ProtocolReport,
	}
}

// SetStack sets the device stack reference for data transfer.
func (h *HID) SetStack(stack *device.Stack) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stack = stack
}

// SetOnOutputReport sets the callback for output reports from the host.
func (h *HID) SetOnOutputReport(cb func(data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutputReport = cb
}

// SetOnFeatureReport sets the callback for feature report requests.
func (h *HID) SetOnFeatureReport(cb func(reportID uint8, data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onFeatureReport = cb
}

// SetOnSetProtocol sets the callback for protocol changes.
func (h *HID) SetOnSetProtocol(cb func(protocol uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetProtocol = cb
}

// SetOnSetIdle sets the callback for idle rate changes.
func (h *HID) SetOnSetIdle(cb func(rate uint8, reportID uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetIdle = cb
}

// SetUpdateIn installs a sampling function that Tick calls on the idle-rate
// cadence to produce the next input report. fn writes the report into buf
// and returns its length and whether a report is ready to send; a false
// return skips this cycle without sending anything.
func (h *HID) SetUpdateIn(fn func(buf []byte) (n int, ok bool)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.updateIn = fn
}

// SetUpdateOut installs a callback invoked by Run with each output report
// read from the interrupt OUT endpoint (e.g. keyboard LED state). Has no
// effect on devices with no OUT endpoint.
func (h *HID) SetUpdateOut(fn func(report []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.updateOut = fn
}

// Tick advances the idle-rate sampling clock by elapsedMS and, once the
// current polling interval has elapsed, samples updateIn and sends the
// resulting report. The stack calls this from its start-of-frame callback;
// a driver with no updateIn configured is a no-op.
func (h *HID) Tick(ctx context.Context, elapsedMS uint32) error {
	h.mutex.Lock()
	fn := h.updateIn
	if fn == nil {
		h.mutex.Unlock()
		return nil
	}

	interval := uint32(h.idleRate) * 4
	if interval < pollingIntervalMS {
		interval = pollingIntervalMS
	}

	h.reportTimerMS += elapsedMS
	if h.reportTimerMS < interval {
		h.mutex.Unlock()
		return nil
	}
	h.reportTimerMS = 0
	h.mutex.Unlock()

	n, ok := fn(h.reportBuf[:])
	if !ok {
		return nil
	}

	return h.SendReport(ctx, h.reportBuf[:n])
}

// Protocol returns the current protocol (boot or report).
func (h *HID) Protocol() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.protocol
}

// IdleRate returns the current idle rate.
func (h *HID) IdleRate() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.idleRate
}

// ReportDescriptor returns the report descriptor.
func (h *HID) ReportDescriptor() []byte {
	return h.reportDescriptor
}

// Init initializes the class driver for the given interface.
func (h *HID) Init(iface *device.Interface) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.iface = iface

	// Find endpoints
	for _, ep := range iface.Endpoints() {
		if ep.IsInterrupt() {
			if ep.IsIn() {
				h.inEP = ep
			} else {
				h.outEP = ep
			}
		}
	}

	if h.inEP == nil {
		return pkg.ErrInvalidEndpoint
	}

	h.configured = true
	pkg.LogDebug(pkg.ComponentHID, "HID configured",
		"inEP", h.inEP.Address,
		"reportDescLen", len(h.reportDescriptor))

	return nil
}

// HandleSetup processes class-specific SETUP requests.
func (h *HID) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	// Handle standard requests for HID descriptors
	if setup.IsStandard() && setup.Request == device.RequestGetDescriptor {
		return h.handleGetDescriptor(setup)
	}

	if !setup.IsClass() {
		return false, nil, nil
	}

	switch setup.Request {
	case RequestGetReport:
		return h.handleGetReport(setup)

	case RequestSetReport:
		return h.handleSetReport(setup, data)

	case RequestGetIdle:
		return h.handleGetIdle(setup)

	case RequestSetIdle:
		return h.handleSetIdle(setup)

	case RequestGetProtocol:
		return h.handleGetProtocol(setup)

	case RequestSetProtocol:
		return h.handleSetProtocol(setup)

	default:
		return false, nil, nil
	}
}

// handleGetDescriptor handles GET_DESCRIPTOR for HID and Report descriptors.
func (h *HID) handleGetDescriptor(setup *device.SetupPacket) (bool, []byte, error) {
	descType := setup.DescriptorType()

	switch descType {
	case DescriptorTypeHID:
		h.mutex.RLock()
		n := h.hidDescriptor.MarshalTo(h.responseBuf[:])
		h.mutex.RUnlock()

		if n == 0 {
			return true, nil, pkg.ErrBufferTooSmall
		}
		return true, h.responseBuf[:n], nil

	case DescriptorTypeReport:
		return true, h.reportDescriptor, nil

	default:
		return false, nil, nil
	}
}

// handleGetReport handles GET_REPORT request.
func (h *HID) handleGetReport(setup *device.SetupPacket) (bool, []byte, error) {
	reportType := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value & 0xFF)

	pkg.LogDebug(pkg.ComponentHID, "GET_REPORT",
		"type", reportType,
		"id", reportID)

	// No feature/input report state is tracked outside of the periodic
	// sampler, so a GET_REPORT returns an all-zero report of the requested
	// length (wLength), matching a device that has nothing more specific
	// to say yet.
	n := int(setup.Length)
	if n > MaxReportSize {
		n = MaxReportSize
	}
	for i := 0; i < n; i++ {
		h.responseBuf[i] = 0
	}

	return true, h.responseBuf[:n], nil
}

// handleSetReport handles SET_REPORT request.
func (h *HID) handleSetReport(setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	reportType := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value & 0xFF)

	pkg.LogDebug(pkg.ComponentHID, "SET_REPORT",
		"type", reportType,
		"id", reportID,
		"len", len(data))

	h.mutex.RLock()
	outputCb := h.onOutputReport
	featureCb := h.onFeatureReport
	h.mutex.RUnlock()

	switch reportType {
	case ReportTypeOutput:
		if outputCb != nil {
			outputCb(data)
		}
	case ReportTypeFeature:
		if featureCb != nil {
			featureCb(reportID, data)
		}
	}

	return true, nil, nil
}

// handleGetIdle handles GET_IDLE request.
func (h *HID) handleGetIdle(setup *device.SetupPacket) (bool, []byte, error) {
	h.mutex.RLock()
	h.responseBuf[0] = h.idleRate
	h.mutex.RUnlock()

	return true, h.responseBuf[:1], nil
}

// handleSetIdle handles SET_IDLE request.
func (h *HID) handleSetIdle(setup *device.SetupPacket) (bool, []byte, error) {
	rate := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value & 0xFF)

	h.mutex.Lock()
	h.idleRate = rate
	cb := h.onSetIdle
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHID, "SET_IDLE",
		"rate", rate,
		"reportID", reportID)

	if cb != nil {
		cb(rate, reportID)
	}

	return true, nil, nil
}

// handleGetProtocol handles GET_PROTOCOL request.
func (h *HID) handleGetProtocol(setup *device.SetupPacket) (bool, []byte, error) {
	h.mutex.RLock()
	h.responseBuf[0] = h.protocol
	h.mutex.RUnlock()

	return true, h.responseBuf[:1], nil
}

// handleSetProtocol handles SET_PROTOCOL request.
func (h *HID) handleSetProtocol(setup *device.SetupPacket) (bool, []byte, error) {
	protocol := uint8(setup.Value & 0xFF)
	if !IsValidReportProtocol(protocol) {
		return true, nil, pkg.ErrInvalidRequest
	}

	h.mutex.Lock()
	h.protocol = protocol
	cb := h.onSetProtocol
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHID, "SET_PROTOCOL",
		"protocol", protocol)

	if cb != nil {
		cb(protocol)
	}

	return true, nil, nil
}

// SetAlternate handles alternate setting changes.
func (h *HID) SetAlternate(iface *device.Interface, alt uint8) error {
	pkg.LogDebug(pkg.ComponentHID, "HID alternate setting",
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Close releases resources held by the class driver.
func (h *HID) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.iface = nil
	h.inEP = nil
	h.outEP = nil
	h.stack = nil
	h.configured = false

	return nil
}

// SendReport sends an input report to the host.
func (h *HID) SendReport(ctx context.Context, data []byte) error {
	h.mutex.RLock()
	stack := h.stack
	ep := h.inEP
	configured := h.configured
	h.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	_, err := stack.Write(ctx, ep, data)
	return err
}

// SendKeyboardReport sends a keyboard report to the host.
func (h *HID) SendKeyboardReport(ctx context.Context, report *KeyboardReport) error {
	n := report.MarshalTo(h.reportBuf[:])
	if n == 0 {
		return pkg.ErrBufferTooSmall
	}
	return h.SendReport(ctx, h.reportBuf[:n])
}

// SendMouseReport sends a mouse report to the host.
func (h *HID) SendMouseReport(ctx context.Context, report *MouseReport) error {
	n := report.MarshalTo(h.reportBuf[:])
	if n == 0 {
		return pkg.ErrBufferTooSmall
	}
	return h.SendReport(ctx, h.reportBuf[:n])
}

// Run drains the interrupt OUT pipe, if one exists, and hands each output
// report to the configured updateOut callback. It should be called in a
// goroutine after the device is configured; devices with no OUT endpoint
// return immediately.
func (h *HID) Run(ctx context.Context) error {
	h.mutex.RLock()
	hasOutEP := h.outEP != nil
	h.mutex.RUnlock()

	if !hasOutEP {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := h.readOutputReport(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogWarn(pkg.ComponentHID, "HID output report read error", "error", err)
		}
	}
}

func (h *HID) readOutputReport(ctx context.Context) error {
	h.mutex.RLock()
	stack := h.stack
	ep := h.outEP
	configured := h.configured
	cb := h.updateOut
	h.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	n, err := stack.Read(ctx, ep, h.outReportBuf[:])
	if err != nil {
		return err
	}

	if cb != nil && n > 0 {
		cb(h.outReportBuf[:n])
	}

	return nil
}

// ReceiveReport receives an output report from the host (if OUT endpoint exists).
func (h *HID) ReceiveReport(ctx context.Context, buf []byte) (int, error) {
	h.mutex.RLock()
	stack := h.stack
	ep := h.outEP
	configured := h.configured
	h.mutex.RUnlock()

	if !configured || stack == nil {
		return 0, pkg.ErrNotConfigured
	}

	if ep == nil {
		return 0, pkg.ErrInvalidEndpoint
	}

	return stack.Read(ctx, ep, buf)
}

// ConfigureDevice adds the HID interface to a device builder.
func (h *HID) ConfigureDevice(builder *device.DeviceBuilder, inEPAddr uint8, subclass, protocol uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassHID, subclass, protocol)
	builder.AddEndpoint(inEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt, 8)
	return builder
}

// ConfigureDeviceWithOutEP adds the HID interface with an OUT endpoint.
func (h *HID) ConfigureDeviceWithOutEP(builder *device.DeviceBuilder, inEPAddr, outEPAddr uint8, subclass, protocol uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassHID, subclass, protocol)
	builder.AddEndpoint(inEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt, 8)
	builder.AddEndpoint(outEPAddr&0x0F, device.EndpointTypeInterrupt, 8)
	return builder
}

// AttachToInterface attaches this class driver to the HID interface.
// configValue is the configuration value (e.g., 1), ifaceNum is the interface number
// within that configuration.
func (h *HID) AttachToInterface(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}
	return iface.SetClassDriver(h)
}

// Compile-time interface check
var _ device.ClassDriver = (*HID)(nil)
