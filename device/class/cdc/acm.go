package cdc

import (
	"context"
	"sync"
	"time"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/pkg"
)

// MaxRxBufferSize is the maximum receive buffer size.
const MaxRxBufferSize = 4096

// MaxTxBufferSize is the maximum transmit buffer size.
const MaxTxBufferSize = 4096

// connStartDelay is how long DTR or RTS must remain asserted before a vcom
// session is considered established and the sign-on banner is queued. A
// var, not a const, so tests can shorten it.
var connStartDelay = 50 * time.Millisecond

// txFlushDelay is how long PutChar/PutString wait after the last write
// before forcing a short packet out, so a single byte typed interactively
// doesn't sit in the buffer waiting for it to fill.
const txFlushDelay = 2 * time.Millisecond

// InputFlags reports what ProcessInput wants done for one received byte.
type InputFlags uint8

// InputFlags bits.
const (
	InputNone            InputFlags = 0
	InputPromptRequested InputFlags = 1 << 0
	InputAutoNUL         InputFlags = 1 << 1
)

// session holds per-connection state that Reset clears on every bus reset
// or suspend, as opposed to the persistent LineCoding/control-line state
// that survives across sessions.
type session struct {
	connected      bool
	signonRq       bool
	promptRq       bool
	autoNUL        bool
	connStartTimer *time.Timer
}

// ACM implements a CDC-ACM (Abstract Control Model) class driver.
// It provides USB serial port functionality.
type ACM struct {
	// Interfaces
	controlIface *device.Interface
	dataIface    *device.Interface

	// Endpoints
	notifyEP  *device.Endpoint // Interrupt IN for notifications
	dataInEP  *device.Endpoint // Bulk IN for data to host
	dataOutEP *device.Endpoint // Bulk OUT for data from host

	// Stack reference for data transfer
	stack *device.Stack

	// Configuration (persists across Reset)
	lineCoding   LineCoding
	controlState uint16
	serialState  uint16

	// Change flags (spec's LineCodingChanged/ControlLineStateChanged),
	// latched until taken by TakeLineCodingChanged/TakeControlLineStateChanged.
	lineCodingChanged       bool
	controlLineStateChanged bool

	// Session state, cleared by Reset.
	session session

	// vcom application hooks.
	processInput func(ch *ACM, b byte) InputFlags
	signOnString string
	promptString string

	// txLen is the number of bytes queued in txBuf awaiting flush.
	txLen        int
	txFlushTimer *time.Timer

	// Callbacks
	onLineCodingChange   func(*LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)

	// Buffers (zero-allocation)
	rxBuf       [MaxRxBufferSize]byte
	txBuf       [MaxTxBufferSize]byte
	flushBuf    [MaxTxBufferSize]byte
	responseBuf [LineCodingSize]byte

	// State
	mutex      sync.RWMutex
	configured bool
}

// NewACM creates a new CDC-ACM class driver.
func NewACM() *ACM {
	return &ACM{
		lineCoding: DefaultLineCoding,
	}
}

// SetSignOn sets the banner string queued to the TX buffer once a vcom
// session is established, and the prompt string queued by RequestPrompt.
func (a *ACM) SetSignOn(signOn, prompt string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.signOnString = signOn
	a.promptString = prompt
}

// SetProcessInput installs the callback Run invokes for every byte read
// from the host, returning flags that drive prompt/auto-NUL behavior.
func (a *ACM) SetProcessInput(fn func(ch *ACM, b byte) InputFlags) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.processInput = fn
}

// Connected reports whether the vcom session is established (DTR or RTS
// has been asserted for at least connStartDelay).
func (a *ACM) Connected() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.session.connected
}

// TakeLineCodingChanged reports whether SET_LINE_CODING has been received
// since the last call, clearing the flag.
func (a *ACM) TakeLineCodingChanged() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	v := a.lineCodingChanged
	a.lineCodingChanged = false
	return v
}

// TakeControlLineStateChanged reports whether SET_CONTROL_LINE_STATE has
// been received since the last call, clearing the flag.
func (a *ACM) TakeControlLineStateChanged() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	v := a.controlLineStateChanged
	a.controlLineStateChanged = false
	return v
}

// Reset implements device.Resettable: it clears session state (the
// connection timer, queued sign-on/prompt requests, buffered but
// unflushed TX data) while leaving the persistent LineCoding and control
// line state untouched, matching a real vcom driver surviving a bus
// suspend/resume with its configuration intact.
func (a *ACM) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.session.connStartTimer != nil {
		a.session.connStartTimer.Stop()
	}
	if a.txFlushTimer != nil {
		a.txFlushTimer.Stop()
	}
	a.session = session{}
	a.txLen = 0
	a.lineCodingChanged = false
	a.controlLineStateChanged = false
}

// updateConnectionLocked starts or stops the connection timer in response
// to the asserted state of DTR|RTS. Must be called with mutex held.
func (a *ACM) updateConnectionLocked(asserted bool) {
	if asserted {
		if a.session.connStartTimer == nil {
			a.session.connStartTimer = time.AfterFunc(connStartDelay, a.onConnStart)
		}
		return
	}
	if a.session.connStartTimer != nil {
		a.session.connStartTimer.Stop()
		a.session.connStartTimer = nil
	}
	a.session.connected = false
}

// onConnStart fires connStartDelay after DTR|RTS is asserted, establishing
// the vcom session and queuing the sign-on banner and first prompt.
func (a *ACM) onConnStart() {
	a.mutex.Lock()
	a.session.connected = true
	a.session.signonRq = true
	a.session.connStartTimer = nil
	signOn := a.signOnString
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "vcom session established")

	ctx := context.Background()
	if signOn != "" {
		if err := a.PutString(ctx, signOn); err != nil {
			pkg.LogWarn(pkg.ComponentCDC, "sign-on write failed", "error", err)
		}
	}
	a.RequestPrompt()
}

// RequestPrompt queues the configured prompt string to the TX buffer and
// marks promptRq, for use by ProcessInput hooks or application code that
// wants a fresh prompt sent to the terminal.
func (a *ACM) RequestPrompt() {
	a.mutex.Lock()
	a.session.promptRq = true
	prompt := a.promptString
	a.mutex.Unlock()

	if prompt == "" {
		return
	}
	if err := a.PutString(context.Background(), prompt); err != nil {
		pkg.LogWarn(pkg.ComponentCDC, "prompt write failed", "error", err)
	}
}

// SetStack sets the device stack reference for data transfer.
func (a *ACM) SetStack(stack *device.Stack) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.stack = stack
}

// SetOnLineCodingChange sets the callback for line coding changes.
func (a *ACM) SetOnLineCodingChange(cb func(*LineCoding)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onLineCodingChange = cb
}

// SetOnControlStateChange sets the callback for control line state changes.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onControlStateChange = cb
}

// SetOnBreak sets the callback for break signaling.
func (a *ACM) SetOnBreak(cb func(millis uint16)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onBreak = cb
}

// LineCoding returns the current line coding configuration.
func (a *ACM) LineCoding() LineCoding {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.lineCoding
}

// DTR returns the current DTR (Data Terminal Ready) state.
func (a *ACM) DTR() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.controlState&ControlLineDTR != 0
}

// RTS returns the current RTS (Request To Send) state.
func (a *ACM) RTS() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.controlState&ControlLineRTS != 0
}

// Init initializes the class driver for the given interface.
// This is called by the device stack when the class driver is attached.
func (a *ACM) Init(iface *device.Interface) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	// Determine which interface this is based on class
	if iface.Class == ClassCDC {
		a.controlIface = iface
		// Find the notification endpoint
		for _, ep := range iface.Endpoints() {
			if ep.IsIn() && ep.IsInterrupt() {
				a.notifyEP = ep
				break
			}
		}
	} else if iface.Class == ClassCDCData {
		a.dataIface = iface
		// Find data endpoints
		for _, ep := range iface.Endpoints() {
			if ep.IsIn() && ep.IsBulk() {
				a.dataInEP = ep
			} else if ep.IsOut() && ep.IsBulk() {
				a.dataOutEP = ep
			}
		}
	}

	// Check if fully configured
	if a.controlIface != nil && a.dataIface != nil &&
		a.dataInEP != nil && a.dataOutEP != nil {
		a.configured = true
		pkg.LogDebug(pkg.ComponentCDC, "CDC-ACM configured",
			"dataIn", a.dataInEP.Address,
			"dataOut", a.dataOutEP.Address)
	}

	return nil
}

// HandleSetup processes class-specific SETUP requests.
func (a *ACM) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	if !setup.IsClass() {
		return false, nil, nil
	}

	switch setup.Request {
	case RequestSetLineCoding:
		return a.handleSetLineCoding(setup, data)

	case RequestGetLineCoding:
		return a.handleGetLineCoding(setup)

	case RequestSetControlLineState:
		return a.handleSetControlLineState(setup)

	case RequestSendBreak:
		return a.handleSendBreak(setup)

	default:
		return false, nil, nil
	}
}

// handleSetLineCoding handles the SET_LINE_CODING request.
func (a *ACM) handleSetLineCoding(setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	if len(data) < LineCodingSize {
		return true, nil, pkg.ErrBufferTooSmall
	}

	var lc LineCoding
	if !ParseLineCoding(data, &lc) {
		return true, nil, pkg.ErrBufferTooSmall
	}
	if !lc.Validate() {
		return true, nil, pkg.ErrInvalidRequest
	}

	a.mutex.Lock()
	a.lineCoding = lc
	a.lineCodingChanged = true
	cb := a.onLineCodingChange
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "line coding set",
		"baud", lc.DTERate,
		"dataBits", lc.DataBits,
		"parity", lc.ParityType,
		"stopBits", lc.CharFormat)

	if cb != nil {
		cb(&lc)
	}

	return true, nil, nil
}

// handleGetLineCoding handles the GET_LINE_CODING request.
func (a *ACM) handleGetLineCoding(setup *device.SetupPacket) (bool, []byte, error) {
	a.mutex.RLock()
	n := a.lineCoding.MarshalTo(a.responseBuf[:])
	a.mutex.RUnlock()

	if n == 0 {
		return true, nil, pkg.ErrBufferTooSmall
	}

	return true, a.responseBuf[:n], nil
}

// handleSetControlLineState handles the SET_CONTROL_LINE_STATE request.
func (a *ACM) handleSetControlLineState(setup *device.SetupPacket) (bool, []byte, error) {
	a.mutex.Lock()
	a.controlState = setup.Value
	a.controlLineStateChanged = true
	cb := a.onControlStateChange
	dtr := a.controlState&ControlLineDTR != 0
	rts := a.controlState&ControlLineRTS != 0
	a.updateConnectionLocked(dtr || rts)
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "control line state set",
		"dtr", dtr,
		"rts", rts)

	if cb != nil {
		cb(dtr, rts)
	}

	return true, nil, nil
}

// handleSendBreak handles the SEND_BREAK request.
func (a *ACM) handleSendBreak(setup *device.SetupPacket) (bool, []byte, error) {
	millis := setup.Value

	a.mutex.RLock()
	cb := a.onBreak
	a.mutex.RUnlock()

	pkg.LogDebug(pkg.ComponentCDC, "break signaled",
		"duration_ms", millis)

	if cb != nil {
		cb(millis)
	}

	return true, nil, nil
}

// SetAlternate handles alternate setting changes.
func (a *ACM) SetAlternate(iface *device.Interface, alt uint8) error {
	pkg.LogDebug(pkg.ComponentCDC, "CDC alternate setting",
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Close releases resources held by the class driver.
func (a *ACM) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.controlIface = nil
	a.dataIface = nil
	a.notifyEP = nil
	a.dataInEP = nil
	a.dataOutEP = nil
	a.stack = nil
	a.configured = false

	return nil
}

// Read reads data from the host (blocking).
// Returns the number of bytes read into buf.
func (a *ACM) Read(ctx context.Context, buf []byte) (int, error) {
	a.mutex.RLock()
	stack := a.stack
	ep := a.dataOutEP
	configured := a.configured
	a.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return 0, pkg.ErrNotConfigured
	}

	return stack.Read(ctx, ep, buf)
}

// Write writes data to the host (blocking).
// Returns the number of bytes written.
func (a *ACM) Write(ctx context.Context, data []byte) (int, error) {
	a.mutex.RLock()
	stack := a.stack
	ep := a.dataInEP
	configured := a.configured
	a.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return 0, pkg.ErrNotConfigured
	}

	return stack.Write(ctx, ep, data)
}

// PutChar appends a single byte to the TX buffer, flushing it out to the
// host once it fills or txFlushDelay elapses since the last write.
func (a *ACM) PutChar(ctx context.Context, b byte) error {
	return a.PutString(ctx, string(b))
}

// PutString appends a string to the TX buffer, flushing it out to the host
// once it fills or txFlushDelay elapses since the last write. Blocks to
// flush if the buffer fills mid-write.
func (a *ACM) PutString(ctx context.Context, s string) error {
	data := []byte(s)
	for len(data) > 0 {
		a.mutex.Lock()
		space := len(a.txBuf) - a.txLen
		if space == 0 {
			a.mutex.Unlock()
			if err := a.Flush(ctx); err != nil {
				return err
			}
			continue
		}

		n := len(data)
		if n > space {
			n = space
		}
		copy(a.txBuf[a.txLen:], data[:n])
		a.txLen += n
		full := a.txLen == len(a.txBuf)
		if a.txFlushTimer == nil {
			a.txFlushTimer = time.AfterFunc(txFlushDelay, a.flushTimerFired)
		} else {
			a.txFlushTimer.Reset(txFlushDelay)
		}
		a.mutex.Unlock()

		data = data[n:]
		if full {
			if err := a.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushTimerFired runs on its own goroutine via time.AfterFunc once
// txFlushDelay has elapsed without a further PutChar/PutString call.
func (a *ACM) flushTimerFired() {
	if err := a.Flush(context.Background()); err != nil {
		pkg.LogWarn(pkg.ComponentCDC, "CDC TX flush error", "error", err)
	}
}

// Flush writes any buffered vcom TX data out to the host immediately. A
// no-op if the buffer is empty.
func (a *ACM) Flush(ctx context.Context) error {
	a.mutex.Lock()
	n := a.txLen
	if n == 0 {
		a.mutex.Unlock()
		return nil
	}
	copy(a.flushBuf[:n], a.txBuf[:n])
	a.txLen = 0
	a.mutex.Unlock()

	_, err := a.Write(ctx, a.flushBuf[:n])
	return err
}

// Run reads bytes from the host and feeds each one to the installed
// ProcessInput hook, driving prompt/auto-NUL behavior. It should be called
// in a goroutine after the device is configured; a driver with no
// ProcessInput hook simply drains the pipe without side effects.
func (a *ACM) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := a.readAndProcess(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogWarn(pkg.ComponentCDC, "CDC read error", "error", err)
		}
	}
}

func (a *ACM) readAndProcess(ctx context.Context) error {
	n, err := a.Read(ctx, a.rxBuf[:])
	if err != nil {
		return err
	}

	a.mutex.RLock()
	fn := a.processInput
	a.mutex.RUnlock()

	if fn == nil || n == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		flags := fn(a, a.rxBuf[i])
		if flags&InputPromptRequested != 0 {
			a.RequestPrompt()
		}
		if flags&InputAutoNUL != 0 {
			a.mutex.Lock()
			a.session.autoNUL = true
			a.mutex.Unlock()
		}
	}
	return nil
}

// SendSerialState sends a SERIAL_STATE notification to the host.
func (a *ACM) SendSerialState(state uint16) error {
	a.mutex.Lock()
	a.serialState = state
	stack := a.stack
	ep := a.notifyEP
	var ifaceNum uint8
	if a.controlIface != nil {
		ifaceNum = a.controlIface.Number
	}
	a.mutex.Unlock()

	if stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	// Build notification packet (10 bytes)
	// bmRequestType: 0xA1 (device-to-host, class, interface)
	// bNotification: SERIAL_STATE (0x20)
	// wValue: 0
	// wIndex: interface number
	// wLength: 2
	// data: 2 bytes of serial state
	var buf [10]byte
	buf[0] = 0xA1 // bmRequestType
	buf[1] = NotificationSerialState
	buf[2] = 0 // wValue low
	buf[3] = 0 // wValue high
	buf[4] = ifaceNum // wIndex low (control interface number)
	buf[5] = 0 // wIndex high
	buf[6] = 2 // wLength low
	buf[7] = 0 // wLength high
	buf[8] = byte(state)
	buf[9] = byte(state >> 8)

	_, err := stack.Write(context.Background(), ep, buf[:])
	return err
}

// ConfigureDevice adds CDC-ACM interfaces to a device builder.
// Call this after AddConfiguration to add the CDC interfaces.
func (a *ACM) ConfigureDevice(builder *device.DeviceBuilder, notifyEPAddr, dataInEPAddr, dataOutEPAddr uint8) *device.DeviceBuilder {
	// No Interface Association Descriptor is added; the control and data
	// interfaces are added as two consecutive plain interfaces.

	// Control Interface (Communications Class)
	builder.AddInterface(ClassCDC, SubclassACM, ProtocolAT)
	// Add notification endpoint (interrupt IN)
	builder.AddEndpoint(notifyEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt, 8)

	// Data Interface (Data Class)
	builder.AddInterface(ClassCDCData, 0, 0)
	// Add bulk endpoints
	builder.AddEndpoint(dataInEPAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, 64)
	builder.AddEndpoint(dataOutEPAddr&0x0F, device.EndpointTypeBulk, 64) // OUT has direction bit = 0

	return builder
}

// ConfigureDeviceDataOnly adds this channel's control+data interfaces to a
// device builder without an interrupt endpoint, for a channel sharing one
// physical notification endpoint with another channel
// (USE_COMMON_CDC_INT_IN_EP); the shared endpoint is wired at runtime via
// SetNotifyEndpoint.
func (a *ACM) ConfigureDeviceDataOnly(builder *device.DeviceBuilder, dataInEPAddr, dataOutEPAddr uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassCDC, SubclassACM, ProtocolAT)
	builder.AddInterface(ClassCDCData, 0, 0)
	builder.AddEndpoint(dataInEPAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, 64)
	builder.AddEndpoint(dataOutEPAddr&0x0F, device.EndpointTypeBulk, 64)
	return builder
}

// NotifyEndpoint returns the notification endpoint discovered during Init.
func (a *ACM) NotifyEndpoint() *device.Endpoint {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.notifyEP
}

// SetNotifyEndpoint overrides the notification endpoint, used by Manager
// to point a channel at another channel's physical interrupt IN endpoint
// when UseSharedNotifyEndpoint is set.
func (a *ACM) SetNotifyEndpoint(ep *device.Endpoint) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.notifyEP = ep
}

// AttachToInterfaces attaches this class driver to the CDC interfaces.
// configValue is the configuration value (e.g., 1), controlIfaceNum and dataIfaceNum
// are the interface numbers within that configuration.
func (a *ACM) AttachToInterfaces(dev *device.Device, configValue, controlIfaceNum, dataIfaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	controlIface := config.GetInterface(controlIfaceNum)
	if controlIface == nil {
		return pkg.ErrInvalidRequest
	}

	dataIface := config.GetInterface(dataIfaceNum)
	if dataIface == nil {
		return pkg.ErrInvalidRequest
	}

	// Set this driver as the class driver for both interfaces
	if err := controlIface.SetClassDriver(a); err != nil {
		return err
	}

	// The same ACM instance is the class driver of the data interface too.
	return dataIface.SetClassDriver(a)
}

// Compile-time interface checks
var (
	_ device.ClassDriver = (*ACM)(nil)
	_ device.Resettable  = (*ACM)(nil)
)
