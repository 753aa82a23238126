package msc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/pkg"
)

// BOTPhase is the Bulk-Only Transport state, tracked explicitly so that an
// invalid command block or a BOT_RESET class request puts the driver into a
// well-defined recovery state rather than silently logging and continuing.
type BOTPhase uint8

// Bulk-Only Transport phases (USB Mass Storage Class Bulk-Only Transport
// specification, section 5.3).
const (
	PhaseCBW     BOTPhase = iota // Waiting for / processing a Command Block Wrapper
	PhaseDataOut                 // Receiving the command's OUT data stage
	PhaseDataIn                  // Sending the command's IN data stage
	PhaseCSW                     // Sending the Command Status Wrapper
	PhaseInvCBW                  // Both bulk pipes stalled after a malformed CBW
	PhaseReset                   // BOT_RESET received, waiting for pipes to be cleared
)

// String returns a human-readable phase name.
func (p BOTPhase) String() string {
	switch p {
	case PhaseCBW:
		return "CBW"
	case PhaseDataOut:
		return "DataOut"
	case PhaseDataIn:
		return "DataIn"
	case PhaseCSW:
		return "CSW"
	case PhaseInvCBW:
		return "InvCBW"
	case PhaseReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// MSC implements the Mass Storage Class Bulk-Only Transport driver.
type MSC struct {
	// Interface
	iface *device.Interface

	// Endpoints
	bulkInEP  *device.Endpoint // Bulk IN (device to host)
	bulkOutEP *device.Endpoint // Bulk OUT (host to device)

	// Stack reference for data transfer
	stack *device.Stack

	// Storage backend
	storage Storage

	// Device information
	inquiry InquiryResponse

	// Current command state
	currentCBW  CommandBlockWrapper
	currentTag  uint32
	dataResidue uint32

	// Sense data (for REQUEST SENSE)
	senseKey uint8
	asc      uint8
	ascq     uint8

	// Buffers (zero-allocation pattern)
	cbwBuf   [CBWSize]byte
	cswBuf   [CSWSize]byte
	dataBuf  [MaxTransferSize]byte
	senseBuf [18]byte
	maxLUNBuf [1]byte

	// State
	mutex      sync.RWMutex
	configured bool
	botPhase   BOTPhase

	// phaseReady wakes Run's loop when botPhase returns to PhaseCBW after
	// having been parked in PhaseInvCBW or PhaseReset.
	phaseReady chan struct{}

	// Logical Unit Number (typically 0)
	maxLUN uint8
}

// New creates a new MSC class driver with the given storage backend.
// vendorID and productID are 8 and 16 character strings respectively.
func New(storage Storage, vendorID, productID string) *MSC {
	m := &MSC{
		storage:    storage,
		maxLUN:     0, // Single LUN by default
		phaseReady: make(chan struct{}, 1),
	}

	// Initialize INQUIRY response
	m.inquiry = *NewInquiryResponse(
		DeviceTypeDisk,
		storage.IsRemovable(),
		vendorID,
		productID,
		"1.0",
	)

	// Clear sense data (no error)
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)

	return m
}

// SetStack sets the device stack reference for data transfer.
func (m *MSC) SetStack(stack *device.Stack) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stack = stack
}

// SetMaxLUN sets the maximum Logical Unit Number the device advertises via
// GET_MAX_LUN. Values above MaxLUN don't fit the CBW wire format and are
// ignored.
func (m *MSC) SetMaxLUN(lun uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if lun <= MaxLUN {
		m.maxLUN = lun
	}
}

// Init initializes the class driver for the given interface.
func (m *MSC) Init(iface *device.Interface) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.iface = iface

	// Find bulk endpoints
	for _, ep := range iface.Endpoints() {
		if ep.IsBulk() {
			if ep.IsIn() {
				m.bulkInEP = ep
			} else {
				m.bulkOutEP = ep
			}
		}
	}

	if m.bulkInEP == nil || m.bulkOutEP == nil {
		return pkg.ErrInvalidEndpoint
	}

	m.configured = true
	pkg.LogDebug(pkg.ComponentMSC, "MSC configured",
		"bulkIn", m.bulkInEP.Address,
		"bulkOut", m.bulkOutEP.Address)

	return nil
}

// HandleSetup processes class-specific SETUP requests.
func (m *MSC) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	if !setup.IsClass() {
		return false, nil, nil
	}

	switch setup.Request {
	case RequestBulkOnlyMassStorageReset:
		return m.handleReset(setup)

	case RequestGetMaxLUN:
		return m.handleGetMaxLUN(setup, data)

	default:
		return false, nil, nil
	}
}

// handleReset handles the Bulk-Only Mass Storage Reset request. Per the BOT
// spec this does not itself clear any halted endpoints or data toggles; it
// only arms the driver to accept a fresh CBW once the host clears the
// pipes, exactly like recovery from an invalid CBW.
func (m *MSC) handleReset(setup *device.SetupPacket) (bool, []byte, error) {
	pkg.LogDebug(pkg.ComponentMSC, "MSC reset requested")

	m.mutex.Lock()
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	m.botPhase = PhaseReset
	m.mutex.Unlock()

	return true, nil, nil
}

// OnEndpointUnstall advances the BOT phase machine when the host clears a
// halt left by invalid-CBW recovery or BOT_RESET. A halt cleared while a
// CBW is already in progress is a no-op.
func (m *MSC) OnEndpointUnstall(address uint8) {
	m.mutex.Lock()
	switch m.botPhase {
	case PhaseInvCBW:
		if m.bulkInEP != nil && address == m.bulkInEP.Address {
			m.botPhase = PhaseCBW
		}
	case PhaseReset:
		m.botPhase = PhaseCBW
	}
	ready := m.botPhase == PhaseCBW
	m.mutex.Unlock()

	if ready {
		select {
		case m.phaseReady <- struct{}{}:
		default:
		}
	}
}

// Reset clears per-session command/sense state on a bus reset or suspend.
// It returns the BOT phase to PhaseCBW: a real reset also resets endpoint
// halts and data toggles at the stack level, so there is nothing left for
// the host to clear before the next CBW.
func (m *MSC) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.botPhase = PhaseCBW
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
}

// handleGetMaxLUN handles the Get Max LUN request.
func (m *MSC) handleGetMaxLUN(setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	m.mutex.Lock()
	m.maxLUNBuf[0] = m.maxLUN
	resp := m.maxLUNBuf[:]
	m.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentMSC, "Get Max LUN",
		"maxLUN", resp[0])

	return true, resp, nil
}

// SetAlternate handles alternate setting changes.
func (m *MSC) SetAlternate(iface *device.Interface, alt uint8) error {
	pkg.LogDebug(pkg.ComponentMSC, "MSC alternate setting",
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Close releases resources held by the class driver.
func (m *MSC) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.iface = nil
	m.bulkInEP = nil
	m.bulkOutEP = nil
	m.stack = nil
	m.configured = false

	return nil
}

// setSense sets sense data for the next REQUEST SENSE command.
func (m *MSC) setSense(key, asc, ascq uint8) {
	m.senseKey = key
	m.asc = asc
	m.ascq = ascq
}

// ConfigureDevice adds the MSC interface to a device builder.
func (m *MSC) ConfigureDevice(builder *device.DeviceBuilder, bulkInEPAddr, bulkOutEPAddr uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassMSC, SubclassSCSI, ProtocolBulkOnly)
	builder.AddEndpoint(bulkInEPAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, 64)
	builder.AddEndpoint(bulkOutEPAddr&0x0F, device.EndpointTypeBulk, 64)
	return builder
}

// AttachToInterface attaches this class driver to the MSC interface.
func (m *MSC) AttachToInterface(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}

	return iface.SetClassDriver(m)
}

// Run is the main processing loop for MSC.
// It reads CBWs, processes SCSI commands, and sends CSWs.
// This should be called in a goroutine after the device is configured.
func (m *MSC) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if m.waitForPhaseCBW(ctx) != nil {
			return ctx.Err()
		}

		// Process one command
		if err := m.processCBW(ctx); err != nil {
			// Check if context was cancelled
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Log error and continue
			pkg.LogWarn(pkg.ComponentMSC, "CBW processing error",
				"error", err)
		}
	}
}

// waitForPhaseCBW blocks until botPhase is PhaseCBW again, i.e. until the
// host has cleared the stalls left by invalid-CBW recovery or BOT_RESET.
func (m *MSC) waitForPhaseCBW(ctx context.Context) error {
	for {
		m.mutex.RLock()
		phase := m.botPhase
		m.mutex.RUnlock()

		if phase == PhaseCBW {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.phaseReady:
		}
	}
}

// invalidateCBW stalls both bulk endpoints and parks the driver in
// PhaseInvCBW. A CLEAR_FEATURE(ENDPOINT_HALT) on the bulk IN pipe returns it
// to PhaseCBW (see OnEndpointUnstall); clearing the OUT pipe alone does not.
func (m *MSC) invalidateCBW(reason string) {
	m.mutex.Lock()
	stack := m.stack
	inEP := m.bulkInEP
	outEP := m.bulkOutEP
	m.botPhase = PhaseInvCBW
	m.mutex.Unlock()

	pkg.LogWarn(pkg.ComponentMSC, "invalid CBW, stalling bulk pipes", "reason", reason)

	if stack == nil {
		return
	}
	if inEP != nil {
		stack.StallEndpoint(inEP)
	}
	if outEP != nil {
		stack.StallEndpoint(outEP)
	}
}

// processCBW reads and processes a Command Block Wrapper.
func (m *MSC) processCBW(ctx context.Context) error {
	m.mutex.RLock()
	stack := m.stack
	ep := m.bulkOutEP
	configured := m.configured
	maxLUN := m.maxLUN
	m.mutex.RUnlock()

	if !configured || stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	// Read CBW from host
	n, err := stack.Read(ctx, ep, m.cbwBuf[:])
	if err != nil {
		return err
	}

	if n != CBWSize {
		m.invalidateCBW("short CBW")
		return pkg.ErrInvalidRequest
	}

	// Parse CBW
	if !ParseCBW(m.cbwBuf[:], &m.currentCBW) {
		m.invalidateCBW("bad signature")
		return pkg.ErrInvalidRequest
	}

	if err := m.currentCBW.Validate(maxLUN); err != nil {
		m.invalidateCBW("malformed CBW fields")
		return err
	}

	m.currentTag = m.currentCBW.Tag

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", m.currentCBW.Tag,
		"dataLen", m.currentCBW.DataTransferLength,
		"flags", m.currentCBW.Flags,
		"lun", m.currentCBW.LUN,
		"cbLen", m.currentCBW.CBLength,
		"opcode", m.currentCBW.CB[0])

	m.setDataPhase()

	// Handle SCSI command
	status, residue := m.handleSCSICommand(ctx, &m.currentCBW)

	m.mutex.Lock()
	m.botPhase = PhaseCSW
	m.mutex.Unlock()

	// Send CSW
	err = m.sendCSW(ctx, status, residue)

	m.mutex.Lock()
	if m.botPhase == PhaseCSW {
		m.botPhase = PhaseCBW
	}
	m.mutex.Unlock()

	return err
}

// setDataPhase records the BOT phase for the command's data stage, if any.
func (m *MSC) setDataPhase() {
	m.mutex.Lock()
	if m.currentCBW.DataTransferLength == 0 {
		m.botPhase = PhaseCSW
	} else if m.currentCBW.IsDataIn() {
		m.botPhase = PhaseDataIn
	} else {
		m.botPhase = PhaseDataOut
	}
	m.mutex.Unlock()
}

// sendCSW sends a Command Status Wrapper.
func (m *MSC) sendCSW(ctx context.Context, status uint8, residue uint32) error {
	m.mutex.RLock()
	stack := m.stack
	ep := m.bulkInEP
	m.mutex.RUnlock()

	if stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	csw := NewCSW(m.currentTag, residue, status)
	n := csw.MarshalTo(m.cswBuf[:])

	_, err := stack.Write(ctx, ep, m.cswBuf[:n])
	if err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentMSC, "CSW sent",
		"tag", csw.Tag,
		"residue", residue,
		"status", status)

	return nil
}

// parseU16BE parses a big-endian uint16 from data at offset.
func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

// parseU32BE parses a big-endian uint32 from data at offset.
func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}

// parseU64BE parses a big-endian uint64 from data at offset.
func parseU64BE(data []byte, offset int) uint64 {
	if offset+8 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint64(data[offset:])
}

// Compile-time interface checks
var (
	_ device.ClassDriver          = (*MSC)(nil)
	_ device.Resettable           = (*MSC)(nil)
	_ device.EndpointStallObserver = (*MSC)(nil)
)
