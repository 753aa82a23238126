// Package dpram16 implements hal.DeviceHAL over a simulated 16-bit dual-port
// RAM buffer descriptor table, modeling controllers where the RX byte count
// register is readable directly with no invalidation dance (e.g. STM32F1's
// USB FS peripheral). See the sibling package
// [github.com/gousbd/usbdevice/device/hal/dpram32] for the family that
// requires a count-invalidate/re-arm cycle before each packet.
//
// There being no real dual-port RAM accessible from a portable Go process,
// this HAL simulates the register set and memory banks in software and
// exposes [HAL.Inject] / [HAL.InjectSetup] / [HAL.Drain] for a test harness
// to play the role of the host controller, the same role the named-pipe
// protocol plays for [github.com/gousbd/usbdevice/device/hal/fifo].
package dpram16

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gousbd/usbdevice/device/hal"
	"github.com/gousbd/usbdevice/pkg"
)

// MaxEndpoints is the number of endpoint pipes modeled by the buffer
// descriptor table, including EP0.
const MaxEndpoints = 8

// MaxPacketSize is the maximum packet size backed by each simulated
// dual-port RAM bank.
const MaxPacketSize = 64

// bdtEntry mirrors one row of a family-1 buffer descriptor table: a
// byte count per direction, read and written directly by firmware with no
// invalidation step.
type bdtEntry struct {
	txCount uint16
	rxCount uint16
}

// HAL implements hal.DeviceHAL over the simulated buffer descriptor table.
type HAL struct {
	mutex sync.RWMutex

	connected uint32 // atomic: 1 = connected
	speed     hal.Speed
	address   uint8

	bdt [MaxEndpoints]bdtEntry

	// Simulated dual-port RAM banks, one pair per endpoint.
	txBuf [MaxEndpoints][MaxPacketSize]byte
	rxBuf [MaxEndpoints][MaxPacketSize]byte

	endpoints     [MaxEndpoints * 2]hal.EndpointConfig
	endpointCount int

	stalledIn  [MaxEndpoints]bool
	stalledOut [MaxEndpoints]bool

	// rxReady[n] is signaled whenever Inject deposits a packet into
	// rxBuf[n], waking a blocked Read/ReadSetup.
	rxReady [MaxEndpoints]chan struct{}

	pendingSetup    hal.SetupPacket
	hasPendingSetup bool

	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	initDone  bool
}

// New creates a new simulated dual-port-RAM device HAL.
func New() *HAL {
	h := &HAL{
		speed:     hal.SpeedFull,
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	for i := range h.rxReady {
		h.rxReady[i] = make(chan struct{}, 1)
	}
	return h
}

// Init initializes the simulated controller state.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "dpram16 device HAL initialized")
	return nil
}

// Start attaches the simulated device to the bus.
func (h *HAL) Start() error {
	h.mutex.Lock()
	if !h.initDone {
		h.mutex.Unlock()
		return pkg.ErrNotConfigured
	}
	h.mutex.Unlock()

	atomic.StoreUint32(&h.connected, 1)
	select {
	case h.connectCh <- struct{}{}:
	default:
	}
	pkg.LogInfo(pkg.ComponentHAL, "dpram16 device HAL started")
	return nil
}

// Stop detaches the simulated device from the bus.
func (h *HAL) Stop() error {
	atomic.StoreUint32(&h.connected, 0)
	select {
	case h.disconnCh <- struct{}{}:
	default:
	}
	h.closeOnce.Do(func() { close(h.closeCh) })

	h.mutex.Lock()
	h.initDone = false
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "dpram16 device HAL stopped")
	return nil
}

// SetAddress records the device address assigned by the host.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// ConfigureEndpoints records the endpoint configuration for the active
// device configuration.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.endpointCount = 0
	for _, ep := range endpoints {
		num := ep.Number()
		if num == 0 || num >= MaxEndpoints {
			continue
		}
		if h.endpointCount >= len(h.endpoints) {
			break
		}
		h.endpoints[h.endpointCount] = ep
		h.endpointCount++
	}

	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", h.endpointCount)
	return nil
}

// ReadSetup blocks until a SETUP packet has been injected via InjectSetup.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	for {
		h.mutex.Lock()
		if h.hasPendingSetup {
			*out = h.pendingSetup
			h.hasPendingSetup = false
			h.mutex.Unlock()
			return nil
		}
		h.mutex.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closeCh:
			return pkg.ErrCancelled
		case <-h.rxReady[0]:
		}
	}
}

// InjectSetup simulates the host controller delivering a SETUP packet to
// EP0, for use by a test harness playing the role of the host.
func (h *HAL) InjectSetup(setup hal.SetupPacket) {
	h.mutex.Lock()
	h.pendingSetup = setup
	h.hasPendingSetup = true
	h.mutex.Unlock()

	select {
	case h.rxReady[0] <- struct{}{}:
	default:
	}
}

// WriteEP0 writes data to EP0 for the control IN phase.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	_, err := h.Write(ctx, 0, data)
	return err
}

// ReadEP0 reads data from EP0 for the control OUT phase.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	return h.Read(ctx, 0, buf)
}

// StallEP0 stalls the control endpoint.
func (h *HAL) StallEP0() error {
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.Stall(0 | 0x80)
}

// AckEP0 sends a zero-length status packet.
func (h *HAL) AckEP0() error {
	h.mutex.Lock()
	h.bdt[0].txCount = 0
	h.mutex.Unlock()
	return nil
}

// Read reads data deposited into an OUT endpoint's dual-port RAM bank by
// Inject, blocking until a packet is available or the context is cancelled.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return 0, pkg.ErrInvalidEndpoint
	}

	for {
		h.mutex.Lock()
		cnt := h.bdt[num].rxCount
		if cnt > 0 {
			n := int(cnt)
			if n > len(buf) {
				n = len(buf)
			}
			copy(buf, h.rxBuf[num][:n])
			h.bdt[num].rxCount = 0
			h.mutex.Unlock()
			return n, nil
		}
		h.mutex.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-h.closeCh:
			return 0, pkg.ErrCancelled
		case <-h.rxReady[num]:
		}
	}
}

// Write copies data into an IN endpoint's dual-port RAM bank and sets its
// TX count register, simulating instantaneous DMA to the host. Use
// [HAL.Drain] from a test harness to retrieve what was transmitted.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return 0, pkg.ErrInvalidEndpoint
	}
	if len(data) > MaxPacketSize {
		return 0, pkg.ErrBufferTooSmall
	}

	h.mutex.Lock()
	copy(h.txBuf[num][:], data)
	h.bdt[num].txCount = uint16(len(data))
	h.mutex.Unlock()

	return len(data), nil
}

// Drain retrieves and clears the last packet written to an IN endpoint's
// dual-port RAM bank, for use by a test harness simulating the host.
func (h *HAL) Drain(address uint8) ([]byte, bool) {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return nil, false
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	cnt := h.bdt[num].txCount
	if cnt == 0 {
		return nil, false
	}
	out := make([]byte, cnt)
	copy(out, h.txBuf[num][:cnt])
	h.bdt[num].txCount = 0
	return out, true
}

// Inject simulates the host controller delivering an OUT packet to the
// given endpoint, for use by a test harness.
func (h *HAL) Inject(address uint8, data []byte) error {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if len(data) > MaxPacketSize {
		return pkg.ErrBufferTooSmall
	}

	h.mutex.Lock()
	copy(h.rxBuf[num][:], data)
	h.bdt[num].rxCount = uint16(len(data))
	h.mutex.Unlock()

	select {
	case h.rxReady[num] <- struct{}{}:
	default:
	}
	return nil
}

// Stall stalls the specified endpoint.
func (h *HAL) Stall(address uint8) error {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	h.mutex.Lock()
	if address&0x80 != 0 {
		h.stalledIn[num] = true
	} else {
		h.stalledOut[num] = true
	}
	h.mutex.Unlock()
	return nil
}

// ClearStall clears a stall condition on the specified endpoint.
func (h *HAL) ClearStall(address uint8) error {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	h.mutex.Lock()
	if address&0x80 != 0 {
		h.stalledIn[num] = false
	} else {
		h.stalledOut[num] = false
	}
	h.mutex.Unlock()
	return nil
}

// IsStalled returns true if the endpoint at address is currently halted.
func (h *HAL) IsStalled(address uint8) bool {
	num := address & 0x0F
	if num >= MaxEndpoints {
		return false
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if address&0x80 != 0 {
		return h.stalledIn[num]
	}
	return h.stalledOut[num]
}

// InEndpointSize returns the configured max packet size of the IN endpoint
// at the given number, or 0 if not configured.
func (h *HAL) InEndpointSize(number uint8) uint16 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for i := 0; i < h.endpointCount; i++ {
		ep := &h.endpoints[i]
		if ep.IsIn() && ep.Number() == number {
			return ep.MaxPacketSize
		}
	}
	return 0
}

// IsConnected returns true if the simulated device is connected.
func (h *HAL) IsConnected() bool {
	return atomic.LoadUint32(&h.connected) == 1
}

// GetSpeed returns the negotiated connection speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until connected or the context is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WaitDisconnect blocks until disconnected or the context is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// Compile-time interface check
var _ hal.DeviceHAL = (*HAL)(nil)
