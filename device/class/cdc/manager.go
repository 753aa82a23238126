package cdc

import (
	"sync"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/pkg"
)

// MaxChannels is the maximum number of CDC-ACM channels a Manager can own.
// Each channel consumes one control interface and one data interface, so
// this is half of device.MaxInterfacesPerConfiguration.
const MaxChannels = device.MaxInterfacesPerConfiguration / 2

// Manager owns a fixed set of independent CDC-ACM channels, each exposing
// its own control+data interface pair, for composite devices offering more
// than one virtual COM port.
type Manager struct {
	mutex        sync.RWMutex
	channels     [MaxChannels]*ACM
	channelCount int
	sharedNotify bool
}

// NewManager creates a channel manager owning n independent ACM channels.
// n is clamped to MaxChannels.
func NewManager(n int) *Manager {
	if n > MaxChannels {
		n = MaxChannels
	}
	if n < 0 {
		n = 0
	}

	m := &Manager{channelCount: n}
	for i := 0; i < n; i++ {
		m.channels[i] = NewACM()
	}
	return m
}

// UseSharedNotifyEndpoint configures whether every channel after the first
// reuses the first channel's notification endpoint
// (USE_COMMON_CDC_INT_IN_EP) instead of each channel owning its own.
func (m *Manager) UseSharedNotifyEndpoint(shared bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sharedNotify = shared
}

// SharesNotifyEndpoint reports whether channels share one notification
// endpoint.
func (m *Manager) SharesNotifyEndpoint() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.sharedNotify
}

// Channel returns the ACM driver for the given 0-based channel index, or
// nil if index is out of range.
func (m *Manager) Channel(index int) *ACM {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if index < 0 || index >= m.channelCount {
		return nil
	}
	return m.channels[index]
}

// Channels returns every managed channel.
func (m *Manager) Channels() []*ACM {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*ACM, m.channelCount)
	copy(out, m.channels[:m.channelCount])
	return out
}

// NumChannels returns the number of managed channels.
func (m *Manager) NumChannels() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.channelCount
}

// ConfigureDevice adds every channel's interfaces to a device builder.
// notifyEPAddr, dataInEPAddr, and dataOutEPAddr must each list
// NumChannels() entries, one per channel in order; when
// UseSharedNotifyEndpoint is set, only notifyEPAddr[0] is used and
// channels after the first get no interrupt endpoint of their own.
func (m *Manager) ConfigureDevice(builder *device.DeviceBuilder, notifyEPAddr, dataInEPAddr, dataOutEPAddr []uint8) *device.DeviceBuilder {
	m.mutex.RLock()
	shared := m.sharedNotify
	n := m.channelCount
	m.mutex.RUnlock()

	for i := 0; i < n; i++ {
		ch := m.channels[i]
		if shared && i > 0 {
			ch.ConfigureDeviceDataOnly(builder, dataInEPAddr[i], dataOutEPAddr[i])
			continue
		}
		ch.ConfigureDevice(builder, notifyEPAddr[i], dataInEPAddr[i], dataOutEPAddr[i])
	}
	return builder
}

// AttachToInterfaces attaches each channel's ACM driver to its control/data
// interface pair. ifaceNums must list 2*NumChannels() entries, alternating
// control, data, control, data, ... in channel order. When
// UseSharedNotifyEndpoint is set, every channel after the first is wired
// to the first channel's physical notification endpoint once all channels
// have been attached (and so have run Init).
func (m *Manager) AttachToInterfaces(dev *device.Device, configValue uint8, ifaceNums []uint8) error {
	m.mutex.RLock()
	n := m.channelCount
	shared := m.sharedNotify
	m.mutex.RUnlock()

	if len(ifaceNums) < n*2 {
		return pkg.ErrInvalidParameter
	}

	for i := 0; i < n; i++ {
		ch := m.channels[i]
		if err := ch.AttachToInterfaces(dev, configValue, ifaceNums[2*i], ifaceNums[2*i+1]); err != nil {
			return err
		}
	}

	if shared && n > 1 {
		notify := m.channels[0].NotifyEndpoint()
		for i := 1; i < n; i++ {
			m.channels[i].SetNotifyEndpoint(notify)
		}
	}

	return nil
}

// Reset resets every channel's session state. The stack also discovers
// and resets each ACM individually since every channel is attached to the
// device as its own device.Resettable class driver; Manager.Reset exists
// for callers driving channels outside the stack's interface registry
// (e.g. tests).
func (m *Manager) Reset() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for i := 0; i < m.channelCount; i++ {
		m.channels[i].Reset()
	}
}
