package link

import (
	"sync"
)

// FirmwareFlags are the compatibility switches derived from the coordinator firmware.
type FirmwareFlags struct {
	// CompatibilityMode is set for legacy firmware that lacks extended status frames.
	CompatibilityMode bool `json:"compatibility_mode"`
	// WithAPSSqn is set when status frames carry the APS sequence number.
	WithAPSSqn bool `json:"with_aps_sqn"`
	// With8012 is set when the firmware emits APS data confirm frames.
	With8012 bool `json:"with_8012"`
	// NoSQN is set for firmware that reports no sequence numbers at all.
	NoSQN bool `json:"no_sqn"`
}

// FirmwareInfo is a snapshot of the firmware state.
type FirmwareInfo struct {
	Version         string        `json:"version,omitempty"`
	MajorVersion    string        `json:"major_version,omitempty"`
	HardwareVersion string        `json:"hw_version,omitempty"`
	Flags           FirmwareFlags `json:"flags"`
	PDMCommandOnly  bool          `json:"pdm_command_only"`
	NPDU            *int          `json:"npdu,omitempty"`
	APDU            *int          `json:"apdu,omitempty"`
}

// Firmware tracks what the application learned about the coordinator firmware.
type Firmware struct {
	mu   sync.RWMutex
	info FirmwareInfo
}

// UpdateFirmwareVersion records the firmware version and major version.
func (f *Firmware) UpdateFirmwareVersion(version, major string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info.Version = version
	f.info.MajorVersion = major
}

// UpdateHardwareVersion records the coordinator hardware revision.
func (f *Firmware) UpdateHardwareVersion(version string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info.HardwareVersion = version
}

// SetFlags replaces the compatibility flags.
func (f *Firmware) SetFlags(flags FirmwareFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info.Flags = flags
}

// Flags returns the compatibility flags.
func (f *Firmware) Flags() FirmwareFlags {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.info.Flags
}

// UpdatePDU records the free nPDU and aPDU buffers reported by the coordinator.
func (f *Firmware) UpdatePDU(npdu, apdu int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info.NPDU = &npdu
	f.info.APDU = &apdu
}

// SetPDMCommandOnly locks the coordinator to persistent data manager commands.
func (f *Firmware) SetPDMCommandOnly(locked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info.PDMCommandOnly = locked
}

// PDMLockStatus reports whether only persistent data manager commands are allowed.
func (f *Firmware) PDMLockStatus() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.info.PDMCommandOnly
}

// Info returns a snapshot of the firmware state.
func (f *Firmware) Info() FirmwareInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	info := f.info
	if info.NPDU != nil {
		v := *info.NPDU
		info.NPDU = &v
	}
	if info.APDU != nil {
		v := *info.APDU
		info.APDU = &v
	}

	return info
}
