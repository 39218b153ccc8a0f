package rfcomm

import (
	"errors"

	"github.com/arloliu/go-rfcomm/logger"
)

// DeviceConfig holds the configuration of a simulated device.
type DeviceConfig struct {
	// protocolVersion selects the connection-info frame layout.
	// Defaults to ProtocolExtended.
	protocolVersion ProtocolVersion

	// maxTxPacketSize and maxRxPacketSize are advertised by extended frames.
	// Defaults to DefaultMaxPacketSize.
	maxTxPacketSize uint16
	maxRxPacketSize uint16

	// interrupt is polled by every blocking operation. Defaults to nil, never interrupted.
	interrupt InterruptPolicy

	// locator resolves remote addresses to devices. Defaults to the owning session.
	locator DeviceLocator

	logger logger.Logger
}

// NewDeviceConfig creates a device configuration with default values and applies opts.
func NewDeviceConfig(opts ...DeviceOption) (*DeviceConfig, error) {
	cfg := &DeviceConfig{
		protocolVersion: ProtocolExtended,
		maxTxPacketSize: DefaultMaxPacketSize,
		maxRxPacketSize: DefaultMaxPacketSize,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ProtocolVersion returns the configured frame layout.
func (cfg *DeviceConfig) ProtocolVersion() ProtocolVersion { return cfg.protocolVersion }

// MaxPacketSizes returns the advertised max tx and rx packet sizes.
func (cfg *DeviceConfig) MaxPacketSizes() (tx uint16, rx uint16) {
	return cfg.maxTxPacketSize, cfg.maxRxPacketSize
}

// DeviceOption represents a functional option for configuring a DeviceConfig.
type DeviceOption interface {
	apply(*DeviceConfig) error
}

type deviceOptFunc func(*DeviceConfig) error

func (f deviceOptFunc) apply(cfg *DeviceConfig) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return f(cfg)
}

// WithProtocolVersion selects the connection-info frame layout written by the device.
//
// The default is ProtocolExtended.
func WithProtocolVersion(v ProtocolVersion) DeviceOption {
	return deviceOptFunc(func(cfg *DeviceConfig) error {
		if v.FrameSize() == 0 {
			return errors.New("invalid protocol version")
		}
		cfg.protocolVersion = v

		return nil
	})
}

// WithMaxPacketSizes sets the max tx and rx packet sizes advertised by extended frames.
// Both should be in range [1, 65535].
//
// The default is DefaultMaxPacketSize for both.
func WithMaxPacketSizes(tx int, rx int) DeviceOption {
	return deviceOptFunc(func(cfg *DeviceConfig) error {
		if tx < 1 || tx > 65535 || rx < 1 || rx > 65535 {
			return errors.New("max packet size out of range [1, 65535]")
		}
		cfg.maxTxPacketSize = uint16(tx)
		cfg.maxRxPacketSize = uint16(rx)

		return nil
	})
}

// WithInterruptPolicy sets the policy polled by every blocking operation of the device.
func WithInterruptPolicy(p InterruptPolicy) DeviceOption {
	return deviceOptFunc(func(cfg *DeviceConfig) error {
		cfg.interrupt = p
		return nil
	})
}

// WithDeviceLocator overrides how the device resolves remote addresses.
// Resolved devices must belong to the same session.
func WithDeviceLocator(loc DeviceLocator) DeviceOption {
	return deviceOptFunc(func(cfg *DeviceConfig) error {
		cfg.locator = loc
		return nil
	})
}

// WithLogger sets the logger of the device. A nil logger keeps the current one.
func WithLogger(l logger.Logger) DeviceOption {
	return deviceOptFunc(func(cfg *DeviceConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}

// SessionConfig holds the configuration of a session.
type SessionConfig struct {
	// eventBufferSize is the channel capacity of event subscriptions. Defaults to 16.
	eventBufferSize int

	logger logger.Logger
}

// SessionOption represents a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return f(cfg)
}

// WithSessionLogger sets the logger of the session. Devices derive their default logger from it.
func WithSessionLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}

// WithEventBufferSize sets the channel capacity of event subscriptions. Events published to a
// full subscription are dropped.
func WithEventBufferSize(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 1 {
			return errors.New("event buffer size must be positive")
		}
		cfg.eventBufferSize = n

		return nil
	})
}
