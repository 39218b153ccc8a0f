package rfcomm

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion selects the layout of the connection-info frame.
type ProtocolVersion int

const (
	// ProtocolLegacy frames carry size, peer identifier, channel and status (16 bytes).
	ProtocolLegacy ProtocolVersion = iota + 1
	// ProtocolExtended frames additionally carry the max tx and rx packet sizes (20 bytes).
	ProtocolExtended
)

const (
	connInfoLegacySize   = 16
	connInfoExtendedSize = 20

	// DefaultMaxPacketSize is the max tx/rx packet size advertised by extended frames.
	DefaultMaxPacketSize = 990

	// StatusSuccess is the status code of a successful connection.
	StatusSuccess int32 = 0
)

// String implements fmt.Stringer.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolLegacy:
		return "legacy"
	case ProtocolExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// FrameSize returns the byte length of a connection-info frame for the version, or 0 if the
// version is unknown.
func (v ProtocolVersion) FrameSize() int {
	switch v {
	case ProtocolLegacy:
		return connInfoLegacySize
	case ProtocolExtended:
		return connInfoExtendedSize
	default:
		return 0
	}
}

// ParseProtocolVersion converts "legacy" or "extended" to a ProtocolVersion.
func ParseProtocolVersion(name string) (ProtocolVersion, error) {
	switch name {
	case "legacy":
		return ProtocolLegacy, nil
	case "extended":
		return ProtocolExtended, nil
	default:
		return 0, fmt.Errorf("unknown protocol version %q", name)
	}
}

// ConnectionInfo is the frame both ends of a connection read from their handle before any
// stream data. All integers are little-endian:
//
//	offset size field
//	0      2    frame size (16 or 20)
//	2      6    peer identifier
//	8      4    channel number
//	12     4    status
//	16     2    max tx packet size (extended only)
//	18     2    max rx packet size (extended only)
type ConnectionInfo struct {
	Version         ProtocolVersion
	PeerID          [6]byte
	Channel         int32
	Status          int32
	MaxTxPacketSize uint16
	MaxRxPacketSize uint16
}

// MarshalBinary encodes the frame according to its Version.
func (ci ConnectionInfo) MarshalBinary() ([]byte, error) {
	size := ci.Version.FrameSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown protocol version %d", ErrInvalidConnInfo, ci.Version)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(size))
	copy(buf[2:8], ci.PeerID[:])
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ci.Channel))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(ci.Status))

	if ci.Version == ProtocolExtended {
		binary.LittleEndian.PutUint16(buf[16:18], ci.MaxTxPacketSize)
		binary.LittleEndian.PutUint16(buf[18:20], ci.MaxRxPacketSize)
	}

	return buf, nil
}

// ParseConnectionInfo decodes a frame. The version is inferred from the size field.
func ParseConnectionInfo(data []byte) (ConnectionInfo, error) {
	var ci ConnectionInfo
	if len(data) < 2 {
		return ci, fmt.Errorf("%w: %d bytes", ErrInvalidConnInfo, len(data))
	}

	size := int(binary.LittleEndian.Uint16(data[0:2]))
	switch size {
	case connInfoLegacySize:
		ci.Version = ProtocolLegacy
	case connInfoExtendedSize:
		ci.Version = ProtocolExtended
	default:
		return ci, fmt.Errorf("%w: size field %d", ErrInvalidConnInfo, size)
	}

	if len(data) < size {
		return ci, fmt.Errorf("%w: size field %d, got %d bytes", ErrInvalidConnInfo, size, len(data))
	}

	copy(ci.PeerID[:], data[2:8])
	ci.Channel = int32(binary.LittleEndian.Uint32(data[8:12]))
	ci.Status = int32(binary.LittleEndian.Uint32(data[12:16]))

	if ci.Version == ProtocolExtended {
		ci.MaxTxPacketSize = binary.LittleEndian.Uint16(data[16:18])
		ci.MaxRxPacketSize = binary.LittleEndian.Uint16(data[18:20])
	}

	return ci, nil
}
