package rfcomm

import (
	"encoding/binary"
	"hash/fnv"
	"net"
	"strconv"
)

// Address identifies a simulated device. It is stable for the device's lifetime.
type Address string

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// WireID returns the 6-byte identifier written into connection-info frames.
//
// An address in MAC notation ("00:11:22:33:44:55") yields its own bytes in written order.
// Any other string yields the first 6 bytes of its FNV-1a 64-bit hash.
func (a Address) WireID() [6]byte {
	var id [6]byte
	if hw, err := net.ParseMAC(string(a)); err == nil && len(hw) == len(id) {
		copy(id[:], hw)
		return id
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(a))
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	copy(id[:], sum[:])

	return id
}

// Handle is an opaque token identifying one endpoint of a simulated connection.
type Handle uint64

// InvalidHandle is the zero Handle, never returned by a successful operation.
const InvalidHandle Handle = 0

// IsValid reports whether h can refer to an allocated endpoint.
func (h Handle) IsValid() bool { return h != InvalidHandle }

// String implements fmt.Stringer.
func (h Handle) String() string { return "handle#" + strconv.FormatUint(uint64(h), 10) }
