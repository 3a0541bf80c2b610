package proxy

import "fmt"

// Merged handle layout: the backend index occupies the high byte, the
// backend-local handle the low 24 bits.
const (
	backendShift    = 24
	localHandleMask = 0x00FFFFFF

	maxBackendIndex = 0xFF

	// MaxBackends is the number of backends one proxy can multiplex.
	MaxBackends = 255
	// MaxLocalHandle is the largest handle a backend may use.
	MaxLocalHandle = localHandleMask

	// AllSensors addresses every sensor on a direct channel. It is never
	// encoded.
	AllSensors int32 = -1
)

// EncodeHandle merges a backend index and a local handle. A local handle
// outside 24 bits or an index that does not fit the high byte is a
// programming error and panics.
func EncodeHandle(backendIndex int, local int32) int32 {
	if backendIndex < 0 || backendIndex > maxBackendIndex {
		panic(fmt.Sprintf("proxy: backend index %d out of range", backendIndex))
	}
	if local < 0 || local > MaxLocalHandle {
		panic(fmt.Sprintf("proxy: local handle %#x of backend %d does not fit 24 bits", local, backendIndex))
	}
	return int32(uint32(backendIndex)<<backendShift | uint32(local))
}

// BackendIndex extracts the backend index from a merged handle.
func BackendIndex(merged int32) int {
	return int(uint32(merged) >> backendShift)
}

// LocalHandle extracts the backend-local handle from a merged handle.
func LocalHandle(merged int32) int32 {
	return int32(uint32(merged) & localHandleMask)
}
