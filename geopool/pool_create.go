package geopool

import (
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific pool behaviors to activate or deactivate
type CreateFlags int32

var poolCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	poolCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return poolCreateFlagsMapping.FlagsToString(f)
}

const (
	// PoolCreateSynchronized guards every pool operation with an internal mutex, so that the pool
	// can be shared between goroutines. Without it, the consumer must guarantee the pool is used
	// from only one goroutine at a time.
	PoolCreateSynchronized CreateFlags = 1 << iota
	// PoolCreateDeviceAddressable creates the vertex and index pool buffers with
	// khr_buffer_device_address.BufferUsageShaderDeviceAddress, so that shaders may address them
	// through buffer device addresses. The device must have the extension enabled.
	PoolCreateDeviceAddressable
	// PoolCreateNoCoalesce leaves adjacent freed ranges in the vertex and index pools as separate
	// free blocks. This makes Unregister slightly cheaper at the cost of fragmentation that grows
	// with churn.
	PoolCreateNoCoalesce
)

func init() {
	PoolCreateSynchronized.Register("PoolCreateSynchronized")
	PoolCreateDeviceAddressable.Register("PoolCreateDeviceAddressable")
	PoolCreateNoCoalesce.Register("PoolCreateNoCoalesce")
}

// CreateOptions contains optional settings when creating a pool
type CreateOptions struct {
	// Flags indicates specific pool behaviors to activate or deactivate
	Flags CreateFlags
	// Config sizes the pool. Zero fields take their defaults.
	Config Config
}
