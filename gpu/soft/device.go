// Package soft provides a host-memory gpu.Device that executes the geometry pool kernels
// synchronously on the CPU. It is used by tests and by tooling that needs to inspect pool
// contents without a Vulkan device.
package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/geopool/gpu"
)

// DeviceOptions control the limits of a software Device
type DeviceOptions struct {
	// MaxBufferSize is the largest buffer, in bytes, that CreateBuffer will produce. Larger
	// requests fail with VKErrorOutOfDeviceMemory. Zero means no limit.
	MaxBufferSize int
}

// Device is a gpu.Device backed by host memory. All methods are safe to call concurrently.
type Device struct {
	options DeviceOptions

	lock          sync.Mutex
	liveBuffers   int
	createdCount  int
	submitCount   int
	dispatchCount int
}

var _ gpu.Device = &Device{}

// NewDevice creates a software device with the provided limits
func NewDevice(options DeviceOptions) *Device {
	return &Device{options: options}
}

// CreateBuffer allocates a zero-filled host buffer of info.Size bytes
func (d *Device) CreateBuffer(label string, info core1_0.BufferCreateInfo) (gpu.Buffer, common.VkResult, error) {
	if info.Size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("buffer %q: size must be a positive integer, got %d", label, info.Size)
	}
	if d.options.MaxBufferSize > 0 && info.Size > d.options.MaxBufferSize {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.liveBuffers++
	d.createdCount++

	return &Buffer{
		device: d,
		label:  label,
		info:   info,
		data:   make([]byte, info.Size),
	}, core1_0.VKSuccess, nil
}

// Submit executes every dispatch in commands, in order, before returning. A dispatch that
// fails stops execution: earlier dispatches in the list have already been applied.
func (d *Device) Submit(commands *gpu.CommandList) (common.VkResult, error) {
	if commands == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to submit a nil command list")
	}

	d.lock.Lock()
	d.submitCount++
	d.lock.Unlock()

	for i, dispatch := range commands.Dispatches() {
		err := execute(dispatch)
		if err != nil {
			return core1_0.VKErrorUnknown, errors.Wrapf(err, "command list %q: dispatch %d (%s)", commands.Name(), i, dispatch.Kernel)
		}

		d.lock.Lock()
		d.dispatchCount++
		d.lock.Unlock()
	}

	return core1_0.VKSuccess, nil
}

// WaitIdle returns immediately, since Submit completes all work before returning
func (d *Device) WaitIdle() (common.VkResult, error) {
	return core1_0.VKSuccess, nil
}

// LiveBufferCount returns the number of buffers that have been created and not yet destroyed
func (d *Device) LiveBufferCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.liveBuffers
}

// CreatedBufferCount returns the number of buffers ever created by this device
func (d *Device) CreatedBufferCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.createdCount
}

// SubmitCount returns the number of command lists submitted to this device
func (d *Device) SubmitCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.submitCount
}

// DispatchCount returns the number of dispatches successfully executed by this device
func (d *Device) DispatchCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.dispatchCount
}

func (d *Device) releaseBuffer() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.liveBuffers--
}
