// Package gpu defines the device-side collaborators of a geometry pool: raw buffers, the
// compute kernels that repack mesh data into the pools, and the device that executes them.
package gpu

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:generate mockgen -source device.go -destination ./mocks/device.go -package mocks

// Buffer is a raw, byte-addressable device buffer
type Buffer interface {
	// Label returns the diagnostic name the buffer was created with
	Label() string
	// Size returns the size of the buffer in bytes
	Size() int
	// Write copies data from the host into the buffer at the provided byte offset. It is used
	// to populate staging buffers before any command that reads them is submitted.
	Write(offset int, data []byte) (common.VkResult, error)
	// Read copies bytes starting at offset out of the buffer into data, waiting for any
	// submitted work that writes the buffer to complete first.
	Read(offset int, data []byte) (common.VkResult, error)
	// Destroy releases the buffer. A buffer referenced by submitted work remains valid until
	// that work completes.
	Destroy()
}

// Device creates buffers and executes recorded command lists
type Device interface {
	// CreateBuffer creates a new buffer sized and flagged according to info
	CreateBuffer(label string, info core1_0.BufferCreateInfo) (Buffer, common.VkResult, error)
	// Submit hands every dispatch in commands to the device as a single unit. The device may
	// execute the work asynchronously, but dispatches within one submission execute in order.
	// The command list may be cleared and reused as soon as Submit returns.
	Submit(commands *CommandList) (common.VkResult, error)
	// WaitIdle blocks until all submitted work has completed
	WaitIdle() (common.VkResult, error)
}
