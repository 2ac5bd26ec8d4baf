package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/geopool/gpu"
)

// Buffer is a host-memory gpu.Buffer created by a software Device
type Buffer struct {
	device *Device
	label  string
	info   core1_0.BufferCreateInfo

	lock      sync.RWMutex
	data      []byte
	destroyed bool
}

var _ gpu.Buffer = &Buffer{}

// Label returns the name the buffer was created with
func (b *Buffer) Label() string { return b.label }

// Size returns the size of the buffer in bytes
func (b *Buffer) Size() int { return b.info.Size }

// CreateInfo returns the parameters the buffer was created with
func (b *Buffer) CreateInfo() core1_0.BufferCreateInfo { return b.info }

// Destroyed returns true if Destroy has been called on this buffer
func (b *Buffer) Destroyed() bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.destroyed
}

func (b *Buffer) Write(offset int, data []byte) (common.VkResult, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	err := b.checkRange(offset, len(data))
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	copy(b.data[offset:], data)
	return core1_0.VKSuccess, nil
}

func (b *Buffer) Read(offset int, data []byte) (common.VkResult, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	err := b.checkRange(offset, len(data))
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	copy(data, b.data[offset:offset+len(data)])
	return core1_0.VKSuccess, nil
}

// Destroy releases the buffer's memory. Destroying a buffer twice is a no-op.
func (b *Buffer) Destroy() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.destroyed {
		return
	}

	b.destroyed = true
	b.data = nil
	b.device.releaseBuffer()
}

func (b *Buffer) checkRange(offset, size int) error {
	if b.destroyed {
		return errors.Newf("buffer %q has been destroyed", b.label)
	}
	if offset < 0 || size < 0 || offset+size > len(b.data) {
		return errors.Newf("buffer %q: range [%d, %d) is outside of the buffer's %d bytes", b.label, offset, offset+size, len(b.data))
	}

	return nil
}

func asSoftBuffer(buffer gpu.Buffer, role string) (*Buffer, error) {
	if buffer == nil {
		return nil, errors.Newf("%s buffer is nil", role)
	}

	softBuffer, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Newf("%s buffer %q was not created by a software device", role, buffer.Label())
	}

	return softBuffer, nil
}
