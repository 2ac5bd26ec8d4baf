package gpu

import (
	"github.com/vkngwrapper/core/v2/common"
)

// Kernel names one of the compute entry points used to move mesh data into the pools
type Kernel string

const (
	// KernelUpdateIndexBuffer16 widens 16-bit source indices into the 32-bit index pool
	KernelUpdateIndexBuffer16 Kernel = "MainUpdateIndexBuffer16"
	// KernelUpdateIndexBuffer32 copies 32-bit source indices into the 32-bit index pool
	KernelUpdateIndexBuffer32 Kernel = "MainUpdateIndexBuffer32"
	// KernelUpdateVertexBuffer interleaves source attribute streams into the planar vertex pool
	KernelUpdateVertexBuffer Kernel = "MainUpdateVertexBuffer"
	// KernelCopyBuffer is a transfer command rather than a compute kernel: it copies a byte range
	// between buffers and is used to relocate geometry within the pools
	KernelCopyBuffer Kernel = "CopyBuffer"
)

// InputFlags indicate which optional attribute streams are present in a vertex update
type InputFlags uint32

var inputFlagsMapping = common.NewFlagStringMapping[InputFlags]()

func (f InputFlags) Register(str string) {
	inputFlagsMapping.Register(f, str)
}
func (f InputFlags) String() string {
	return inputFlagsMapping.FlagsToString(f)
}

const (
	// InputHasUV1 indicates that the UV1 stream is present. When absent, the UV1 plane is zeroed.
	InputHasUV1 InputFlags = 1 << iota
	// InputHasTangent indicates that the tangent stream is present. When absent, the tangent plane
	// is zeroed.
	InputHasTangent
)

func init() {
	InputHasUV1.Register("InputHasUV1")
	InputHasTangent.Register("InputHasTangent")
}

// IndexUpdateArgs are the parameters of the index update kernels. Starts and counts are measured
// in indices, not bytes.
type IndexUpdateArgs struct {
	Source      Buffer
	SourceStart int
	Count       int

	Dest      Buffer
	DestStart int
}

// VertexStream locates one attribute stream in a source buffer
type VertexStream struct {
	Buffer Buffer
	// Offset is the byte offset of the first vertex's attribute
	Offset int
	// Stride is the byte distance between consecutive vertices' attributes. Zero means the
	// stream is tightly packed.
	Stride int
}

// VertexUpdateArgs are the parameters of the vertex update kernel
type VertexUpdateArgs struct {
	Streams [AttributeCount]VertexStream
	Flags   InputFlags

	VertexCount int

	Dest      Buffer
	DestStart int
	// DestLayout describes the planar layout of the destination, which depends on the total
	// vertex capacity of the destination pool
	DestLayout VertexLayout
}

// EffectiveStride returns the stride of the stream for an attribute of the provided size
func (s VertexStream) EffectiveStride(elementSize int) int {
	if s.Stride == 0 {
		return elementSize
	}
	return s.Stride
}

// CopyArgs are the parameters of a buffer copy. Offsets and size are measured in bytes. Source
// and Dest may be the same buffer as long as the two ranges do not overlap.
type CopyArgs struct {
	Source       Buffer
	SourceOffset int

	Dest       Buffer
	DestOffset int

	Size int
}

// Dispatch is a single recorded kernel invocation
type Dispatch struct {
	Kernel      Kernel
	GroupCountX int

	Index  IndexUpdateArgs
	Vertex VertexUpdateArgs
	Copy   CopyArgs
}

// CommandList records kernel dispatches to be submitted to a Device as a single unit.
// Dispatches execute in the order they were recorded.
type CommandList struct {
	name       string
	dispatches []Dispatch
}

// NewCommandList creates an empty CommandList. The name is only used for diagnostics.
func NewCommandList(name string) *CommandList {
	return &CommandList{name: name}
}

// Name returns the diagnostic name of this command list
func (l *CommandList) Name() string { return l.name }

// UpdateIndices records an index update dispatch. kernel must be KernelUpdateIndexBuffer16 or
// KernelUpdateIndexBuffer32, matching the width of the source indices.
func (l *CommandList) UpdateIndices(kernel Kernel, args IndexUpdateArgs) {
	l.dispatches = append(l.dispatches, Dispatch{
		Kernel:      kernel,
		GroupCountX: GroupCount(args.Count, ThreadGroupSize),
		Index:       args,
	})
}

// UpdateVertices records a vertex update dispatch
func (l *CommandList) UpdateVertices(args VertexUpdateArgs) {
	l.dispatches = append(l.dispatches, Dispatch{
		Kernel:      KernelUpdateVertexBuffer,
		GroupCountX: GroupCount(args.VertexCount, ThreadGroupSize),
		Vertex:      args,
	})
}

// CopyBuffer records a buffer copy. Copies have no thread groups.
func (l *CommandList) CopyBuffer(args CopyArgs) {
	l.dispatches = append(l.dispatches, Dispatch{
		Kernel: KernelCopyBuffer,
		Copy:   args,
	})
}

// Len returns the number of recorded dispatches
func (l *CommandList) Len() int { return len(l.dispatches) }

// Dispatches returns the recorded dispatches in order. The returned slice must not be modified.
func (l *CommandList) Dispatches() []Dispatch { return l.dispatches }

// Clear removes all recorded dispatches so the list can be reused
func (l *CommandList) Clear() {
	for i := range l.dispatches {
		l.dispatches[i] = Dispatch{}
	}
	l.dispatches = l.dispatches[:0]
}
