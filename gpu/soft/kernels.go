package soft

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/geopool/gpu"
)

func execute(dispatch gpu.Dispatch) error {
	switch dispatch.Kernel {
	case gpu.KernelUpdateIndexBuffer16:
		return updateIndices(dispatch.Index, 2)
	case gpu.KernelUpdateIndexBuffer32:
		return updateIndices(dispatch.Index, 4)
	case gpu.KernelUpdateVertexBuffer:
		return updateVertices(dispatch.Vertex)
	case gpu.KernelCopyBuffer:
		return copyBuffer(dispatch.Copy)
	}

	return errors.Newf("unknown kernel %q", dispatch.Kernel)
}

func updateIndices(args gpu.IndexUpdateArgs, sourceWidth int) error {
	if args.Count < 0 || args.SourceStart < 0 || args.DestStart < 0 {
		return errors.Newf("negative index range: source start %d, dest start %d, count %d", args.SourceStart, args.DestStart, args.Count)
	}

	source, err := asSoftBuffer(args.Source, "source")
	if err != nil {
		return err
	}
	dest, err := asSoftBuffer(args.Dest, "destination")
	if err != nil {
		return err
	}

	sourceBytes := make([]byte, args.Count*sourceWidth)
	_, err = source.Read(args.SourceStart*sourceWidth, sourceBytes)
	if err != nil {
		return err
	}

	destBytes := make([]byte, args.Count*gpu.IndexByteSize)
	for i := 0; i < args.Count; i++ {
		var index uint32
		if sourceWidth == 2 {
			index = uint32(binary.LittleEndian.Uint16(sourceBytes[i*2:]))
		} else {
			index = binary.LittleEndian.Uint32(sourceBytes[i*4:])
		}
		binary.LittleEndian.PutUint32(destBytes[i*gpu.IndexByteSize:], index)
	}

	_, err = dest.Write(args.DestStart*gpu.IndexByteSize, destBytes)
	return err
}

func updateVertices(args gpu.VertexUpdateArgs) error {
	if args.VertexCount < 0 || args.DestStart < 0 {
		return errors.Newf("negative vertex range: dest start %d, count %d", args.DestStart, args.VertexCount)
	}
	if args.DestStart+args.VertexCount > args.DestLayout.Capacity {
		return errors.Newf("vertex range [%d, %d) exceeds destination capacity %d", args.DestStart, args.DestStart+args.VertexCount, args.DestLayout.Capacity)
	}

	dest, err := asSoftBuffer(args.Dest, "destination")
	if err != nil {
		return err
	}
	if args.DestLayout.ByteSize() > dest.Size() {
		return errors.Newf("destination layout requires %d bytes but buffer %q is %d bytes", args.DestLayout.ByteSize(), dest.Label(), dest.Size())
	}

	for attribute := gpu.AttributePosition; attribute < gpu.AttributeCount; attribute++ {
		elementSize := attribute.ByteSize()
		plane := make([]byte, args.VertexCount*elementSize)

		if attributePresent(attribute, args.Flags) {
			stream := args.Streams[attribute]
			source, err := asSoftBuffer(stream.Buffer, attribute.String())
			if err != nil {
				return err
			}

			stride := stream.EffectiveStride(elementSize)
			for v := 0; v < args.VertexCount; v++ {
				_, err = source.Read(stream.Offset+v*stride, plane[v*elementSize:(v+1)*elementSize])
				if err != nil {
					return errors.Wrapf(err, "reading %s stream", attribute)
				}
			}
		}

		_, err = dest.Write(args.DestLayout.ElementOffset(attribute, args.DestStart), plane)
		if err != nil {
			return errors.Wrapf(err, "writing %s plane", attribute)
		}
	}

	return nil
}

func attributePresent(attribute gpu.Attribute, flags gpu.InputFlags) bool {
	switch attribute {
	case gpu.AttributeUV1:
		return flags&gpu.InputHasUV1 != 0
	case gpu.AttributeTangent:
		return flags&gpu.InputHasTangent != 0
	}
	return true
}

func copyBuffer(args gpu.CopyArgs) error {
	if args.Size < 0 || args.SourceOffset < 0 || args.DestOffset < 0 {
		return errors.Newf("negative copy range: source offset %d, dest offset %d, size %d", args.SourceOffset, args.DestOffset, args.Size)
	}

	source, err := asSoftBuffer(args.Source, "source")
	if err != nil {
		return err
	}
	dest, err := asSoftBuffer(args.Dest, "destination")
	if err != nil {
		return err
	}

	if source == dest && args.SourceOffset < args.DestOffset+args.Size && args.DestOffset < args.SourceOffset+args.Size {
		return errors.Newf("copy ranges [%d, %d) and [%d, %d) of %q overlap",
			args.SourceOffset, args.SourceOffset+args.Size, args.DestOffset, args.DestOffset+args.Size, source.Label())
	}

	data := make([]byte, args.Size)
	_, err = source.Read(args.SourceOffset, data)
	if err != nil {
		return err
	}

	_, err = dest.Write(args.DestOffset, data)
	return err
}
