// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grpcring

import (
	"encoding/binary"

	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/transport"
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype of the messages: "application/grpc+ringmm".
const codecName = "ringmm"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// block is the message carried by the Deliver RPC.
type block struct {
	JobID  string
	Source int
	Tag    transport.Tag
	Data   []float64
}

// ack is the (empty) reply of the Deliver RPC.
type ack struct{}

// rawCodec encodes block as a small fixed header followed by the raw little-endian float64 values, avoiding
// any per-element encoding of large operand blocks.
//
// Header: jobID length (uint16), jobID bytes, source (uint32), kind (uint8), seq (uint32), count (uint32).
type rawCodec struct{}

// Name implements encoding.Codec.
func (rawCodec) Name() string { return codecName }

// Marshal implements encoding.Codec.
func (rawCodec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *ack:
		return nil, nil
	case *block:
		if len(msg.JobID) > 0xffff {
			return nil, errors.Errorf("job id too long (%d bytes)", len(msg.JobID))
		}
		headerLen := 2 + len(msg.JobID) + 4 + 1 + 4 + 4
		buf := make([]byte, headerLen, headerLen+len(msg.Data)*matrix.Float64Size)
		pos := 0
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(msg.JobID)))
		pos += 2
		pos += copy(buf[pos:], msg.JobID)
		binary.LittleEndian.PutUint32(buf[pos:], uint32(msg.Source))
		pos += 4
		buf[pos] = byte(msg.Tag.Kind)
		pos++
		binary.LittleEndian.PutUint32(buf[pos:], uint32(msg.Tag.Seq))
		pos += 4
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(msg.Data)))
		return append(buf, matrix.EncodeLittleEndian(msg.Data)...), nil
	default:
		return nil, errors.Errorf("%s codec cannot marshal %T", codecName, v)
	}
}

// Unmarshal implements encoding.Codec. The decoded values are copied: data may be reused by gRPC afterwards.
func (rawCodec) Unmarshal(data []byte, v any) error {
	switch msg := v.(type) {
	case *ack:
		return nil
	case *block:
		truncated := errors.Errorf("%s codec: truncated message (%d bytes)", codecName, len(data))
		if len(data) < 2 {
			return truncated
		}
		jobLen := int(binary.LittleEndian.Uint16(data))
		pos := 2
		if len(data) < pos+jobLen+4+1+4+4 {
			return truncated
		}
		msg.JobID = string(data[pos : pos+jobLen])
		pos += jobLen
		msg.Source = int(int32(binary.LittleEndian.Uint32(data[pos:])))
		pos += 4
		msg.Tag.Kind = transport.Kind(data[pos])
		pos++
		msg.Tag.Seq = int(int32(binary.LittleEndian.Uint32(data[pos:])))
		pos += 4
		count := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		msg.Data = make([]float64, count)
		return matrix.DecodeLittleEndian(data[pos:], msg.Data)
	default:
		return errors.Errorf("%s codec cannot unmarshal into %T", codecName, v)
	}
}
