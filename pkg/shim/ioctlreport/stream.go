// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ioctlreport

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the record message.
const (
	fieldPath    protowire.Number = 1
	fieldRequest protowire.Number = 2
	fieldNr      protowire.Number = 3
	fieldClass   protowire.Number = 4
	fieldErrno   protowire.Number = 5
)

// maxRecordSize bounds the size of one encoded record accepted by Reader.
const maxRecordSize = 1 << 20

// Writer streams records. The format is, per record:
//   - 8 byte little endian uint64 containing the size of the message.
//   - The protobuf wire encoding of the message.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes one record.
func (w *Writer) Write(rec Record) error {
	msg := marshalRecord(w.buf[:0], rec)
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(msg)))
	if _, err := w.w.Write(size[:]); err != nil {
		return fmt.Errorf("failed to write record size: %w", err)
	}
	if _, err := w.w.Write(msg); err != nil {
		return fmt.Errorf("failed to write record data: %w", err)
	}
	w.buf = msg
	return nil
}

func marshalRecord(b []byte, rec Record) []byte {
	if rec.Path != "" {
		b = protowire.AppendTag(b, fieldPath, protowire.BytesType)
		b = protowire.AppendString(b, rec.Path)
	}
	b = protowire.AppendTag(b, fieldRequest, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Request))
	b = protowire.AppendTag(b, fieldNr, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Nr))
	b = protowire.AppendTag(b, fieldClass, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Class))
	b = protowire.AppendTag(b, fieldErrno, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(rec.Errno)))
	return b
}

// Reader reads records written by a Writer.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader returns a Reader that reads from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read reads the next record. It returns io.EOF at a clean end of stream.
func (r *Reader) Read() (Record, error) {
	var sizeBuf [8]byte
	if _, err := io.ReadFull(r.r, sizeBuf[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read record size: %w", err)
	}
	size := binary.LittleEndian.Uint64(sizeBuf[:])
	if size > maxRecordSize {
		return Record{}, fmt.Errorf("record size %d exceeds limit %d", size, maxRecordSize)
	}

	// See if we need to reallocate the buffer.
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	} else {
		r.buf = r.buf[:size]
	}
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return Record{}, fmt.Errorf("failed to read record data: %w", err)
	}
	return unmarshalRecord(r.buf)
}

func unmarshalRecord(b []byte) (Record, error) {
	var rec Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, fmt.Errorf("bad path: %w", protowire.ParseError(n))
			}
			rec.Path = v
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, fmt.Errorf("bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldRequest:
				rec.Request = uint32(v)
			case fieldNr:
				rec.Nr = uint32(v)
			case fieldClass:
				rec.Class = Class(v)
			case fieldErrno:
				rec.Errno = int32(protowire.DecodeZigZag(v))
			}
		default:
			// Skip unknown fields.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, fmt.Errorf("bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}
