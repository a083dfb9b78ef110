package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ByteOrder is the byte order of every persisted integer.
var ByteOrder = binary.BigEndian

// ErrStringTooLong is returned when a length-prefixed string exceeds 65535 bytes.
var ErrStringTooLong = errors.New("string exceeds uint16 length prefix")

// BinaryWriter writes fixed-width big-endian values through a buffered writer.
// The first error is sticky: later calls are no-ops and Flush reports it.
type BinaryWriter struct {
	w   *bufio.Writer
	err error
	buf [8]byte
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: bufio.NewWriter(w)}
}

func (bw *BinaryWriter) write(p []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(p)
}

// Uint8 writes one byte.
func (bw *BinaryWriter) Uint8(v uint8) {
	bw.buf[0] = v
	bw.write(bw.buf[:1])
}

// Uint16 writes a 2-byte unsigned integer.
func (bw *BinaryWriter) Uint16(v uint16) {
	ByteOrder.PutUint16(bw.buf[:2], v)
	bw.write(bw.buf[:2])
}

// Uint32 writes a 4-byte unsigned integer.
func (bw *BinaryWriter) Uint32(v uint32) {
	ByteOrder.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

// Int32 writes a 4-byte signed integer.
func (bw *BinaryWriter) Int32(v int32) {
	bw.Uint32(uint32(v))
}

// String16 writes s prefixed by its uint16 length.
func (bw *BinaryWriter) String16(s string) {
	if len(s) > math.MaxUint16 {
		if bw.err == nil {
			bw.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		}
		return
	}
	bw.Uint16(uint16(len(s)))
	if bw.err == nil {
		_, bw.err = bw.w.WriteString(s)
	}
}

// Err returns the first write error.
func (bw *BinaryWriter) Err() error {
	return bw.err
}

// Flush flushes buffered data and returns the first error seen.
func (bw *BinaryWriter) Flush() error {
	if bw.err != nil {
		return bw.err
	}
	bw.err = bw.w.Flush()
	return bw.err
}

// BinaryReader is the counterpart of BinaryWriter. Short reads surface as
// io.ErrUnexpectedEOF through Err.
type BinaryReader struct {
	r   io.Reader
	err error
	buf [8]byte
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: bufio.NewReader(r)}
}

func (br *BinaryReader) read(n int) []byte {
	if br.err != nil {
		return br.buf[:n]
	}
	if _, err := io.ReadFull(br.r, br.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		br.err = err
	}
	return br.buf[:n]
}

// Uint8 reads one byte.
func (br *BinaryReader) Uint8() uint8 {
	return br.read(1)[0]
}

// Uint16 reads a 2-byte unsigned integer.
func (br *BinaryReader) Uint16() uint16 {
	return ByteOrder.Uint16(br.read(2))
}

// Uint32 reads a 4-byte unsigned integer.
func (br *BinaryReader) Uint32() uint32 {
	return ByteOrder.Uint32(br.read(4))
}

// Int32 reads a 4-byte signed integer.
func (br *BinaryReader) Int32() int32 {
	return int32(br.Uint32())
}

// String16 reads a uint16 length-prefixed string.
func (br *BinaryReader) String16() string {
	n := int(br.Uint16())
	if br.err != nil || n == 0 {
		return ""
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(br.r, p); err != nil {
		br.err = io.ErrUnexpectedEOF
		return ""
	}
	return string(p)
}

// Err returns the first read error.
func (br *BinaryReader) Err() error {
	return br.err
}
