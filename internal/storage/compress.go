package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression 描述快照文件的压缩方式。
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// zstdMagic 是 zstd 帧的起始魔数（小端 0xFD2FB528）。
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// ParseCompression 将配置字符串标准化为 Compression，空值视为 none。
func ParseCompression(raw string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unsupported snapshot compression: %s", raw)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewSnapshotWriter 根据 c 包装 w；调用方必须 Close 以刷新压缩帧。
func NewSnapshotWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot compression: %s", c)
	}
}

type decoderReadCloser struct {
	io.Reader
	dec *zstd.Decoder
}

func (d decoderReadCloser) Close() error {
	d.dec.Close()
	return nil
}

// OpenSnapshotReader 通过魔数识别 zstd 帧，使读取端不依赖写入时的配置。
func OpenSnapshotReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return io.NopCloser(br), nil
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return decoderReadCloser{Reader: dec, dec: dec}, nil
}
