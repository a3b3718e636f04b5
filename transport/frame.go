// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// FrameTag identifies the compression applied to a frame body. Tags
// are wire constants; changing them breaks protocol compatibility.
type FrameTag uint8

const (
	// FrameRaw is an uncompressed body, used for small or
	// incompressible payloads.
	FrameRaw FrameTag = 0

	// FrameLZ4 is LZ4 block compression, the fast default.
	FrameLZ4 FrameTag = 1

	// FrameZstd is zstd compression, used for large payloads where
	// the better ratio pays for the extra CPU.
	FrameZstd FrameTag = 2
)

// String returns the tag's wire name.
func (tag FrameTag) String() string {
	switch tag {
	case FrameRaw:
		return "raw"
	case FrameLZ4:
		return "lz4"
	case FrameZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// Frame layout: 1 tag byte, 4-byte big-endian uncompressed length,
// then for compressed frames a 32-byte keyed BLAKE3 checksum of the
// compressed body. Raw frames skip the checksum; the CBOR envelope
// already delimits them and a copy-through needs no integrity check
// beyond the socket's.
const (
	frameHeaderSize   = 5
	frameChecksumSize = 32

	// compressThreshold is the smallest payload worth compressing.
	compressThreshold = 512

	// zstdThreshold is where zstd's ratio beats LZ4's speed.
	zstdThreshold = 64 * 1024
)

// frameKey is the domain key for frame checksums.
var frameKey = func() [32]byte {
	var key [32]byte
	copy(key[:], "svchub.transport.frame")
	return key
}()

// zstd encoder and decoder are concurrency-safe and reused across
// frames.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeFrame wraps payload for the wire, compressing when the size
// warrants it and falling back to a raw frame when the payload does
// not shrink.
func EncodeFrame(payload []byte) []byte {
	if len(payload) >= compressThreshold {
		tag := FrameLZ4
		if len(payload) >= zstdThreshold {
			tag = FrameZstd
		}
		if compressed, ok := compress(payload, tag); ok {
			return assembleFrame(tag, len(payload), compressed)
		}
	}
	return assembleFrame(FrameRaw, len(payload), payload)
}

func assembleFrame(tag FrameTag, uncompressedSize int, body []byte) []byte {
	size := frameHeaderSize + len(body)
	if tag != FrameRaw {
		size += frameChecksumSize
	}
	frame := make([]byte, 0, size)
	frame = append(frame, byte(tag))
	frame = binary.BigEndian.AppendUint32(frame, uint32(uncompressedSize))
	if tag != FrameRaw {
		sum := checksum(body)
		frame = append(frame, sum[:]...)
	}
	return append(frame, body...)
}

// DecodeFrame unwraps a frame, verifying the checksum and the
// decompressed length.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	tag := FrameTag(frame[0])
	uncompressedSize := int(binary.BigEndian.Uint32(frame[1:frameHeaderSize]))
	body := frame[frameHeaderSize:]

	if tag == FrameRaw {
		if len(body) != uncompressedSize {
			return nil, fmt.Errorf("raw frame: body is %d bytes, header says %d",
				len(body), uncompressedSize)
		}
		return body, nil
	}

	if len(body) < frameChecksumSize {
		return nil, fmt.Errorf("%s frame too short for checksum", tag)
	}
	sum := body[:frameChecksumSize]
	body = body[frameChecksumSize:]
	want := checksum(body)
	if !bytes.Equal(sum, want[:]) {
		return nil, fmt.Errorf("%s frame checksum mismatch", tag)
	}

	payload, err := decompress(body, tag, uncompressedSize)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// compress returns the compressed body, or false when the data is
// incompressible and the frame should go out raw.
func compress(payload []byte, tag FrameTag) ([]byte, bool) {
	switch tag {
	case FrameLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(payload)))
		written, err := lz4.CompressBlock(payload, destination, nil)
		if err != nil || written == 0 || written >= len(payload) {
			return nil, false
		}
		return destination[:written], true
	case FrameZstd:
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			return nil, false
		}
		return compressed, true
	default:
		return nil, false
	}
}

func decompress(body []byte, tag FrameTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case FrameLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil
	case FrameZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported frame tag: %d", tag)
	}
}

func checksum(body []byte) [32]byte {
	hasher, err := blake3.NewKeyed(frameKey[:])
	if err != nil {
		panic("transport: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
