package audio

import (
	"bytes"
	"encoding/binary"
)

// ContainerTag is the 4-byte prefix of a RIFF/WAVE container.
var ContainerTag = []byte("RIFF")

// HasContainerTag reports whether clip starts with the RIFF tag.
func HasContainerTag(clip []byte) bool {
	return bytes.HasPrefix(clip, ContainerTag)
}

// BuildWAV frames raw little-endian PCM samples with a canonical 44-byte
// RIFF/WAVE header.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.Write(ContainerTag)
	_ = binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, byteRate)
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
