package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := BuildWAV(pcm, 16000, 1, 16)

	require.Len(t, wav, 44+len(pcm))
	assert.True(t, HasContainerTag(wav))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestHasContainerTag(t *testing.T) {
	assert.False(t, HasContainerTag(nil))
	assert.False(t, HasContainerTag([]byte("RIF")))
	assert.False(t, HasContainerTag([]byte{0, 1, 2, 3, 4}))
}
