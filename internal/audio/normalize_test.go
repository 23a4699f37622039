package audio

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleClip = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")

func TestNormalizeRoundTrips(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(sampleClip)

	assert.Equal(t, sampleClip, NormalizeAny(sampleClip), "raw bytes")
	assert.Equal(t, sampleClip, NormalizeAny(encoded), "base64 text")
	assert.Equal(t, sampleClip, NormalizeAny(map[string]any{"audio": sampleClip}), "audio wrapper")
	assert.Equal(t, []byte{}, NormalizeAny(nil), "nil")
	assert.Equal(t, []byte{}, NormalizeAny("not-valid-base64!@#"), "invalid base64")
}

func TestNormalizeIntSequence(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 255}, NormalizeAny([]int{1, 2, 255}))
	// values above a byte keep their low 8 bits
	assert.Equal(t, []byte{0, 1}, NormalizeAny([]int64{256, 257}))
}

func TestNormalizeDecodedJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []byte
	}{
		{"byte list", `[82, 73, 70, 70]`, []byte("RIFF")},
		{"mixed list", `[82, "x"]`, []byte{}},
		{"fractional list", `[1.5]`, []byte{}},
		{"base64", `"UklGRg=="`, []byte("RIFF")},
		{"unpadded base64", `"UklGRg"`, []byte("RIFF")},
		{"data url", `"data:audio/wav;base64,UklGRg=="`, []byte("RIFF")},
		{"single key wrapper", `{"clip": "UklGRg=="}`, []byte("RIFF")},
		{"nested wrapper", `{"outer": {"audio": [82, 73, 70, 70]}}`, []byte("RIFF")},
		{"audio key wins over others", `{"audio": "UklGRg==", "sr": 16000}`, []byte("RIFF")},
		{"multi key without audio", `{"a": "UklGRg==", "b": 1}`, []byte{}},
		{"empty object", `{}`, []byte{}},
		{"number", `42`, []byte{}},
		{"bool", `true`, []byte{}},
		{"null", `null`, []byte{}},
		{"empty string", `""`, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v any
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &v))
			assert.Equal(t, tc.want, NormalizeAny(v))
		})
	}
}

func TestClassifyVariants(t *testing.T) {
	assert.IsType(t, Bytes{}, Classify([]byte{1}))
	assert.IsType(t, Base64Text(""), Classify("abc"))
	assert.IsType(t, IntSequence{}, Classify([]any{1.0, 2.0}))
	assert.IsType(t, AudioKeyWrapper{}, Classify(map[string]any{"audio": "x", "y": 1}))
	assert.IsType(t, SingleKeyWrapper{}, Classify(map[string]any{"data": "x"}))
	assert.IsType(t, Unrecognized{}, Classify(3.14))
	assert.IsType(t, Unrecognized{}, Classify(struct{}{}))
}

func TestClassifyDepthLimit(t *testing.T) {
	var v any = "UklGRg=="
	for i := 0; i < maxWrapperDepth+2; i++ {
		v = map[string]any{"w": v}
	}
	assert.Equal(t, []byte{}, NormalizeAny(v))
}

func TestNormalizeEmptyBytesIsEmpty(t *testing.T) {
	out := NormalizeAny([]byte{})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
