package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	parseTests := []struct {
		name    string
		payload []byte
		header  Header
		ok      bool
	}{
		{"avcSequenceHeader", []byte{0x17, 0x00, 0, 0, 0}, Header{FrameType: KeyFrame, Codec: H264, PacketType: AVCSequenceHeader}, true},
		{"avcInterFrame", []byte{0x27, 0x01, 0, 0, 0}, Header{FrameType: InterFrame, Codec: H264, PacketType: AVCNALU}, true},
		{"hevcKeyFrame", []byte{0x1C, 0x01}, Header{FrameType: KeyFrame, Codec: HEVC, PacketType: AVCNALU}, true},
		{"vp6", []byte{0x24}, Header{FrameType: InterFrame, Codec: VP6}, true},
		{"enhancedSequenceStart", []byte{0x90, 'h', 'v', 'c', '1'}, Header{FrameType: KeyFrame, Enhanced: true, FourCC: "hvc1"}, true},
		{"enhancedTruncated", []byte{0x91, 'a', 'v'}, Header{}, false},
		{"avcTruncated", []byte{0x17}, Header{}, false},
		{"empty", nil, Header{}, false},
	}

	for _, tt := range parseTests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := ParseHeader(tt.payload)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.header, h)
			}
		})
	}
}

func TestFrameClassification(t *testing.T) {
	require.True(t, IsSequenceHeader([]byte{0x17, 0x00}))
	require.True(t, IsSequenceHeader([]byte{0x1C, 0x00}))
	require.True(t, IsSequenceHeader([]byte{0x90, 'a', 'v', '0', '1'}))
	require.False(t, IsSequenceHeader([]byte{0x17, 0x01}))
	require.False(t, IsSequenceHeader([]byte{0x12, 0x00}))

	require.True(t, IsKeyFrame([]byte{0x17, 0x01}))
	require.False(t, IsKeyFrame([]byte{0x27, 0x01}))

	h, _ := ParseHeader([]byte{0x57, 0x00})
	require.False(t, h.IsPlayable())
	h, _ = ParseHeader([]byte{0x37, 0x01})
	require.True(t, h.IsPlayable())

	require.Equal(t, "h264", H264.String())
	require.Equal(t, "video(9)", Codec(9).String())
}
