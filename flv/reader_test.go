package flv

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/datarhei/joy4/format/flv/flvio"
	"github.com/stretchr/testify/require"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf0"
)

var (
	videoConfig = []byte{0x17, 0x00, 0, 0, 0, 0x01, 0x64}
	audioConfig = []byte{0xAF, 0x00, 0x12, 0x10}
	keyFrame1   = []byte{0x17, 0x01, 0, 0, 0, 0x65, 0x01}
	interFrame  = []byte{0x27, 0x01, 0, 0, 0, 0x41, 0x9A}
	audioFrame  = []byte{0xAF, 0x01, 0x21, 0x22}
	keyFrame2   = []byte{0x17, 0x01, 0, 0, 0, 0x65, 0x02}
)

// writeRecording records a stream with key frames at 0 and 100ms.
func writeRecording(t *testing.T) (string, amf.Value) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.flv")
	r, err := Create(path, nil)
	require.NoError(t, err)

	metadata := amf.NewObject(amf.Field{Key: "width", Value: amf.Number(640)})
	require.NoError(t, r.WriteMetadata(5000, metadata))
	require.NoError(t, r.WriteVideo(5000, videoConfig))
	require.NoError(t, r.WriteAudio(5000, audioConfig))
	require.NoError(t, r.WriteVideo(5000, keyFrame1))
	require.NoError(t, r.WriteVideo(5040, interFrame))
	require.NoError(t, r.WriteAudio(5050, audioFrame))
	require.NoError(t, r.WriteVideo(5100, keyFrame2))
	require.NoError(t, r.WriteVideo(5140, interFrame))
	require.NoError(t, r.Close())
	return path, metadata
}

func TestReader(t *testing.T) {
	path, metadata := writeRecording(t)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, path, r.Path())

	script, err := amf0.EncodeAll(amf.String("onMetaData"), metadata)
	require.NoError(t, err)

	expected := []Tag{
		{Type: flvio.TAG_SCRIPTDATA, Timestamp: 0, Payload: script},
		{Type: flvio.TAG_VIDEO, Timestamp: 0, Payload: videoConfig},
		{Type: flvio.TAG_AUDIO, Timestamp: 0, Payload: audioConfig},
		{Type: flvio.TAG_VIDEO, Timestamp: 0, Payload: keyFrame1},
		{Type: flvio.TAG_VIDEO, Timestamp: 40, Payload: interFrame},
		{Type: flvio.TAG_AUDIO, Timestamp: 50, Payload: audioFrame},
		{Type: flvio.TAG_VIDEO, Timestamp: 100, Payload: keyFrame2},
		{Type: flvio.TAG_VIDEO, Timestamp: 140, Payload: interFrame},
	}
	for i, want := range expected {
		tag, err := r.ReadTag()
		require.NoError(t, err, "tag %d", i)
		require.Equal(t, want, tag, "tag %d", i)
	}
	_, err = r.ReadTag()
	require.Equal(t, io.EOF, err)

	require.NoError(t, r.Rewind())
	tag, err := r.ReadTag()
	require.NoError(t, err)
	require.True(t, tag.IsScript())
}

func TestReaderSeekKeyFrame(t *testing.T) {
	path, _ := writeRecording(t)

	tests := map[string]struct {
		target  uint32
		next    Tag
		headers int
	}{
		"start":           {target: 0, next: Tag{Type: flvio.TAG_VIDEO, Timestamp: 0, Payload: keyFrame1}, headers: 3},
		"beforeSecondKey": {target: 99, next: Tag{Type: flvio.TAG_VIDEO, Timestamp: 0, Payload: keyFrame1}, headers: 3},
		"atSecondKey":     {target: 100, next: Tag{Type: flvio.TAG_VIDEO, Timestamp: 100, Payload: keyFrame2}, headers: 3},
		"afterSecondKey":  {target: 120, next: Tag{Type: flvio.TAG_VIDEO, Timestamp: 100, Payload: keyFrame2}, headers: 3},
		"pastEndOfFile":   {target: 60000, next: Tag{Type: flvio.TAG_VIDEO, Timestamp: 100, Payload: keyFrame2}, headers: 3},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()

			headers, err := r.SeekKeyFrame(test.target)
			require.NoError(t, err)
			require.Len(t, headers, test.headers)
			require.True(t, headers[0].IsScript())
			require.Equal(t, videoConfig, headers[1].Payload)
			require.Equal(t, audioConfig, headers[2].Payload)

			tag, err := r.ReadTag()
			require.NoError(t, err)
			require.Equal(t, test.next, tag)
		})
	}
}

func TestReaderSeekAudioOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.flv")
	w, err := Create(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteAudio(0, audioConfig))
	for ts := uint32(20); ts <= 60; ts += 20 {
		require.NoError(t, w.WriteAudio(ts, audioFrame))
	}
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	headers, err := r.SeekKeyFrame(45)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	require.Equal(t, audioConfig, headers[0].Payload)

	tag, err := r.ReadTag()
	require.NoError(t, err)
	require.Equal(t, uint32(40), tag.Timestamp)
}

func TestReaderTruncated(t *testing.T) {
	path, _ := writeRecording(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for {
		_, err = r.ReadTag()
		if err != nil {
			break
		}
	}
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestOpenRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.flv")
	require.NoError(t, os.WriteFile(path, []byte("not a video file"), 0o644))

	_, err := Open(path)
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.flv"))
	require.Error(t, err)
}
