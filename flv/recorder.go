// Package flv records published streams to FLV files and reads them back
// for playback.
package flv

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/datarhei/joy4/format/flv/flvio"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf0"
	"github.com/rtmpengine/rtmp/video"
)

const (
	hasVideo = 0x01
	hasAudio = 0x04
)

var ErrClosed = errors.New("flv: recorder closed")

// Recorder appends audio, video and script tags to an FLV file. Tag
// timestamps are relative to the first tag written.
type Recorder struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	w       *bufio.Writer
	scratch []byte
	started bool
	base    uint32
	tags    int
	logger  *zap.Logger
}

// Create makes the file at path, and any missing parent directory, and
// writes the FLV header.
func Create(path string, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "flv: create directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "flv: create file")
	}

	r := &Recorder{
		path:    path,
		file:    f,
		w:       bufio.NewWriterSize(f, 64*1024),
		scratch: make([]byte, flvio.TagHeaderLength+flvio.MaxTagSubHeaderLength),
		logger:  logger.With(zap.String("file", path)),
	}

	header := make([]byte, flvio.FileHeaderLength+flvio.TagTrailerLength)
	n := flvio.FillFileHeader(header, hasAudio|hasVideo)
	if _, err := r.w.Write(header[:n]); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flv: write header")
	}
	r.logger.Info("[flv] recording started")
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

// Tags returns how many tags have been written.
func (r *Recorder) Tags() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tags
}

func (r *Recorder) WriteAudio(timestamp uint32, payload []byte) error {
	tag := flvio.Tag{Type: flvio.TAG_AUDIO}
	n, err := tag.ParseHeader(payload)
	if err != nil {
		return errors.Wrap(err, "flv: audio header")
	}
	tag.Data = payload[n:]
	return r.write(tag, timestamp)
}

// WriteVideo writes a video frame. Frames the FLV tag header cannot
// describe, such as command frames, are skipped.
func (r *Recorder) WriteVideo(timestamp uint32, payload []byte) error {
	h, ok := video.ParseHeader(payload)
	if !ok || !h.IsPlayable() {
		return nil
	}
	if h.Enhanced && len(payload) < 8 {
		return errors.New("flv: short enhanced video header")
	}
	if !h.Enhanced && len(payload) < 5 {
		return errors.New("flv: short video header")
	}

	tag := flvio.Tag{Type: flvio.TAG_VIDEO}
	n, err := tag.ParseHeader(payload)
	if err != nil {
		return errors.Wrap(err, "flv: video header")
	}
	tag.Data = payload[n:]
	return r.write(tag, timestamp)
}

// WriteMetadata writes an onMetaData script tag.
func (r *Recorder) WriteMetadata(timestamp uint32, metadata amf.Value) error {
	data, err := amf0.EncodeAll(amf.String("onMetaData"), metadata)
	if err != nil {
		return errors.Wrap(err, "flv: encode metadata")
	}
	return r.write(flvio.Tag{Type: flvio.TAG_SCRIPTDATA, Data: data}, timestamp)
}

func (r *Recorder) write(tag flvio.Tag, timestamp uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrClosed
	}
	if !r.started {
		r.started = true
		r.base = timestamp
	}
	ts := int32(timestamp - r.base)
	if err := flvio.WriteTag(r.w, tag, ts, r.scratch); err != nil {
		return errors.Wrap(err, "flv: write tag")
	}
	r.tags++
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil

	err := r.w.Flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	r.logger.Info("[flv] recording finished", zap.Int("tags", r.tags))
	return errors.Wrap(err, "flv: close")
}
