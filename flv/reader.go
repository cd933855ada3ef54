package flv

import (
	"bufio"
	"io"
	"os"

	"github.com/datarhei/joy4/format/flv/flvio"
	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/audio"
	"github.com/rtmpengine/rtmp/video"
)

// Tag is one audio, video or script tag as RTMP carries it: Payload keeps
// the codec header bytes that flvio.ReadTag would strip.
type Tag struct {
	Type      uint8
	Timestamp uint32
	Payload   []byte
}

func (t Tag) IsAudio() bool  { return t.Type == flvio.TAG_AUDIO }
func (t Tag) IsVideo() bool  { return t.Type == flvio.TAG_VIDEO }
func (t Tag) IsScript() bool { return t.Type == flvio.TAG_SCRIPTDATA }

// Reader reads the tags of an FLV file, such as one written by Recorder.
type Reader struct {
	path   string
	file   *os.File
	r      *bufio.Reader
	start  int64 // offset of the first tag
	pos    int64 // offset of the next tag
	header []byte
}

// Open opens the file at path and reads its FLV header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "flv: open file")
	}
	r := &Reader{
		path:   path,
		file:   f,
		r:      bufio.NewReaderSize(f, 64*1024),
		header: make([]byte, flvio.TagHeaderLength),
	}

	header := make([]byte, flvio.FileHeaderLength)
	if _, err := io.ReadFull(r.r, header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flv: read header")
	}
	_, skip, err := flvio.ParseFileHeader(header)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flv: parse header")
	}
	if _, err := r.r.Discard(skip); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flv: read header")
	}
	r.start = int64(flvio.FileHeaderLength + skip)
	r.pos = r.start
	return r, nil
}

func (r *Reader) Path() string { return r.path }

// ReadTag returns the next tag, or io.EOF after the last one. A file cut
// short inside a tag returns io.ErrUnexpectedEOF.
func (r *Reader) ReadTag() (Tag, error) {
	if _, err := io.ReadFull(r.r, r.header); err != nil {
		return Tag{}, err
	}
	tag, ts, size, err := flvio.ParseTagHeader(r.header)
	if err != nil {
		return Tag{}, errors.Wrap(err, "flv: tag header")
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Tag{}, eof(err)
	}
	if _, err := io.ReadFull(r.r, r.header[:flvio.TagTrailerLength]); err != nil {
		return Tag{}, eof(err)
	}
	r.pos += int64(flvio.TagHeaderLength + size + flvio.TagTrailerLength)
	return Tag{Type: tag.Type, Timestamp: uint32(ts), Payload: payload}, nil
}

func eof(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) seek(offset int64) error {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "flv: seek")
	}
	r.r.Reset(r.file)
	r.pos = offset
	return nil
}

// Rewind moves back to the first tag.
func (r *Reader) Rewind() error {
	return r.seek(r.start)
}

// SeekKeyFrame moves to the last video key frame at or before ts or, when
// no key frame comes that early, to the last audio tag at or before ts. It
// returns the metadata and codec configuration tags that precede that
// point, which a player needs before the first frame it is sent.
func (r *Reader) SeekKeyFrame(ts uint32) ([]Tag, error) {
	if err := r.Rewind(); err != nil {
		return nil, err
	}

	at := r.start
	var headers []Tag
	var meta, vconfig, aconfig *Tag
	keyFrames := false
	snapshot := func() []Tag {
		var tags []Tag
		for _, t := range []*Tag{meta, vconfig, aconfig} {
			if t != nil {
				tags = append(tags, *t)
			}
		}
		return tags
	}

	for {
		offset := r.pos
		tag, err := r.ReadTag()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tag.Timestamp > ts {
			break
		}
		switch {
		case tag.IsScript():
			meta = &tag
		case tag.IsVideo() && video.IsSequenceHeader(tag.Payload):
			vconfig = &tag
		case tag.IsAudio() && audio.IsSequenceHeader(tag.Payload):
			aconfig = &tag
		case tag.IsVideo() && video.IsKeyFrame(tag.Payload):
			keyFrames = true
			at, headers = offset, snapshot()
		case tag.IsAudio() && !keyFrames:
			at, headers = offset, snapshot()
		}
	}

	if err := r.seek(at); err != nil {
		return nil, err
	}
	return headers, nil
}

func (r *Reader) Close() error {
	return errors.Wrap(r.file.Close(), "flv: close")
}
