package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

// AudioDemuxer pulls an audio track out of a media stream. Output larger
// than maxBytes fails with ErrExtractionTooLarge.
type AudioDemuxer interface {
	ExtractAudio(ctx context.Context, src io.Reader, maxBytes int64) ([]byte, error)
}

// FFmpeg transcodes to mp3 with an ffmpeg binary.
type FFmpeg struct {
	Binary     string
	Bitrate    string
	SampleRate int
	ScratchDir string
}

// ExtractAudio stages src in a scratch file because containers such as mp4
// may keep their index at the end and ffmpeg needs to seek.
func (f FFmpeg) ExtractAudio(ctx context.Context, src io.Reader, maxBytes int64) ([]byte, error) {
	dir, err := os.MkdirTemp(f.ScratchDir, "mr-demux-")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "creating scratch dir: %v", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input")
	outPath := filepath.Join(dir, "audio.mp3")
	in, err := os.Create(inPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "staging input: %v", err)
	}
	if _, err := io.Copy(in, src); err != nil {
		in.Close()
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "staging input: %v", err)
	}
	if err := in.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "staging input: %v", err)
	}

	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", inPath,
		"-vn", "-acodec", "libmp3lame",
		"-b:a", f.Bitrate,
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "mp3", "-y", outPath,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "ffmpeg: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "no audio produced: %v", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, tooLarge("extracted audio", info.Size(), maxBytes)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtractionFailed, "reading extracted audio: %v", err)
	}
	return data, nil
}

// Video demuxes the audio track and transcribes it.
type Video struct {
	audio    *Audio
	demuxer  AudioDemuxer
	maxBytes int64
}

// NewVideo creates the video extractor on top of the audio extractor.
func NewVideo(audio *Audio, demuxer AudioDemuxer, maxBytes int64) *Video {
	return &Video{audio: audio, demuxer: demuxer, maxBytes: maxBytes}
}

func (v *Video) MediaType() media.Type { return media.TypeVideo }

func (v *Video) Extract(ctx context.Context, in Input) (Result, error) {
	rc, err := in.Open(ctx)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.ErrExtractionFailed, "opening %s: %v", in.FileName, err)
	}
	defer rc.Close()

	src := &cappedReader{r: rc, limit: v.maxBytes}
	audio, err := v.demuxer.ExtractAudio(ctx, src, v.audio.maxInput)
	if src.exceeded {
		return Result{}, apperrors.Wrap(apperrors.ErrExtractionTooLarge, "%s exceeds %d bytes", in.FileName, v.maxBytes)
	}
	if err != nil {
		return Result{}, err
	}
	name := strings.TrimSuffix(in.FileName, path.Ext(in.FileName)) + ".mp3"
	return v.audio.transcribe(ctx, in, audio, name)
}

// cappedReader fails once more than limit bytes have been read, so a
// consumer never sees a silently truncated stream. Zero limit is unlimited.
type cappedReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, errStreamTooLarge
	}
	if c.limit > 0 && int64(len(p)) > c.limit-c.read+1 {
		p = p[:c.limit-c.read+1]
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.limit > 0 && c.read > c.limit {
		c.exceeded = true
		return 0, errStreamTooLarge
	}
	return n, err
}

var errStreamTooLarge = apperrors.Wrap(apperrors.ErrExtractionTooLarge, "input stream exceeds limit")

func tooLarge(what string, size, limit int64) error {
	return apperrors.Wrap(apperrors.ErrExtractionTooLarge,
		"%s is %s, limit is %s", what, humanBytes(size), humanBytes(limit))
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	}
	return fmt.Sprintf("%dB", n)
}
