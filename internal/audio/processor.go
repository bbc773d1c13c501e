package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gosndaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// Format identifies a target container format.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
)

// ErrUnsupportedFormat reports a format the processor cannot encode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		return FormatMP3, nil
	case FormatFLAC:
		return FormatFLAC, nil
	case FormatOGG:
		return FormatOGG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Artifact describes a written audio output.
type Artifact struct {
	Path       string        `json:"path"`
	Format     Format        `json:"format"`
	ByteSize   int64         `json:"byte_size"`
	Duration   time.Duration `json:"duration_ns"`
	SampleRate int           `json:"sample_rate"`
}

// ProcessorOptions configure a PostProcessor.
type ProcessorOptions struct {
	Normalize bool
	// TargetRate resamples output when it differs from the buffer's
	// native rate. Zero keeps the native rate.
	TargetRate int
	// NormalizePeak is the peak amplitude after normalization.
	// Zero means the default of 0.95.
	NormalizePeak float64
	// EncoderCommand produces compressed formats from an intermediate
	// WAV file. Placeholders {in}, {out} and {bitrate} are substituted.
	EncoderCommand string
	Bitrate        string
}

// PostProcessor normalizes, resamples and encodes audio buffers.
type PostProcessor struct {
	opts ProcessorOptions
}

func NewPostProcessor(opts ProcessorOptions) *PostProcessor {
	if opts.NormalizePeak <= 0 {
		opts.NormalizePeak = 0.95
	}
	return &PostProcessor{opts: opts}
}

// Write encodes buf into the requested format at path. The file is
// written to a temporary sibling first and renamed into place, so a
// crash mid-write never leaves a corrupt artifact at path.
func (p *PostProcessor) Write(buf *Buffer, path string, format Format) (*Artifact, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, errors.New("empty audio buffer")
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	out := buf
	if p.opts.Normalize {
		out = normalize(out, p.opts.NormalizePeak)
	}
	if p.opts.TargetRate > 0 && p.opts.TargetRate != out.SampleRate {
		out = resample(out, p.opts.TargetRate)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if format == FormatWAV {
		if err := p.writeWAVAtomic(out, path); err != nil {
			return nil, err
		}
	} else {
		if err := p.writeCompressed(out, path, format); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return &Artifact{
		Path:       path,
		Format:     format,
		ByteSize:   info.Size(),
		Duration:   out.Duration(),
		SampleRate: out.SampleRate,
	}, nil
}

func (p *PostProcessor) writeWAVAtomic(buf *Buffer, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vox_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encodeWAV(tmp, buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

func (p *PostProcessor) writeCompressed(buf *Buffer, path string, format Format) error {
	if p.opts.EncoderCommand == "" {
		return fmt.Errorf("%w: %s requires an encoder command", ErrUnsupportedFormat, format)
	}

	wavTmp, err := os.CreateTemp(filepath.Dir(path), ".vox_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	wavName := wavTmp.Name()
	defer os.Remove(wavName)

	if err := encodeWAV(wavTmp, buf); err != nil {
		wavTmp.Close()
		return err
	}
	if err := wavTmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	outTmp := wavName + "." + string(format)
	defer os.Remove(outTmp)

	bitrate := p.opts.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}
	rendered := strings.NewReplacer(
		"{in}", wavName,
		"{out}", outTmp,
		"{bitrate}", bitrate,
	).Replace(p.opts.EncoderCommand)

	parser := shellwords.NewParser()
	args, err := parser.Parse(rendered)
	if err != nil {
		return fmt.Errorf("parse encoder command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("encoder command empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: encoder failed: %v: %s", ErrUnsupportedFormat, err, strings.TrimSpace(string(output)))
	}
	if err := os.Rename(outTmp, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

func encodeWAV(file *os.File, buf *Buffer) error {
	intBuf := &gosndaudio.IntBuffer{
		Format: &gosndaudio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate},
		Data:   make([]int, len(buf.Samples)),
	}
	for i, s := range buf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		intBuf.Data[i] = int(math.Round(s * math.MaxInt16))
	}

	enc := wav.NewEncoder(file, buf.SampleRate, 16, buf.Channels, 1)
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAV decodes a WAV file into a Buffer. Samples are scaled to
// [-1, 1] according to the source bit depth.
func ReadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a wav file", ErrUnsupportedFormat, path)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if len(pcm.Data) == 0 {
		return nil, errors.New("wav file contains no samples")
	}

	scale := float64(int64(1) << (dec.BitDepth - 1))
	buf := &Buffer{
		Samples:    make([]float64, len(pcm.Data)),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	for i, s := range pcm.Data {
		buf.Samples[i] = float64(s) / scale
	}
	return buf, nil
}

// normalize scales samples so the peak amplitude equals target.
// Silent buffers pass through untouched.
func normalize(buf *Buffer, target float64) *Buffer {
	peak := buf.Peak()
	if peak == 0 {
		return buf
	}
	scale := target / peak
	out := buf.Clone()
	for i := range out.Samples {
		out.Samples[i] *= scale
	}
	return out
}

// resample converts buf to the target rate with linear interpolation.
func resample(buf *Buffer, targetRate int) *Buffer {
	if buf.SampleRate == targetRate || buf.SampleRate <= 0 {
		return buf
	}
	frames := len(buf.Samples) / buf.Channels
	outFrames := int(float64(frames) * float64(targetRate) / float64(buf.SampleRate))
	if outFrames < 1 {
		outFrames = 1
	}
	out := &Buffer{
		Samples:    make([]float64, outFrames*buf.Channels),
		SampleRate: targetRate,
		Channels:   buf.Channels,
	}
	denom := outFrames - 1
	if denom < 1 {
		denom = 1
	}
	ratio := float64(frames-1) / float64(denom)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		left := int(pos)
		right := left + 1
		if right >= frames {
			right = frames - 1
		}
		frac := pos - float64(left)
		for ch := 0; ch < buf.Channels; ch++ {
			a := buf.Samples[left*buf.Channels+ch]
			b := buf.Samples[right*buf.Channels+ch]
			out.Samples[i*buf.Channels+ch] = a + (b-a)*frac
		}
	}
	return out
}
