package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func sineBuffer(frames, rate, channels int, amplitude float64) *Buffer {
	buf := &Buffer{
		Samples:    make([]float64, frames*channels),
		SampleRate: rate,
		Channels:   channels,
	}
	for i := 0; i < frames; i++ {
		s := amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
		for ch := 0; ch < channels; ch++ {
			buf.Samples[i*channels+ch] = s
		}
	}
	return buf
}

func decodeWAV(t *testing.T, path string) ([]int, int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("%s is not a valid wav file", path)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return pcm.Data, int(dec.SampleRate), int(dec.NumChans)
}

func TestWriteWAV(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	buf := sineBuffer(1600, 16000, 1, 0.5)

	path := filepath.Join(t.TempDir(), "out.wav")
	artifact, err := p.Write(buf, path, FormatWAV)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.Format != FormatWAV || artifact.SampleRate != 16000 {
		t.Fatalf("artifact = %+v", artifact)
	}
	if artifact.Duration != buf.Duration() {
		t.Fatalf("duration = %v, want %v", artifact.Duration, buf.Duration())
	}

	data, rate, chans := decodeWAV(t, path)
	if rate != 16000 || chans != 1 {
		t.Fatalf("decoded rate=%d chans=%d", rate, chans)
	}
	if len(data) != 1600 {
		t.Fatalf("decoded %d samples, want 1600", len(data))
	}
}

func TestWriteNormalizes(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{Normalize: true, NormalizePeak: 0.9})
	buf := sineBuffer(1600, 16000, 1, 0.25)

	path := filepath.Join(t.TempDir(), "norm.wav")
	if _, err := p.Write(buf, path, FormatWAV); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, _, _ := decodeWAV(t, path)
	var peak float64
	for _, s := range data {
		v := math.Abs(float64(s)) / math.MaxInt16
		if v > peak {
			peak = v
		}
	}
	if math.Abs(peak-0.9) > 0.01 {
		t.Fatalf("peak after normalization = %.3f, want ~0.9", peak)
	}
}

func TestWriteResamples(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{TargetRate: 8000})
	buf := sineBuffer(1600, 16000, 1, 0.5)

	path := filepath.Join(t.TempDir(), "resampled.wav")
	artifact, err := p.Write(buf, path, FormatWAV)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.SampleRate != 8000 {
		t.Fatalf("artifact rate = %d", artifact.SampleRate)
	}

	data, rate, _ := decodeWAV(t, path)
	if rate != 8000 {
		t.Fatalf("decoded rate = %d", rate)
	}
	if len(data) != 800 {
		t.Fatalf("decoded %d samples, want 800", len(data))
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	dir := t.TempDir()

	if _, err := p.Write(sineBuffer(160, 16000, 1, 0.5), filepath.Join(dir, "a.wav"), FormatWAV); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.wav" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestWriteRejectsEmptyBuffer(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	if _, err := p.Write(&Buffer{SampleRate: 16000, Channels: 1}, filepath.Join(t.TempDir(), "x.wav"), FormatWAV); err == nil {
		t.Fatal("expected error for empty buffer")
	}
	if _, err := p.Write(nil, filepath.Join(t.TempDir(), "x.wav"), FormatWAV); err == nil {
		t.Fatal("expected error for nil buffer")
	}
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	_, err := p.Write(sineBuffer(160, 16000, 1, 0.5), filepath.Join(t.TempDir(), "x.aiff"), Format("aiff"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestCompressedRequiresEncoderCommand(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	_, err := p.Write(sineBuffer(160, 16000, 1, 0.5), filepath.Join(t.TempDir(), "x.mp3"), FormatMP3)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestCompressedRunsEncoderCommand(t *testing.T) {
	// cp stands in for a real encoder; the output is WAV content with
	// an mp3 extension, which is all this test needs.
	p := NewPostProcessor(ProcessorOptions{EncoderCommand: "cp {in} {out}", Bitrate: "192k"})
	path := filepath.Join(t.TempDir(), "out.mp3")

	artifact, err := p.Write(sineBuffer(1600, 16000, 1, 0.5), path, FormatMP3)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.Format != FormatMP3 {
		t.Fatalf("artifact format = %s", artifact.Format)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestCompressedEncoderFailure(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{EncoderCommand: "false {in} {out}"})
	_, err := p.Write(sineBuffer(160, 16000, 1, 0.5), filepath.Join(t.TempDir(), "x.ogg"), FormatOGG)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"wav", FormatWAV, false},
		{"MP3", FormatMP3, false},
		{" flac ", FormatFLAC, false},
		{"ogg", FormatOGG, false},
		{"aiff", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("ParseFormat(%q) err = %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseFormat(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestReadWAVRoundTrip(t *testing.T) {
	p := NewPostProcessor(ProcessorOptions{})
	src := sineBuffer(1600, 16000, 2, 0.5)

	path := filepath.Join(t.TempDir(), "in.wav")
	if _, err := p.Write(src, path, FormatWAV); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SampleRate != 16000 || got.Channels != 2 {
		t.Fatalf("decoded rate=%d chans=%d", got.SampleRate, got.Channels)
	}
	if len(got.Samples) != len(src.Samples) {
		t.Fatalf("decoded %d samples, want %d", len(got.Samples), len(src.Samples))
	}
	for i := range got.Samples {
		if math.Abs(got.Samples[i]-src.Samples[i]) > 1.0/math.MaxInt16*2 {
			t.Fatalf("sample %d = %f, want %f", i, got.Samples[i], src.Samples[i])
		}
	}
}

func TestReadWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ReadWAV(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := ReadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResampleUpAndDown(t *testing.T) {
	buf := sineBuffer(1000, 16000, 2, 0.5)

	down := resample(buf, 8000)
	if down.SampleRate != 8000 || len(down.Samples) != 500*2 {
		t.Fatalf("downsample: rate=%d samples=%d", down.SampleRate, len(down.Samples))
	}
	up := resample(buf, 24000)
	if up.SampleRate != 24000 || len(up.Samples) != 1500*2 {
		t.Fatalf("upsample: rate=%d samples=%d", up.SampleRate, len(up.Samples))
	}
	same := resample(buf, 16000)
	if same != buf {
		t.Fatal("identity resample should return the input")
	}
}

func TestNormalizeSilence(t *testing.T) {
	buf := &Buffer{Samples: make([]float64, 100), SampleRate: 16000, Channels: 1}
	out := normalize(buf, 0.95)
	if out.Peak() != 0 {
		t.Fatalf("silence peak = %f", out.Peak())
	}
}
