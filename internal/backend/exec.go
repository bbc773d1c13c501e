package backend

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/voxlabs/vox-core/internal/audio"
)

// execBackend shells out to a model runner process. The process reads
// one JSON request on stdin and writes newline-delimited JSON chunks of
// base64 PCM on stdout. Inference concurrency is bounded by the worker
// pool, not here.
type execBackend struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Emotion    string `json:"emotion,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExec(command string, sampleRate, channels int) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, newError(FailConfiguration, "parse model command: %v", err)
	}
	if len(args) == 0 {
		return nil, newError(FailConfiguration, "model command empty")
	}
	return &execBackend{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execBackend) Synthesize(ctx context.Context, text string, opts Options) (*audio.Buffer, error) {
	payload, err := json.Marshal(execRequest{
		Text:       text,
		Emotion:    opts.Emotion,
		Language:   opts.Language,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, newError(FailSynthesis, "encode request: %v", err)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newError(FailSynthesis, "stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newError(FailSynthesis, "stdout pipe: %v", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, newError(FailSynthesis, "start model runner: %v", err)
	}

	if _, err := stdin.Write(payload); err != nil {
		cmd.Wait()
		return nil, wrapExecErr(ctx, err, stderr.String())
	}
	stdin.Close()

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return nil, newError(FailSynthesis, "decode model output: %v", err)
		}
		if resp.Error != "" {
			cmd.Wait()
			return nil, classifyRunnerError(resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return nil, newError(FailSynthesis, "decode pcm chunk: %v", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, wrapExecErr(ctx, err, stderr.String())
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, newError(FailSynthesis, "read model output: %v", scanErr)
	}
	if len(pcm) == 0 {
		return nil, newError(FailSynthesis, "model produced no audio")
	}
	return pcmToBuffer(pcm, e.sampleRate, e.channels)
}

func wrapExecErr(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: FailTimeout, Err: fmt.Errorf("model runner deadline exceeded: %w", ctx.Err())}
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom") {
		return newError(FailResourceExhausted, "model runner out of memory: %v", err)
	}
	if stderr != "" {
		return newError(FailSynthesis, "model runner failed: %v: %s", err, strings.TrimSpace(stderr))
	}
	return newError(FailSynthesis, "model runner failed: %v", err)
}

func classifyRunnerError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "out of memory"), strings.Contains(lower, "oom"):
		return newError(FailResourceExhausted, "%s", msg)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return newError(FailTimeout, "%s", msg)
	default:
		return newError(FailSynthesis, "%s", msg)
	}
}

func pcmToBuffer(pcm []byte, sampleRate, channels int) (*audio.Buffer, error) {
	if len(pcm)%2 != 0 {
		return nil, newError(FailSynthesis, "pcm payload not aligned")
	}
	buf := &audio.Buffer{
		Samples:    make([]float64, len(pcm)/2),
		SampleRate: sampleRate,
		Channels:   channels,
	}
	for i := range buf.Samples {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		buf.Samples[i] = float64(sample) / 32768.0
	}
	return buf, nil
}
