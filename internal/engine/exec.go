package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExecBackend drives an out-of-process synthesizer. Each call spawns the
// configured command, writes one JSON request on stdin and reads line-
// delimited JSON chunk responses from stdout until one is marked final.
type ExecBackend struct {
	cmd    []string
	format Format
	voices []Voice
}

type execRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
	Steps    int     `json:"steps"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Final      bool   `json:"final"`
}

// NewExecBackend parses the command line and discovers voices from the style
// directory (one JSON style file per voice).
func NewExecBackend(command, stylesDir string) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}

	voices, err := scanVoices(stylesDir)
	if err != nil {
		return nil, err
	}

	return &ExecBackend{
		cmd:    args,
		format: Format{SampleRate: DefaultSampleRate, Width: DefaultWidth, Channels: DefaultChannels},
		voices: voices,
	}, nil
}

func scanVoices(dir string) ([]Voice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read voice styles dir: %w", err)
	}
	var voices []Voice
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		voices = append(voices, Voice{
			ID:          id,
			Description: ReadableVoiceName(id),
			Languages:   SupportedLanguages,
		})
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })
	if len(voices) == 0 {
		return nil, fmt.Errorf("no voice styles found in %s", dir)
	}
	return voices, nil
}

// ReadableVoiceName expands style identifiers like "M1" and "F2" into
// human-readable names.
func ReadableVoiceName(id string) string {
	if len(id) >= 2 && (id[0] == 'M' || id[0] == 'F') && allDigits(id[1:]) {
		gender := "Male"
		if id[0] == 'F' {
			gender = "Female"
		}
		return gender + " " + id[1:]
	}
	return id
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func (e *ExecBackend) Voices() []Voice { return e.voices }

func (e *ExecBackend) Format() Format { return e.format }

// Synthesize runs one inference call. The caller is responsible for honoring
// the global concurrency budget.
func (e *ExecBackend) Synthesize(ctx context.Context, req UnitRequest) (*AudioResult, error) {
	payload, err := json.Marshal(execRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: NormalizeLanguage(req.Language),
		Speed:    req.Speed,
		Steps:    req.Steps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	if _, err := stdin.Write(payload); err != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("write engine request: %w", err)
	}
	stdin.Close()

	result := &AudioResult{
		SampleRate: e.format.SampleRate,
		Width:      e.format.Width,
		Channels:   e.format.Channels,
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode engine response: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode engine audio: %w", err)
		}
		result.PCM = append(result.PCM, pcm...)
		if resp.SampleRate > 0 {
			result.SampleRate = resp.SampleRate
		}
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("engine exited: %w", err)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read engine output: %w", err)
	}

	return result, nil
}

// StylesDir resolves the voice style directory under a data dir, accepting
// both flat and assets/ layouts.
func StylesDir(dataDir string) string {
	direct := filepath.Join(dataDir, "voice_styles")
	if _, err := os.Stat(direct); err == nil {
		return direct
	}
	nested := filepath.Join(dataDir, "assets", "voice_styles")
	if _, err := os.Stat(nested); err == nil {
		return nested
	}
	return direct
}
