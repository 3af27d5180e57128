// Package whisperpy bridges to a bundled Python helper running openai-whisper.
package whisperpy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "embed"

	"github.com/sjzar/voicelog/internal/speech"
)

//go:embed whisper.py
var embeddedScript []byte

// Config describes how to start the Python helper.
type Config struct {
	ScriptDir      string
	PythonPath     string
	Model          string
	DefaultOptions speech.Options
	Env            map[string]string
}

// Transcriber runs one Python process per file.
type Transcriber struct {
	cfg        Config
	scriptPath string
}

// New extracts the helper script into cfg.ScriptDir.
func New(cfg Config) (*Transcriber, error) {
	if cfg.ScriptDir == "" {
		return nil, errors.New("script directory is required")
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	if cfg.PythonPath == "" {
		cfg.PythonPath = os.Getenv("VOICELOG_WHISPER_PYTHON")
	}
	if cfg.PythonPath == "" {
		if runtime.GOOS == "windows" {
			cfg.PythonPath = "python.exe"
		} else {
			cfg.PythonPath = "python3"
		}
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}

	if err := os.MkdirAll(cfg.ScriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure script directory: %w", err)
	}
	scriptPath := filepath.Join(cfg.ScriptDir, "whisper.py")
	if err := ensureScript(scriptPath); err != nil {
		return nil, err
	}
	return &Transcriber{cfg: cfg, scriptPath: scriptPath}, nil
}

func (p *Transcriber) Name() string { return "whisper-python" }

// ScriptPath returns the path to the extracted helper script.
func (p *Transcriber) ScriptPath() string {
	return p.scriptPath
}

func (p *Transcriber) Close() {}

// TranscribeFile runs the helper on path and parses its JSON output.
func (p *Transcriber) TranscribeFile(ctx context.Context, path string, override speech.Options) (*speech.Result, error) {
	opts := p.cfg.DefaultOptions.Merge(override)

	args := []string{p.scriptPath, "--wav", path, "--model", p.cfg.Model, "--log-level", "WARNING"}
	if opts.LanguageSet && strings.TrimSpace(opts.Language) != "" && opts.Language != "auto" {
		args = append(args, "--language", strings.TrimSpace(opts.Language))
	}
	if opts.TranslateSet && opts.Translate {
		args = append(args, "--translate")
	}
	if opts.InitialPromptSet && opts.InitialPrompt != "" {
		args = append(args, "--prompt", opts.InitialPrompt)
	}

	cmd := exec.CommandContext(ctx, p.cfg.PythonPath, args...)
	env := append([]string{}, os.Environ()...)
	env = append(env, "PYTHONIOENCODING=utf-8")
	for key, value := range p.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("python whisper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseOutput(output)
}

func parseOutput(output []byte) (*speech.Result, error) {
	var resp pythonResult
	if err := json.Unmarshal(bytes.TrimSpace(output), &resp); err != nil {
		return nil, fmt.Errorf("decode python whisper response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	result := &speech.Result{Text: strings.TrimSpace(resp.Text), Language: resp.Language}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, speech.Segment{
			ID:    seg.ID,
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
			Text:  seg.Text,
		})
		if end := secondsToDuration(seg.End); end > result.Duration {
			result.Duration = end
		}
	}
	return result, nil
}

func ensureScript(path string) error {
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, embeddedScript) {
		return nil
	}
	if err := os.WriteFile(path, embeddedScript, 0o644); err != nil {
		return fmt.Errorf("write whisper helper: %w", err)
	}
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

type pythonResult struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Segments []pythonSegment `json:"segments"`
	Error    string          `json:"error"`
}

type pythonSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
