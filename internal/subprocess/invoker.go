// Copyright 2025 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package subprocess invokes the opaque, per-agent command line the agent
// runner resolves from configuration. The contract is deliberately thin —
// write a prompt to stdin, read text back from stdout — unlike the
// teacher's gRPC plugin loader, which negotiates a typed RPC handshake with
// its subprocess. Hive agents are prompt-in/text-out by design (see
// DESIGN.md's dropped-dependency note on go-plugin), so a stdin/stdout pipe
// logged through hclog is the whole adapter.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Command is the resolved, agent-specific command line to execute.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Output is the captured result of one invocation.
type Output struct {
	Text     string
	Duration time.Duration
}

// Chunk is one piece of streamed output.
type Chunk struct {
	Text string
	Err  error
}

// Invoker runs an agent's configured command with a prompt and returns its
// output. Implementations may run a real subprocess or, in tests, a
// deterministic stub.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command, prompt string) (Output, error)
	Stream(ctx context.Context, cmd Command, prompt string) (<-chan Chunk, error)
}

// ExecInvoker runs the agent's command as a real OS subprocess.
type ExecInvoker struct {
	logger hclog.Logger
}

// NewExecInvoker returns an ExecInvoker logging through the given hclog
// logger. A nil logger gets a default named "hive-agent" at hclog.Info.
func NewExecInvoker(logger hclog.Logger) *ExecInvoker {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "hive-agent", Level: hclog.Info})
	}
	return &ExecInvoker{logger: logger}
}

// Invoke runs cmd, feeding prompt on stdin and collecting stdout as Output.Text.
func (e *ExecInvoker) Invoke(ctx context.Context, cmd Command, prompt string) (Output, error) {
	started := time.Now()

	execCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = cmd.Env
	execCmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	e.logger.Debug("invoking agent", "path", cmd.Path, "args", cmd.Args)
	err := execCmd.Run()
	duration := time.Since(started)
	if err != nil {
		e.logger.Warn("agent invocation failed", "path", cmd.Path, "error", err, "stderr", stderr.String())
		return Output{Text: stdout.String(), Duration: duration}, fmt.Errorf("subprocess: %s: %w: %s", cmd.Path, err, stderr.String())
	}
	return Output{Text: stdout.String(), Duration: duration}, nil
}

// Stream runs cmd and streams stdout line-by-line as it's produced.
func (e *ExecInvoker) Stream(ctx context.Context, cmd Command, prompt string) (<-chan Chunk, error) {
	execCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = cmd.Env
	execCmd.Stdin = strings.NewReader(prompt)

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	execCmd.Stderr = &stderr

	if err := execCmd.Start(); err != nil {
		return nil, fmt.Errorf("subprocess: start: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 4096)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				out <- Chunk{Text: string(buf[:n])}
			}
			if readErr != nil {
				if readErr != io.EOF {
					out <- Chunk{Err: readErr}
				}
				break
			}
		}
		if waitErr := execCmd.Wait(); waitErr != nil {
			e.logger.Warn("streamed agent invocation failed", "path", cmd.Path, "error", waitErr, "stderr", stderr.String())
			out <- Chunk{Err: fmt.Errorf("subprocess: %s: %w: %s", cmd.Path, waitErr, stderr.String())}
		}
	}()
	return out, nil
}

// StubInvoker is a deterministic test double: it returns a preconfigured
// Output (or error) for each agent, ignoring the actual command.
type StubInvoker struct {
	Outputs map[string]Output
	Errs    map[string]error
}

// NewStubInvoker returns an empty StubInvoker ready to be configured.
func NewStubInvoker() *StubInvoker {
	return &StubInvoker{Outputs: map[string]Output{}, Errs: map[string]error{}}
}

// WithOutput registers the canned Output for agent (cmd.Path).
func (s *StubInvoker) WithOutput(agent, text string) *StubInvoker {
	s.Outputs[agent] = Output{Text: text}
	return s
}

// WithError registers a canned error for agent (cmd.Path).
func (s *StubInvoker) WithError(agent string, err error) *StubInvoker {
	s.Errs[agent] = err
	return s
}

func (s *StubInvoker) Invoke(_ context.Context, cmd Command, _ string) (Output, error) {
	if err, ok := s.Errs[cmd.Path]; ok {
		return Output{}, err
	}
	return s.Outputs[cmd.Path], nil
}

func (s *StubInvoker) Stream(ctx context.Context, cmd Command, prompt string) (<-chan Chunk, error) {
	out, err := s.Invoke(ctx, cmd, prompt)
	ch := make(chan Chunk, 1)
	if err != nil {
		ch <- Chunk{Err: err}
	} else {
		ch <- Chunk{Text: out.Text}
	}
	close(ch)
	return ch, nil
}
