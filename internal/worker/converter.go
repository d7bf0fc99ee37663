package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxOutput = 4096

// ProcessConverter runs an external converter binary once per job. The request
// is written to stdin as a single base64 encoded JSON line; exit status 0
// means the output file was produced.
type ProcessConverter struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

func NewProcessConverter(path string, timeout time.Duration, args ...string) *ProcessConverter {
	return &ProcessConverter{Path: path, Args: args, Timeout: timeout}
}

func (c *ProcessConverter) Convert(ctx context.Context, req ConvertRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	line := base64.StdEncoding.EncodeToString(payload) + "\n"

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...) // #nosec G204 -- converter path comes from operator config
	cmd.Stdin = strings.NewReader(line)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", c.Timeout)
		}
		return &UpstreamError{Op: "convert", Output: collect(stdout.String(), stderr.String()), Err: err}
	}
	return nil
}

func collect(stdout, stderr string) string {
	var parts []string
	if s := strings.TrimSpace(stdout); s != "" {
		parts = append(parts, "stdout: "+s)
	}
	if s := strings.TrimSpace(stderr); s != "" {
		parts = append(parts, "stderr: "+s)
	}
	return cleanText(strings.Join(parts, "; "), maxOutput)
}
