package service

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/vkadlec/judikat/internal/logger"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands on the host. Production code path.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		"cmd":                  name,
		"args":                 strings.Join(args, " "),
		logger.FieldDurationMs: dur.Milliseconds(),
	})
	if err != nil {
		log.WithError(err).WithField("stderr", truncate(errb.String(), 8<<10)).Error("exec failed")
	} else {
		log.Debug("exec ok")
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
