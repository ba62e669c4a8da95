package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/pulse/async"
)

// Exit codes a script uses to park its job instead of failing it
const (
	ExitHumanIntervention = 42
	ExitQuotaExhausted    = 43
)

// ShellEngine runs a job's prompt as a subprocess in the job's working
// directory. stdout and stderr go to <output>/<job id>.log; the outcome is
// the last non-empty stdout line.
type ShellEngine struct {
	interpreter []string
	outputRoot  string
	logger      *zap.SugaredLogger
}

// NewShellEngine parses interpreter (e.g. "bash -c") with shell quoting rules.
// An empty interpreter splits and executes the prompt itself.
func NewShellEngine(interpreter, outputRoot string, log *zap.SugaredLogger) (*ShellEngine, error) {
	argv, err := shellquote.Split(interpreter)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid shell interpreter %q", interpreter)
	}
	if log == nil {
		log = logger.Logger
	}
	return &ShellEngine{
		interpreter: argv,
		outputRoot:  outputRoot,
		logger:      log.Named("shell"),
	}, nil
}

// Name implements async.EngineRunner
func (e *ShellEngine) Name() async.EngineName {
	return async.EngineShell
}

// Run implements async.EngineRunner
func (e *ShellEngine) Run(ctx context.Context, job *async.Job) async.Outcome {
	argv, err := e.command(job.Prompt)
	if err != nil {
		return async.FailedOutcome("%s", err)
	}

	outDir := OutputDir(e.outputRoot, job)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return async.FailedOutcome("failed to create output directory: %s", err)
	}
	logPath := filepath.Join(outDir, job.ID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return async.FailedOutcome("failed to create job log: %s", err)
	}
	defer logFile.Close()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = job.WorkDir
	cmd.Env = append(os.Environ(),
		"JOB_ID="+job.ID,
		"OUTPUT_DIR="+outDir,
	)
	cmd.Stdout = io.MultiWriter(&stdout, logFile)
	cmd.Stderr = logFile
	// Orphaned grandchildren must not hold the pipes open after a kill
	cmd.WaitDelay = 2 * time.Second

	e.logger.Debugw("Starting script", logger.FieldJobID, job.ID, "argv0", argv[0], "dir", job.WorkDir)
	runErr := cmd.Run()

	outcome := e.interpret(ctx, runErr, stdout.String())
	if outcome.LogRef == "" {
		outcome.LogRef = logPath
	}
	return outcome
}

func (e *ShellEngine) command(script string) ([]string, error) {
	if len(e.interpreter) > 0 {
		if script == "" {
			return nil, errors.New("job has no script")
		}
		return append(append([]string(nil), e.interpreter...), script), nil
	}
	argv, err := shellquote.Split(script)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse script")
	}
	if len(argv) == 0 {
		return nil, errors.New("job has no script")
	}
	return argv, nil
}

func (e *ShellEngine) interpret(ctx context.Context, runErr error, stdout string) async.Outcome {
	if runErr == nil {
		return ParseOutcome(stdout)
	}
	if ctx.Err() != nil {
		return async.FailedOutcome("script interrupted: %s", ctx.Err())
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return async.FailedOutcome("failed to start script: %s", runErr)
	}

	parsed, parseErr := parseOutcomeLine(stdout)
	switch exitErr.ExitCode() {
	case ExitHumanIntervention:
		return async.Outcome{Status: async.OutcomeHumanIntervention, Result: parsed.Result,
			Error: printedOr(parsed, parseErr, "script requested human intervention")}
	case ExitQuotaExhausted:
		return async.Outcome{Status: async.OutcomeQuotaExhausted, Result: parsed.Result,
			Error: printedOr(parsed, parseErr, "script reported exhausted quota")}
	}

	// A script may still explain its own failure on the last line
	if parseErr == nil && parsed.Status == async.OutcomeFailed && parsed.Error != "" {
		return parsed
	}
	return async.FailedOutcome("script exited with status %d: %s", exitErr.ExitCode(), excerpt(stdout))
}

// printedOr prefers the error text the script printed
func printedOr(parsed async.Outcome, parseErr error, fallback string) string {
	if parseErr == nil && parsed.Error != "" {
		return parsed.Error
	}
	return fallback
}
