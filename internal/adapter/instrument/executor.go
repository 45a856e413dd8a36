// Package instrument runs instrumentation tests on a device through adb.
package instrument

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/workspace"

	"github.com/sirupsen/logrus"
)

// RawOutputFile holds the unparsed instrumentation stream of one device.
const RawOutputFile = "instrumentation.txt"

// CommandFunc runs an external command and returns its combined output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Executor installs the APKs and runs `am instrument` on one device.
type Executor struct {
	Log *logrus.Entry
	// ADB is the adb binary. Empty means "adb" from PATH.
	ADB string
	// Command runs adb. Nil uses os/exec.
	Command CommandFunc
}

// ADBPath locates adb inside an Android SDK.
func ADBPath(sdk string) string {
	if sdk == "" {
		return "adb"
	}
	return filepath.Join(sdk, "platform-tools", "adb")
}

func New(log *logrus.Entry, adb string) *Executor {
	return &Executor{Log: log, ADB: adb}
}

func (e *Executor) Execute(ctx context.Context, cfg domain.RunConfig, d domain.Device) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{Device: d}
	if cfg.TestPackage == "" {
		return res, fmt.Errorf("no test package configured")
	}

	l := e.Log.WithField("device", d.Serial)
	for _, apk := range []string{cfg.ApkPath, cfg.TestApkPath} {
		if apk == "" {
			continue
		}
		l.WithField("apk", apk).Info("Installing apk")
		out, err := e.adb(ctx, d, "install", "-r", "-t", apk)
		if err != nil {
			return res, fmt.Errorf("install %s: %w: %s", filepath.Base(apk), err, tail(out))
		}
		if !bytes.Contains(out, []byte("Success")) {
			return res, fmt.Errorf("install %s: %s", filepath.Base(apk), tail(out))
		}
	}

	args := instrumentArgs(cfg)
	l.WithField("args", args).Info("Starting instrumentation")
	out, runErr := e.adb(ctx, d, args...)

	raw := filepath.Join(workspace.DeviceDir(cfg.Output, d), RawOutputFile)
	if err := os.WriteFile(raw, out, 0o644); err != nil {
		l.WithError(err).Warn("Could not save raw instrumentation output")
	} else {
		res.Artifacts = append(res.Artifacts, raw)
	}

	if runErr != nil {
		res.Logs = append(res.Logs, tail(out))
		return res, fmt.Errorf("am instrument: %w", runErr)
	}

	rep, err := Parse(bytes.NewReader(out))
	if err != nil {
		return res, fmt.Errorf("parse instrumentation output: %w", err)
	}
	res.Tests = rep.Tests

	l.WithFields(logrus.Fields{
		"tests":     len(rep.Tests),
		"failures":  rep.Failures(),
		"completed": rep.Completed,
	}).Info("Instrumentation finished")

	switch {
	case !rep.Completed:
		msg := rep.Message
		if msg == "" {
			msg = "instrumentation did not complete"
		}
		res.Status = domain.StatusFailed
		res.Failure = &domain.Failure{Kind: domain.FailureExecution, Message: msg}
	case rep.Failures() > 0:
		res.Status = domain.StatusFailed
		res.Failure = &domain.Failure{
			Kind:    domain.FailureExecution,
			Message: fmt.Sprintf("%d of %d tests failed", rep.Failures(), len(rep.Tests)),
		}
	default:
		res.Status = domain.StatusPassed
	}
	return res, nil
}

// instrumentArgs builds `shell am instrument -r -w [-e k v]... pkg/runner`.
func instrumentArgs(cfg domain.RunConfig) []string {
	args := []string{"shell", "am", "instrument", "-r", "-w"}

	keys := make([]string, 0, len(cfg.InstrumentationArgs))
	for k := range cfg.InstrumentationArgs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "-e", k, cfg.InstrumentationArgs[k])
	}

	if cfg.ClassName != "" {
		target := cfg.ClassName
		if cfg.MethodName != "" {
			target += "#" + cfg.MethodName
		}
		args = append(args, "-e", "class", target)
	}
	return append(args, cfg.TestPackage+"/"+cfg.EffectiveRunner())
}

func (e *Executor) adb(ctx context.Context, d domain.Device, args ...string) ([]byte, error) {
	bin := e.ADB
	if bin == "" {
		bin = "adb"
	}
	run := e.Command
	if run == nil {
		run = execCommand
	}
	return run(ctx, bin, append([]string{"-s", d.Serial}, args...)...)
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 512 {
		s = "..." + s[len(s)-512:]
	}
	return s
}
