// Package grpcagent delegates a device execution to a remote device agent.
package grpcagent

import (
	"context"
	"fmt"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/workspace"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExecuteMethod is the unary RPC served by device agents.
const ExecuteMethod = "/armada.agent.v1.DeviceAgent/Execute"

// Client implements domain.Executor over gRPC. Requests and responses are
// google.protobuf.Struct messages so agents need no generated stubs.
type Client struct {
	Log    *logrus.Entry
	Server string
	// DialOptions replace the default insecure transport.
	DialOptions []grpc.DialOption
}

func New(log *logrus.Entry, server string) *Client {
	return &Client{Log: log, Server: server}
}

func (c *Client) Execute(ctx context.Context, cfg domain.RunConfig, d domain.Device) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{Device: d}

	opts := c.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(c.Server, opts...)
	if err != nil {
		return res, fmt.Errorf("connect agent %s: %w", c.Server, err)
	}
	defer conn.Close()

	req, err := buildRequest(cfg, d)
	if err != nil {
		return res, fmt.Errorf("build agent request: %w", err)
	}

	c.Log.WithFields(logrus.Fields{
		"device": d.Serial,
		"agent":  c.Server,
	}).Info("Dispatching execution to agent")

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, ExecuteMethod, req, resp); err != nil {
		return res, fmt.Errorf("agent execute: %w", err)
	}
	return parseResponse(d, resp), nil
}

func buildRequest(cfg domain.RunConfig, d domain.Device) (*structpb.Struct, error) {
	args := map[string]any{}
	for k, v := range cfg.InstrumentationArgs {
		args[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"serial":       d.Serial,
		"test_package": cfg.TestPackage,
		"test_runner":  cfg.EffectiveRunner(),
		"apk":          cfg.ApkPath,
		"test_apk":     cfg.TestApkPath,
		"class":        cfg.ClassName,
		"method":       cfg.MethodName,
		"args":         args,
		"output":       workspace.DeviceDir(cfg.Output, d),
		"timeout_s":    cfg.DeviceTimeout.Seconds(),
	})
}

func parseResponse(d domain.Device, resp *structpb.Struct) domain.ExecutionResult {
	m := resp.AsMap()
	res := domain.ExecutionResult{
		Device:    d,
		Status:    domain.Status(str(m["status"])),
		Artifacts: strs(m["artifacts"]),
		Logs:      strs(m["logs"]),
	}
	if items, ok := m["tests"].([]any); ok {
		for _, it := range items {
			tm, ok := it.(map[string]any)
			if !ok {
				continue
			}
			res.Tests = append(res.Tests, domain.TestCase{
				Class:  str(tm["class"]),
				Method: str(tm["method"]),
				Status: domain.TestStatus(str(tm["status"])),
				Trace:  str(tm["trace"]),
			})
		}
	}
	if msg := str(m["error"]); msg != "" {
		res.Failure = &domain.Failure{Kind: domain.FailureExecution, Message: msg}
		if res.Status == "" || res.Status == domain.StatusPassed {
			res.Status = domain.StatusFailed
		}
	}
	return res
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
