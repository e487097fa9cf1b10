package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hrilab/voiceagent-core/core/tools"
)

// toolRunnerConcurrency bounds how many tool calls execute at once.
const toolRunnerConcurrency = 4

// toolResultSender delivers one tool result back into the conversation and
// asks for the follow-up response.
type toolResultSender interface {
	SendToolResult(callID, result string) bool
	RequestResponse() bool
}

// toolRunner executes requested tool calls on a bounded worker pool. Every
// call produces exactly one result delivery attempt: handler errors, panics
// and empty results all surface as error results rather than dropped calls.
type toolRunner struct {
	registry *tools.Registry
	sender   toolResultSender
	sem      chan struct{}

	onStarted   func(call tools.Call)
	onCompleted func(call tools.Call, result string, failed bool)
}

func newToolRunner(registry *tools.Registry, sender toolResultSender) *toolRunner {
	return &toolRunner{
		registry: registry,
		sender:   sender,
		sem:      make(chan struct{}, toolRunnerConcurrency),
	}
}

// Submit schedules a tool call. It never blocks the event dispatch path.
func (r *toolRunner) Submit(ctx context.Context, call tools.Call) {
	go func() {
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		r.run(ctx, call)
	}()
}

func (r *toolRunner) run(ctx context.Context, call tools.Call) {
	ctx, span := tracer.Start(ctx, "execute tool call")
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	defer span.End()

	if r.onStarted != nil {
		r.onStarted(call)
	}

	result, err := r.execute(ctx, call)
	failed := err != nil
	if failed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result = errorResult(err)
	}

	if r.onCompleted != nil {
		r.onCompleted(call, result, failed)
	}

	if !r.sender.SendToolResult(call.ID, result) {
		logger.Error("failed to deliver tool result, session gone",
			"tool", call.Name, "call_id", call.ID)
		return
	}
	if !r.sender.RequestResponse() {
		logger.Error("failed to request follow-up response after tool call",
			"tool", call.Name, "call_id", call.ID)
	}
}

// execute runs the handler with panic containment. An empty result is an
// error: the conversation must always receive something for the call.
func (r *toolRunner) execute(ctx context.Context, call tools.Call) (result string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("tool %q panicked: %v", call.Name, recovered)
		}
	}()

	tool, ok := r.registry.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %q", call.Name)
	}

	result, err = tool.Handle(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		return "", fmt.Errorf("tool %q failed: %w", call.Name, err)
	}
	if result == "" {
		return "", fmt.Errorf("tool %q returned no result", call.Name)
	}
	return result, nil
}

func errorResult(err error) string {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(payload)
}
