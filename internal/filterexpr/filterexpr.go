// Package filterexpr compiles CEL expressions used as advanced payload
// filters on the event collection. The expression sees the parsed payload
// as `payload` and the channel as `channel`, e.g.
// `payload.Status__c == "Shipped" && channel.startsWith("/event/")`.
package filterexpr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"streamwatch/internal/streaming"
)

// ErrInvalidExpression is returned when an expression does not compile.
var ErrInvalidExpression = errors.New("invalid filter expression")

// Program is a compiled filter expression.
type Program struct {
	prg cel.Program
}

// Compile compiles an expression into a Program.
func Compile(expr string) (*Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("channel", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment error: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return &Program{prg: prg}, nil
}

// Match evaluates the program against one event. Evaluation errors and
// non-boolean results count as no match. Non-object payloads expose an
// empty payload map.
func (p *Program) Match(e streaming.Event) bool {
	payload := map[string]any{}
	_ = json.Unmarshal([]byte(e.Payload), &payload)

	out, _, err := p.prg.Eval(map[string]any{
		"payload": payload,
		"channel": e.Channel,
	})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}

// Apply returns the events matching the program, in input order.
func (p *Program) Apply(events []streaming.Event) []streaming.Event {
	out := make([]streaming.Event, 0, len(events))
	for _, e := range events {
		if p.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
