package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skyops-ai/irops/core"
)

// ScriptedCall records one Complete invocation against a ScriptedGateway.
type ScriptedCall struct {
	Prompt string
	Schema string
	Tier   core.ModelTier
	At     time.Time
}

// ScriptedGateway is a deterministic Gateway for tests, demos and offline
// development. Responses are selected by substring match against the
// prompt, falling back to a default.
type ScriptedGateway struct {
	mu        sync.Mutex
	rules     []scriptRule
	fallback  json.RawMessage
	err       error
	delay     time.Duration
	calls     []ScriptedCall
}

type scriptRule struct {
	contains string
	response json.RawMessage
}

// NewScriptedGateway creates an empty scripted gateway. With no rules and
// no default it fails every call.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{}
}

// Respond registers a response for prompts containing the given substring.
// Rules are evaluated in registration order.
func (g *ScriptedGateway) Respond(contains string, response string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, scriptRule{contains: contains, response: json.RawMessage(response)})
	return g
}

// RespondDefault registers the fallback response.
func (g *ScriptedGateway) RespondDefault(response string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = json.RawMessage(response)
	return g
}

// FailWith makes every subsequent call return err.
func (g *ScriptedGateway) FailWith(err error) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
	return g
}

// Delay makes every call block for d (or until the context is done).
func (g *ScriptedGateway) Delay(d time.Duration) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
	return g
}

// Calls returns a copy of the recorded invocations.
func (g *ScriptedGateway) Calls() []ScriptedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ScriptedCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// Complete implements Gateway.
func (g *ScriptedGateway) Complete(ctx context.Context, prompt, schema string, tier core.ModelTier) (json.RawMessage, error) {
	g.mu.Lock()
	g.calls = append(g.calls, ScriptedCall{Prompt: prompt, Schema: schema, Tier: tier, At: time.Now()})
	delay := g.delay
	err := g.err
	g.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rule := range g.rules {
		if rule.contains != "" && strings.Contains(prompt, rule.contains) {
			return rule.response, nil
		}
	}
	if g.fallback != nil {
		return g.fallback, nil
	}
	return nil, fmt.Errorf("no scripted response matches prompt (len %d)", len(prompt))
}

// ModelID implements Gateway.
func (g *ScriptedGateway) ModelID(tier core.ModelTier) string {
	return "scripted-" + string(tier)
}

var _ Gateway = (*ScriptedGateway)(nil)
