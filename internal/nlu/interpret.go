// Package nlu turns free-text production commands ("darker, more reverb")
// into engine parameter values using a local LLM.
package nlu

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/satindergrewal/pulseforge/internal/engine"
)

// Decision is the interpreted form of a command. Params use engine
// parameter names with values in 0..1. LoopCategory is set when the command
// asks for a pre-made loop.
type Decision struct {
	Params       map[string]float64 `json:"params"`
	LoopCategory string             `json:"loopCategory,omitempty"`
}

// Generator produces raw model output for a prompt. *Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Interpreter maps commands to Decisions. A nil generator yields empty
// decisions.
type Interpreter struct {
	gen Generator
}

// NewInterpreter creates an interpreter backed by gen.
func NewInterpreter(gen Generator) *Interpreter {
	return &Interpreter{gen: gen}
}

const systemPrompt = `You are an expert EDM music producer assistant.
Translate the user's command into JSON parameters for a music production engine.
Available parameters:
- reverb (0 to 1)
- delay (0 to 1)
- cutoff (20 to 20000 Hz)
- drive (0 to 1)
- volume (0 to 1)
- pitch (0 to 1, 0.5 is unchanged)
- pump (0 to 1, sidechain pumping)
- loopCategory (one of: kick, drum, bass, synth, fx, hat; ONLY if the user asks for pro, high-quality or pre-made loops)

Return ONLY a JSON object with a "params" key holding these values.
Example: "I need a professional techno kick loop"
Output: {"params": {"loopCategory": "kick", "cutoff": 20000, "drive": 0.2}}
Example: "Make it a dark techno lead with lots of reverb"
Output: {"params": {"cutoff": 400, "reverb": 0.8}}`

// Interpret asks the model about cmd. Model or parse failures are logged and
// produce an empty decision, never an error, so a command always proceeds.
func (in *Interpreter) Interpret(ctx context.Context, cmd string) Decision {
	empty := Decision{Params: map[string]float64{}}
	if in == nil || in.gen == nil {
		return empty
	}
	raw, err := in.gen.Generate(ctx, systemPrompt, cmd)
	if err != nil {
		log.Printf("NLU: model request failed: %v", err)
		return empty
	}
	d, err := Parse(raw)
	if err != nil {
		log.Printf("NLU: unusable model output %q: %v", raw, err)
		return empty
	}
	return d
}

// Parse decodes model output of the form {"params": {...}}, tolerating
// markdown code fences around the JSON.
func Parse(raw string) (Decision, error) {
	var envelope struct {
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &envelope); err != nil {
		return Decision{}, err
	}
	d := Decision{Params: map[string]float64{}}
	for k, v := range envelope.Params {
		switch val := v.(type) {
		case string:
			if k == "loopCategory" {
				d.LoopCategory = strings.ToLower(strings.TrimSpace(val))
			}
		case float64:
			name, norm, ok := normalize(k, val)
			if ok {
				d.Params[name] = norm
			}
		}
	}
	return d, nil
}

// normalize maps model parameter names onto engine names and 0..1 values.
func normalize(key string, v float64) (string, float64, bool) {
	switch key {
	case "cutoff":
		return "filter", clamp01((v - 20) / 19980), true
	case "drive", "dist":
		return "dist", clamp01(v), true
	}
	if engine.KnownParameter(key) {
		return key, clamp01(v), true
	}
	return "", 0, false
}

func stripFences(s string) string {
	if _, after, ok := strings.Cut(s, "```json"); ok {
		s = after
	} else if _, after, ok := strings.Cut(s, "```"); ok {
		s = after
	} else {
		return strings.TrimSpace(s)
	}
	body, _, _ := strings.Cut(s, "```")
	return strings.TrimSpace(body)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
