// Package judge implements the triangulated verdict protocol EventLoopNode
// consults after each iteration: a deterministic rule stage, an LLM stage,
// and an implicit continue fast-path (spec.md §4.8). Grounded in the
// teacher's general "delegate to a pluggable strategy, map its outcome to
// a small closed result type" shape (pkg/agent.ScoringAgent delegating to
// a Controller), adapted to a three-stage chain instead of one delegate.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pajohmail/aden-hive/pkg/llm"
)

// Action is a judge verdict's action.
type Action string

const (
	Accept   Action = "ACCEPT"
	Retry    Action = "RETRY"
	Escalate Action = "ESCALATE"
	Continue Action = "CONTINUE"
)

// JudgeType identifies which stage produced a Verdict.
type JudgeType string

const (
	JudgeRule     JudgeType = "rule"
	JudgeLLM      JudgeType = "llm"
	JudgeImplicit JudgeType = "implicit"
)

// Request carries everything a judge stage needs to evaluate one
// EventLoopNode iteration.
type Request struct {
	Iteration             int
	SuccessCriteria       string
	Principles            []string
	Messages              []llm.ConversationMessage // full conversation, for the LLM stage's prompt
	NonSyntheticToolCalls bool                       // iteration's LLM turn called a non-synthetic tool
	Extra                 map[string]any             // escape hatch for custom rule Conditions
}

// EvaluationRule is one deterministic rule in the rule stage, evaluated in
// descending Priority order; the first matching Condition wins.
type EvaluationRule struct {
	ID        string
	Priority  int
	Condition func(Request) bool
	Action    Action
}

// Verdict is the outcome of one Evaluate call.
type Verdict struct {
	Action     Action
	Feedback   string
	JudgeType  JudgeType
	Confidence float64 // set only when JudgeType == JudgeLLM
}

// Protocol implements the three-stage triangulated verdict.
type Protocol struct {
	rules     []EvaluationRule
	llmClient llm.Client
	threshold float64
	model     string
}

// DefaultConfidenceThreshold is used when NewProtocol is given threshold <= 0.
const DefaultConfidenceThreshold = 0.7

// NewProtocol builds a Protocol. llmClient may be nil, in which case the
// LLM stage always falls through to ESCALATE when no rule matches.
func NewProtocol(rules []EvaluationRule, llmClient llm.Client, threshold float64, model string) *Protocol {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	sorted := make([]EvaluationRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &Protocol{rules: sorted, llmClient: llmClient, threshold: threshold, model: model}
}

// Evaluate runs the triangulated verdict for one iteration (spec.md §4.8).
func (p *Protocol) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	// Stage 3 first: an LLM that is actively making tool-call progress
	// bypasses rule/LLM cost entirely.
	if req.NonSyntheticToolCalls {
		return Verdict{Action: Continue, JudgeType: JudgeImplicit}, nil
	}

	// Stage 1: rules, highest priority first.
	for _, r := range p.rules {
		if r.Condition(req) {
			return Verdict{
				Action:    r.Action,
				Feedback:  fmt.Sprintf("rule %q matched", r.ID),
				JudgeType: JudgeRule,
			}, nil
		}
	}

	// Stage 2: LLM judge.
	if p.llmClient == nil {
		return Verdict{Action: Escalate, Feedback: "no rule matched and no llm judge configured", JudgeType: JudgeLLM}, nil
	}
	return p.evaluateWithLLM(ctx, req)
}

type llmVerdictPayload struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Feedback   string  `json:"feedback"`
}

func (p *Protocol) evaluateWithLLM(ctx context.Context, req Request) (Verdict, error) {
	messages := append([]llm.ConversationMessage{{Role: llm.RoleSystem, Content: p.judgePrompt(req)}}, req.Messages...)

	ch, err := p.llmClient.Generate(ctx, &llm.GenerateInput{Messages: messages, Model: p.model})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge llm stage: %w", err)
	}

	var text strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			return Verdict{}, fmt.Errorf("judge llm stage: %s", c.Message)
		}
	}

	var payload llmVerdictPayload
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &payload); err != nil {
		return Verdict{Action: Escalate, Feedback: "judge llm response was not parseable JSON", JudgeType: JudgeLLM}, nil
	}

	action := Action(strings.ToUpper(payload.Action))
	if payload.Confidence < p.threshold {
		return Verdict{Action: Escalate, Feedback: "low confidence", JudgeType: JudgeLLM, Confidence: payload.Confidence}, nil
	}
	switch action {
	case Accept, Retry, Escalate:
		return Verdict{Action: action, Feedback: payload.Feedback, JudgeType: JudgeLLM, Confidence: payload.Confidence}, nil
	default:
		return Verdict{Action: Escalate, Feedback: "judge llm returned an unrecognized action: " + payload.Action, JudgeType: JudgeLLM, Confidence: payload.Confidence}, nil
	}
}

func (p *Protocol) judgePrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a judge evaluating whether an agent's work satisfies its success criteria.\n")
	b.WriteString("Success criteria: " + req.SuccessCriteria + "\n")
	if len(req.Principles) > 0 {
		b.WriteString("Principles:\n")
		for _, pr := range req.Principles {
			b.WriteString("- " + pr + "\n")
		}
	}
	b.WriteString(`Respond with a single JSON object: {"action": "ACCEPT"|"RETRY"|"ESCALATE", "confidence": 0.0-1.0, "feedback": "..."}`)
	return b.String()
}

// extractJSON returns the first top-level {...} object in s, tolerating
// a model that wraps its JSON in prose or a markdown code fence.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
