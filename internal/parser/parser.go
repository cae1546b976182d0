// Package parser turns a raw model reply into the next step of the agent loop:
// a final answer, a batch of tool calls, or a recoverable parse error.
//
// Two reply shapes are accepted. Structured replies carry tool-call
// descriptors next to optional text. Transcript replies are plain text in the
// Thought/Action format:
//
//	Thought: I need the weather first.
//	Action: get_weather(city="Beijing")
//
// and finish with Action: Finish[answer]. Parsing is pure: the same input
// always yields the same Step.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"hitl/internal/llm/core"
	"hitl/internal/reasoner"
)

var (
	// ErrMissingAction indicates a transcript reply without an Action marker.
	ErrMissingAction = errors.New("missing Action field")
	// ErrInvalidAction indicates an Action payload matching neither Finish[...] nor a tool call.
	ErrInvalidAction = errors.New("invalid Action field")
)

// Kind classifies a parsed Step.
type Kind string

const (
	KindFinalAnswer Kind = "final_answer"
	KindToolRequest Kind = "tool_request"
	KindParseError  Kind = "parse_error"
)

// Step is the parsed form of one model reply.
type Step struct {
	Kind Kind
	// Thought is the reasoning text in transcript mode, or the free text
	// accompanying structured tool calls.
	Thought string
	// Answer is set for KindFinalAnswer.
	Answer string
	// Calls is set for KindToolRequest, in declaration order. Transcript
	// calls carry no ID; the engine assigns one.
	Calls []core.ToolCall
	// Span is the extracted Thought/Action text of a transcript reply.
	Span string
	// Err is ErrMissingAction or ErrInvalidAction for KindParseError.
	Err error
}

// Observation renders the feedback fed back to the model for a parse error.
// The text is the same for every parse error; Err keeps the detail for logs.
func (s Step) Observation() string {
	if s.Kind != KindParseError {
		return ""
	}
	return "error: " + ErrMissingAction.Error()
}

var (
	markerPattern = regexp.MustCompile(`\b(Thought|Action|Observation):`)
	finishPattern = regexp.MustCompile(`(?s)^Finish\[(.*)\]$`)
	callPattern   = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\((.*)\)$`)
	argPattern    = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
	argSeparators = regexp.MustCompile(`^[\s,]*$`)
)

// Parse dispatches on the reply shape.
func Parse(resp reasoner.Response) Step {
	if resp.Structured {
		return ParseStructured(resp.Text, resp.ToolCalls)
	}
	return ParseTranscript(resp.Text)
}

// ParseStructured treats at least one descriptor as a tool request and
// otherwise returns the text as the final answer.
func ParseStructured(text string, calls []core.ToolCall) Step {
	if len(calls) == 0 {
		return Step{Kind: KindFinalAnswer, Answer: text}
	}
	return Step{Kind: KindToolRequest, Thought: text, Calls: core.CloneToolCalls(calls)}
}

// ParseTranscript parses the first Thought/Action span of text and ignores
// anything after the next marker, such as turns the model invented itself.
func ParseTranscript(text string) Step {
	span, thought, payload, ok := extract(text)
	if !ok {
		return Step{Kind: KindParseError, Err: ErrMissingAction}
	}

	if m := finishPattern.FindStringSubmatch(payload); m != nil {
		return Step{Kind: KindFinalAnswer, Thought: thought, Answer: m[1], Span: span}
	}
	if m := callPattern.FindStringSubmatch(payload); m != nil {
		args, ok := parseArguments(m[2])
		if ok {
			return Step{
				Kind:    KindToolRequest,
				Thought: thought,
				Calls:   []core.ToolCall{{Name: m[1], Arguments: args}},
				Span:    span,
			}
		}
	}
	return Step{Kind: KindParseError, Thought: thought, Span: span, Err: fmt.Errorf("%w: %q", ErrInvalidAction, payload)}
}

// ExtractSpan returns the first Thought/Action span of text.
func ExtractSpan(text string) (string, bool) {
	span, _, _, ok := extract(text)
	return span, ok
}

// extract locates the first Action marker, the Thought marker immediately
// before it (if any), and the end of the Action payload: the next marker or
// the end of text.
func extract(text string) (span, thought, payload string, ok bool) {
	markers := markerPattern.FindAllStringSubmatchIndex(text, -1)

	action := -1
	for i, m := range markers {
		if text[m[2]:m[3]] == "Action" {
			action = i
			break
		}
	}
	if action < 0 {
		return "", "", "", false
	}

	start := markers[action][0]
	if action > 0 && text[markers[action-1][2]:markers[action-1][3]] == "Thought" {
		prev := markers[action-1]
		start = prev[0]
		thought = strings.TrimSpace(text[prev[1]:markers[action][0]])
	}

	end := len(text)
	if action+1 < len(markers) {
		end = markers[action+1][0]
	}

	payload = strings.TrimSpace(text[markers[action][1]:end])
	span = strings.TrimSpace(text[start:end])
	return span, thought, payload, true
}

// parseArguments reads key="value" pairs. Values are taken literally between
// the quotes. Anything other than pairs, commas and whitespace is rejected.
func parseArguments(body string) (map[string]string, bool) {
	args := map[string]string{}
	for _, m := range argPattern.FindAllStringSubmatch(body, -1) {
		args[m[1]] = m[2]
	}
	rest := argPattern.ReplaceAllString(body, "")
	if !argSeparators.MatchString(rest) {
		return nil, false
	}
	return args, true
}
