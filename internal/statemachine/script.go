package statemachine

import (
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// Script tokens understood by RunScript.
const (
	TokenForeground  = "fg"
	TokenBackground  = "bg"
	TokenRecording   = "rec"
	TokenNoRecording = "norec"
	TokenScreenshot  = "shot"
	TokenAcknowledge = "ack"
)

// Step is one applied script token and the decision it produced.
type Step struct {
	Token    string          `json:"token"`
	Decision domain.Decision `json:"decision"`
}

// ParseScript splits a script on whitespace and commas and checks every token.
func ParseScript(script string) ([]string, error) {
	fields := strings.FieldsFunc(script, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(f)
		if _, ok := tokenSignal(tok); !ok && tok != TokenAcknowledge {
			return nil, fmt.Errorf("unknown script token %q", f)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// RunScript feeds tokens into m and returns one Step per token.
func RunScript(m *CaptureStateMachine, tokens []string) ([]Step, error) {
	steps := make([]Step, 0, len(tokens))
	for _, tok := range tokens {
		var d domain.Decision
		if tok == TokenAcknowledge {
			d = m.AcknowledgeScreenshotPulse()
		} else {
			signal, ok := tokenSignal(tok)
			if !ok {
				return steps, fmt.Errorf("unknown script token %q", tok)
			}
			d = m.Transition(signal)
		}
		steps = append(steps, Step{Token: tok, Decision: d})
	}
	return steps, nil
}

func tokenSignal(tok string) (domain.Signal, bool) {
	switch tok {
	case TokenForeground:
		return domain.ForegroundChanged(true), true
	case TokenBackground:
		return domain.ForegroundChanged(false), true
	case TokenRecording:
		return domain.RecordingChanged(true), true
	case TokenNoRecording:
		return domain.RecordingChanged(false), true
	case TokenScreenshot:
		return domain.ScreenshotTaken(), true
	}
	return domain.Signal{}, false
}
