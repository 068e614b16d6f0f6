package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/text"
)

// newGuardEnv creates the CEL environment rule guards are compiled
// against. Guards see request metadata only, never the utterance text.
func newGuardEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("locale", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("language", cel.StringType),
		cel.Variable("mixed", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return env, nil
}

// compileGuard compiles a rule's guard expression. Guards must produce a
// bool; anything else is a load error for that rule.
func compileGuard(env *cel.Env, ruleID, src string) (cel.Program, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: failed to compile guard: %w", ruleID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: guard must return bool, got %s", ruleID, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to create guard program: %w", ruleID, err)
	}
	return program, nil
}

// guardActivation builds the CEL activation for one request.
func guardActivation(meta domain.RequestMeta, det text.Detection) map[string]any {
	hour := 0
	if !meta.ReceivedAt.IsZero() {
		hour = meta.ReceivedAt.Hour()
	}
	return map[string]any{
		"channel":    meta.Channel,
		"locale":     meta.Locale,
		"session_id": meta.SessionID,
		"hour":       hour,
		"language":   det.Primary,
		"mixed":      det.Mixed,
	}
}
