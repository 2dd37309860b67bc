package prompt

import (
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/models"
)

// placeholderPattern matches {name} substitution slots in templates.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Assembler renders prompt templates with retrieved context, conversation
// history and the question. Assembly is pure string work: no I/O, no
// trimming of the model-bound payload beyond what the template dictates.
type Assembler struct {
	logger arbor.ILogger
}

// NewAssembler creates a prompt assembler.
func NewAssembler(logger arbor.ILogger) *Assembler {
	return &Assembler{logger: logger}
}

// Render substitutes {name} placeholders with the given values. A
// placeholder with no matching value renders as empty rather than leaking
// the placeholder into the model-bound prompt.
func (a *Assembler) Render(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := vars[name]
		if !ok {
			a.logger.Debug().Str("placeholder", name).Msg("Template placeholder has no value, rendering empty")
			return ""
		}
		return value
	})
}

// FormatContext joins retrieved chunk texts with blank lines, preserving
// their ranked order.
func (a *Assembler) FormatContext(entries []models.ScoredChunk) string {
	if len(entries) == 0 {
		return ""
	}
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}
	return strings.Join(texts, "\n\n")
}

// FormatHistory renders the conversation transcript as one "sender: text"
// line per message, in log order.
func (a *Assembler) FormatHistory(messages []models.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = msg.Sender + ": " + msg.Text
	}
	return strings.Join(lines, "\n")
}

// BuildTutorPrompt renders the teaching-assistant template.
func (a *Assembler) BuildTutorPrompt(context, history, question string) string {
	return a.Render(TutorTemplate, map[string]string{
		"context":  context,
		"history":  history,
		"question": question,
	})
}

// BuildEvaluationPrompt renders the two-source course evaluation template.
func (a *Assembler) BuildEvaluationPrompt(reference, evaluation, history, question string) string {
	return a.Render(EvaluationTemplate, map[string]string{
		"context1": reference,
		"context2": evaluation,
		"history":  history,
		"question": question,
	})
}
