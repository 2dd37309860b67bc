package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/models"
)

func TestRender_SubstitutesPlaceholders(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.Render("Q: {question} C: {context}", map[string]string{
		"question": "what is Go?",
		"context":  "Go is a language.",
	})

	assert.Equal(t, "Q: what is Go? C: Go is a language.", out)
}

func TestRender_MissingValueRendersEmpty(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.Render("before {missing} after", map[string]string{})

	assert.Equal(t, "before  after", out)
	assert.NotContains(t, out, "{missing}")
}

func TestRender_ValueContainingBracesIsNotReexpanded(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.Render("{question}", map[string]string{
		"question": "what does {context} mean in templates?",
	})

	assert.Equal(t, "what does {context} mean in templates?", out)
}

func TestFormatContext_JoinsWithBlankLines(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.FormatContext([]models.ScoredChunk{
		{Text: "first chunk", Score: 0.9},
		{Text: "second chunk", Score: 0.8},
	})

	assert.Equal(t, "first chunk\n\nsecond chunk", out)
}

func TestFormatContext_Empty(t *testing.T) {
	a := NewAssembler(common.GetLogger())
	assert.Equal(t, "", a.FormatContext(nil))
}

func TestFormatHistory_OneLinePerMessage(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.FormatHistory([]models.ChatMessage{
		{Sender: models.SenderUser, Text: "hello"},
		{Sender: models.SenderAssistant, Text: "hi there"},
	})

	assert.Equal(t, "user: hello\nassistant: hi there", out)
}

func TestBuildTutorPrompt(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	history := a.FormatHistory([]models.ChatMessage{
		{Sender: models.SenderUser, Text: "hello"},
		{Sender: models.SenderAssistant, Text: "hi there"},
	})
	out := a.BuildTutorPrompt("lecture notes on recursion", history, "what is recursion?")

	assert.Contains(t, out, "lecture notes on recursion")
	assert.Contains(t, out, "user: hello\nassistant: hi there")
	assert.Contains(t, out, "Question: what is recursion?")
	assert.Contains(t, out, "Teaching Assistant chatbot")
	assert.NotContains(t, out, "{context}")
	assert.NotContains(t, out, "{history}")
	assert.NotContains(t, out, "{question}")
}

func TestBuildTutorPrompt_EmptyContextAndHistory(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.BuildTutorPrompt("", "", "what is recursion?")

	assert.Contains(t, out, "Question: what is recursion?")
	assert.NotContains(t, out, "{context}")
	assert.NotContains(t, out, "{history}")
}

func TestBuildEvaluationPrompt(t *testing.T) {
	a := NewAssembler(common.GetLogger())

	out := a.BuildEvaluationPrompt("teaching guide", "students want more examples", "", "how can the class improve?")

	assert.Contains(t, out, "teaching guide")
	assert.Contains(t, out, "students want more examples")
	assert.Contains(t, out, "Question: how can the class improve?")
	assert.NotContains(t, out, "{context1}")
	assert.NotContains(t, out, "{context2}")

	// The evaluation source sits below the reference material
	refIdx := strings.Index(out, "teaching guide")
	evalIdx := strings.Index(out, "students want more examples")
	assert.Less(t, refIdx, evalIdx)
}
