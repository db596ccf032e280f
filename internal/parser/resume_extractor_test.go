package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"resume-ranker/internal/types"
	"resume-ranker/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExtraction = "```json\n" + `{
  "name": "Jane Doe",
  "email": "jane@example.com",
  "phone": "+1 555 0100",
  "skills": ["Go", "Kubernetes", "PostgreSQL",],
  "experience_years": 7,
  "key_achievements": ["Cut p99 latency by 40%"],
  "education": "BSc Computer Science",
  "relevant_experience": "Platform engineering at scale"
}` + "\n```"

func TestResumeExtractorExtract(t *testing.T) {
	mock := llm.NewMockChatModel(sampleExtraction, nil)
	extractor := NewResumeExtractor(mock)

	fields, err := extractor.Extract(context.Background(), "Jane Doe\nGo engineer", "Senior Go developer")
	require.NoError(t, err)

	assert.Equal(t, types.FlexString("Jane Doe"), fields.Name)
	assert.Equal(t, types.FlexStrings{"Go", "Kubernetes", "PostgreSQL"}, fields.Skills)
	assert.Equal(t, types.FlexString("7"), fields.ExperienceYears, "数字年限按字符串保存")
	assert.Equal(t, 30, types.PreliminaryScore(*fields))

	received := mock.Received()
	require.Len(t, received, 1)
	require.Len(t, received[0], 2)
	user := received[0][1].Content
	assert.Contains(t, user, "Job Description Context:\nSenior Go developer")
	assert.Contains(t, user, "Resume text:\nJane Doe\nGo engineer")
	assert.Contains(t, user, `"relevant_experience"`)
}

func TestResumeExtractorOmitsEmptyJobDescription(t *testing.T) {
	mock := llm.NewMockChatModel(`{"name": "A"}`, nil)
	_, err := NewResumeExtractor(mock).Extract(context.Background(), "text", "   ")
	require.NoError(t, err)
	assert.NotContains(t, mock.Received()[0][1].Content, "Job Description Context")
}

func TestResumeExtractorFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		reason  string
	}{
		{name: "模型调用失败", err: errors.New("upstream down"), reason: "generation failed"},
		{name: "空响应", content: "  \n ", reason: "empty model response"},
		{name: "没有JSON", content: "Sorry, I cannot help with that.", reason: "no JSON object"},
		{name: "JSON不是对象", content: "```json\n[\"Go\"]\n```", reason: "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := NewResumeExtractor(llm.NewMockChatModel(tt.content, tt.err))
			fields, err := extractor.Extract(context.Background(), "text", "")
			require.Error(t, err)
			assert.Nil(t, fields)
			assert.ErrorIs(t, err, types.ErrExtractionFailed)
			assert.True(t, strings.Contains(err.Error(), tt.reason), err.Error())
		})
	}
}

func TestResumeExtractorNilModel(t *testing.T) {
	_, err := NewResumeExtractor(nil).Extract(context.Background(), "text", "")
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

func TestResumeExtractorQuoteRepair(t *testing.T) {
	content := `{"name": "Ann", "relevant_experience": "Led the "Atlas" rewrite"}`

	_, err := NewResumeExtractor(llm.NewMockChatModel(content, nil)).Extract(context.Background(), "t", "")
	require.Error(t, err)

	fields, err := NewResumeExtractor(llm.NewMockChatModel(content, nil), WithExtractorQuoteRepair(true)).
		Extract(context.Background(), "t", "")
	require.NoError(t, err)
	assert.Equal(t, types.FlexString(`Led the "Atlas" rewrite`), fields.RelevantExperience)
}
