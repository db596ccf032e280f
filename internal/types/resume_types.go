package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Recommendation 候选人推荐等级
type Recommendation string

const (
	RecommendationStrongFit   Recommendation = "strong_fit"
	RecommendationGoodFit     Recommendation = "good_fit"
	RecommendationModerateFit Recommendation = "moderate_fit"
	RecommendationWeakFit     Recommendation = "weak_fit"
)

// Valid 判断推荐等级是否为已知取值
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationStrongFit, RecommendationGoodFit, RecommendationModerateFit, RecommendationWeakFit:
		return true
	}
	return false
}

const (
	// NeutralScore 既没有评估结果也没有初步分数时使用的中性分数
	NeutralScore = 50

	FallbackSummary  = "Unable to generate detailed assessment"
	FallbackStrength = "Evaluation pending"
)

// Document 解码后的源文档（PDF/文本已转换为纯文本）
type Document struct {
	ID       string         `json:"id"`
	URI      string         `json:"uri"`
	Text     string         `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewDocumentID 基于URI生成稳定的文档ID (UUIDv5)
func NewDocumentID(uri string) string {
	return uuid.NewV5(uuid.NamespaceURL, uri).String()
}

// NewDocument 创建文档并填充确定性ID
func NewDocument(uri, text string, metadata map[string]any) Document {
	return Document{
		ID:       NewDocumentID(uri),
		URI:      uri,
		Text:     text,
		Metadata: metadata,
	}
}

// Chunk 文档中的一段连续文本，SourceOffset 为其在原文中的字节偏移
type Chunk struct {
	Text         string `json:"text"`
	SourceOffset int    `json:"source_offset"`
}

// EmbeddingVector 定长向量，与 Chunk 或查询文本一一对应
type EmbeddingVector []float64

// FlexString 兼容模型输出中数字或字符串形式的字段（如 experience_years）
type FlexString string

// UnmarshalJSON 接受字符串、数字、布尔或 null
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexString(strconv.FormatBool(b))
		return nil
	}
	// 模型有时会把 education 之类的字段写成数组
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = FlexString(strings.Join(list, "; "))
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return fmt.Errorf("unsupported value for string field: %w", err)
	}
	*f = FlexString(compact.String())
	return nil
}

// FlexStrings 兼容字符串数组、单个字符串或 null
type FlexStrings []string

// UnmarshalJSON 单个字符串会被包装为单元素数组，数组内的非字符串元素被转为文本。
// 数组元素原样保留，空字符串也计入技能数
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*f = nil
			return nil
		}
		*f = FlexStrings{s}
		return nil
	}
	var raw []FlexString
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unsupported value for list field: %w", err)
	}
	out := make(FlexStrings, len(raw))
	for i, item := range raw {
		out[i] = string(item)
	}
	*f = out
	return nil
}

// ExtractedFields 从简历中抽取出的结构化字段，抽取完成后不再修改
type ExtractedFields struct {
	Name               FlexString  `json:"name"`
	Email              FlexString  `json:"email"`
	Phone              FlexString  `json:"phone"`
	Skills             FlexStrings `json:"skills"`
	ExperienceYears    FlexString  `json:"experience_years"`
	Education          FlexString  `json:"education"`
	KeyAchievements    FlexStrings `json:"key_achievements"`
	RelevantExperience FlexString  `json:"relevant_experience"`
}

// PreliminaryScore 初步启发式分数: min(10 × 技能数, 100)
func PreliminaryScore(fields ExtractedFields) int {
	score := 10 * len(fields.Skills)
	if score > 100 {
		return 100
	}
	return score
}

// EvaluationFields 岗位匹配评估结果，始终完整填充
type EvaluationFields struct {
	Score           int            `json:"score"`
	MatchPercentage int            `json:"match_percentage"`
	Summary         string         `json:"summary"`
	Strengths       []string       `json:"strengths"`
	Gaps            []string       `json:"gaps"`
	Recommendation  Recommendation `json:"recommendation"`
}

// FallbackEvaluation 生成评估失败时的确定性兜底结果
func FallbackEvaluation(preliminaryScore *int) EvaluationFields {
	score := NeutralScore
	if preliminaryScore != nil {
		score = *preliminaryScore
	}
	return EvaluationFields{
		Score:           score,
		MatchPercentage: NeutralScore,
		Summary:         FallbackSummary,
		Strengths:       []string{FallbackStrength},
		Gaps:            []string{},
		Recommendation:  RecommendationModerateFit,
	}
}

// CandidateRecord 候选人记录: 抽取字段与评估字段是两个互不重叠的分组
type CandidateRecord struct {
	ID               string
	DocumentID       string
	Source           string
	Extracted        ExtractedFields
	PreliminaryScore *int
	Evaluation       *EvaluationFields
}

// NewCandidateRecord 基于抽取结果创建候选人记录并计算初步分数
func NewCandidateRecord(doc Document, fields ExtractedFields) *CandidateRecord {
	prelim := PreliminaryScore(fields)
	return &CandidateRecord{
		ID:               doc.ID,
		DocumentID:       doc.ID,
		Source:           doc.URI,
		Extracted:        fields,
		PreliminaryScore: &prelim,
	}
}

// Merge 将评估结果写入评估分组，不触碰抽取字段
func (c *CandidateRecord) Merge(eval EvaluationFields) {
	merged := eval
	merged.Strengths = cloneStrings(eval.Strengths)
	merged.Gaps = cloneStrings(eval.Gaps)
	c.Evaluation = &merged
}

// Score 排序所用分数: 评估分数 > 初步分数 > 中性分数
func (c *CandidateRecord) Score() int {
	if c.Evaluation != nil {
		return c.Evaluation.Score
	}
	if c.PreliminaryScore != nil {
		return *c.PreliminaryScore
	}
	return NeutralScore
}

// candidateJSON 扁平化输出格式
type candidateJSON struct {
	ID               string `json:"id,omitempty"`
	DocumentID       string `json:"document_id,omitempty"`
	Source           string `json:"source,omitempty"`
	ExtractedFields
	PreliminaryScore *int `json:"preliminary_score,omitempty"`
	*EvaluationFields
}

// MarshalJSON 输出扁平结构，评估字段在未评估时省略
func (c CandidateRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(candidateJSON{
		ID:               c.ID,
		DocumentID:       c.DocumentID,
		Source:           c.Source,
		ExtractedFields:  c.Extracted,
		PreliminaryScore: c.PreliminaryScore,
		EvaluationFields: c.Evaluation,
	})
}

// UnmarshalJSON 读取 MarshalJSON 的输出
func (c *CandidateRecord) UnmarshalJSON(data []byte) error {
	var aux candidateJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = CandidateRecord{
		ID:               aux.ID,
		DocumentID:       aux.DocumentID,
		Source:           aux.Source,
		Extracted:        aux.ExtractedFields,
		PreliminaryScore: aux.PreliminaryScore,
		Evaluation:       aux.EvaluationFields,
	}
	return nil
}

// ErrorRecord 抽取失败的哨兵记录，不会进入评估和排序
type ErrorRecord struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Error      string `json:"error"`
}

// ExtractionOutcome 单个文档的抽取结果，Candidate 与 Failure 二者有且仅有一个
type ExtractionOutcome struct {
	Candidate *CandidateRecord
	Failure   *ErrorRecord
}

// OK 是否成功抽取
func (o ExtractionOutcome) OK() bool {
	return o.Candidate != nil
}

// RankingRun 一次完整的抽取+排序运行
type RankingRun struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Ranked     []*CandidateRecord `json:"ranked"`
	Failures   []*ErrorRecord     `json:"failures"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
