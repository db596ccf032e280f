package storage

import (
	"time"

	"resume-ranker/internal/constants"
	"resume-ranker/internal/types"
)

// ShortlistEntry 排序结果中的一位候选人
type ShortlistEntry struct {
	Rank           int                  `json:"rank"` // 从 1 开始
	CandidateID    string               `json:"candidate_id"`
	Source         string               `json:"source"`
	Name           string               `json:"name,omitempty"`
	Email          string               `json:"email,omitempty"`
	Score          int                  `json:"score"`
	Recommendation types.Recommendation `json:"recommendation,omitempty"`
}

// ShortlistMessage 发布给下游（面试安排、邮件通知）的排序结果消息
type ShortlistMessage struct {
	MessageType  string           `json:"message_type"`
	RunID        string           `json:"run_id"`
	GeneratedAt  time.Time        `json:"generated_at"`
	Candidates   []ShortlistEntry `json:"candidates"`
	FailureCount int              `json:"failure_count"`
}

// NewShortlistMessage 按排序顺序构建消息
func NewShortlistMessage(run *types.RankingRun) ShortlistMessage {
	msg := ShortlistMessage{
		MessageType: constants.ShortlistMessageType,
		RunID:       run.RunID,
		GeneratedAt: run.FinishedAt,
		Candidates:  make([]ShortlistEntry, 0, len(run.Ranked)),
	}
	for i, c := range run.Ranked {
		entry := ShortlistEntry{
			Rank:        i + 1,
			CandidateID: c.ID,
			Source:      c.Source,
			Name:        string(c.Extracted.Name),
			Email:       string(c.Extracted.Email),
			Score:       c.Score(),
		}
		if c.Evaluation != nil {
			entry.Recommendation = c.Evaluation.Recommendation
		}
		msg.Candidates = append(msg.Candidates, entry)
	}
	msg.FailureCount = len(run.Failures)
	return msg
}
