package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"resume-ranker/internal/constants"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/parser"
	"resume-ranker/internal/storage"
	"resume-ranker/internal/types"
	"resume-ranker/pkg/llm"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMessage struct {
	exchange, routingKey string
	body                 []byte
	persistent           bool
}

type fakePublisher struct {
	mu         sync.Mutex
	calls      []string
	sent       []capturedMessage
	declareErr error
	err        error
}

func (f *fakePublisher) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "declare:"+exchangeName+":"+exchangeType)
	return f.declareErr
}

func (f *fakePublisher) PublishJSON(ctx context.Context, exchange, routingKey string, data any, persistent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "publish:"+exchange)
	if f.err != nil {
		return f.err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, capturedMessage{exchange, routingKey, body, persistent})
	return nil
}

var _ storage.Publisher = (*fakePublisher)(nil)

// recruiterModel 按系统提示区分抽取和评估两类请求
func recruiterModel() *llm.MockChatModel {
	return &llm.MockChatModel{Responder: func(messages []*schema.Message) (string, error) {
		system := messages[0].Content
		prompt := messages[len(messages)-1].Content
		if strings.Contains(system, "HR Assistant") {
			switch {
			case strings.Contains(prompt, "Alice"):
				return "```json\n" + extractionJSON("Alice", "Go", "Kafka") + "\n```", nil
			case strings.Contains(prompt, "Bob"):
				return extractionJSON("Bob", "Java", "Spring", "SQL"), nil
			case strings.Contains(prompt, "Carol"):
				return "I could not find any candidate information.", nil
			}
			return "", errors.New("unexpected resume")
		}
		switch {
		case strings.Contains(prompt, "Name: Alice\n"):
			return evaluationJSON(88), nil
		case strings.Contains(prompt, "Name: Bob\n"):
			return evaluationJSON(64), nil
		}
		return "", errors.New("unexpected candidate")
	}}
}

func newTestPipeline(t *testing.T, embedder *countingEmbedder, chat *llm.MockChatModel, opts ...PipelineOption) *ResumePipeline {
	t.Helper()
	chunker, err := parser.NewRecursiveChunker(parser.WithChunkSize(200), parser.WithChunkOverlap(20))
	require.NoError(t, err)
	svc, err := NewEmbeddingService(embedder, 4)
	require.NoError(t, err)

	p, err := NewResumePipeline(Components{
		Chunker:    chunker,
		Embeddings: svc,
		Extractor:  parser.NewResumeExtractor(chat),
		Evaluator:  parser.NewCandidateEvaluator(chat),
	}, Settings{ExtractConcurrency: 2}, opts...)
	require.NoError(t, err)
	return p
}

func testDocuments() []types.Document {
	return []types.Document{
		types.NewDocument("file:///resumes/alice.pdf", "Alice Smith\nalice@example.com\nSkills: Go, Kafka\nBuilt payment systems.", nil),
		types.NewDocument("file:///resumes/carol.txt", "Carol\nNothing useful here.", nil),
		types.NewDocument("file:///resumes/bob.pdf", "Bob Jones\nSkills: Java, Spring, SQL\nLed a team of five.", nil),
	}
}

func TestNewResumePipelineRequiresComponents(t *testing.T) {
	_, err := NewResumePipeline(Components{}, Settings{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipelineExtractSuccess(t *testing.T) {
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel())
	doc := testDocuments()[0]

	outcome, err := p.Extract(context.Background(), doc, "Go engineer")
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Nil(t, outcome.Failure)

	c := outcome.Candidate
	assert.Equal(t, doc.ID, c.DocumentID)
	assert.Equal(t, doc.URI, c.Source)
	assert.Equal(t, types.FlexString("Alice"), c.Extracted.Name)
	assert.Equal(t, types.FlexString("alice@example.com"), c.Extracted.Email)
	assert.Equal(t, types.FlexString("4"), c.Extracted.ExperienceYears)
	require.NotNil(t, c.PreliminaryScore)
	assert.Equal(t, 20, *c.PreliminaryScore)
	assert.Nil(t, c.Evaluation)
}

func TestPipelineExtractUnparseableResponse(t *testing.T) {
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel())
	doc := testDocuments()[1]

	outcome, err := p.Extract(context.Background(), doc, "Go engineer")
	require.NoError(t, err)
	assert.False(t, outcome.OK())
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, doc.ID, outcome.Failure.DocumentID)
	assert.Equal(t, doc.URI, outcome.Failure.Source)
	assert.Contains(t, outcome.Failure.Error, "extraction failed")
}

func TestPipelineExtractEmptyDocument(t *testing.T) {
	chat := recruiterModel()
	p := newTestPipeline(t, newCountingEmbedder(), chat)

	outcome, err := p.Extract(context.Background(), types.NewDocument("file:///empty.txt", "   \n", nil), "jd")
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	assert.Contains(t, outcome.Failure.Error, "no text")
	assert.Zero(t, chat.Calls())
}

func TestPipelineExtractEmbeddingFailureIsFatal(t *testing.T) {
	embedder := newCountingEmbedder()
	embedder.err = errors.New("invalid api key")
	chat := recruiterModel()
	p := newTestPipeline(t, embedder, chat)

	_, err := p.Extract(context.Background(), testDocuments()[0], "jd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "embed", perr.Op)
	assert.Zero(t, chat.Calls())
}

func TestPipelineExtractAllKeepsDocumentOrder(t *testing.T) {
	m := metrics.New(nil)
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel(), WithPipelineMetrics(m))
	docs := testDocuments()

	candidates, failures, err := p.ExtractAll(context.Background(), docs, "jd")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, docs[0].ID, candidates[0].DocumentID)
	assert.Equal(t, docs[2].ID, candidates[1].DocumentID)
	require.Len(t, failures, 1)
	assert.Equal(t, docs[1].ID, failures[0].DocumentID)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("candidate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionFailures))
}

func TestPipelineRunEndToEnd(t *testing.T) {
	chat := recruiterModel()
	p := newTestPipeline(t, newCountingEmbedder(), chat)

	run, err := p.Run(context.Background(), testDocuments(), "Backend engineer with Go")
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	require.Len(t, run.Ranked, 2)
	assert.Equal(t, types.FlexString("Alice"), run.Ranked[0].Extracted.Name)
	assert.Equal(t, 88, run.Ranked[0].Score())
	assert.Equal(t, types.FlexString("Bob"), run.Ranked[1].Extracted.Name)
	assert.Equal(t, 64, run.Ranked[1].Score())
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "file:///resumes/carol.txt", run.Failures[0].Source)

	// 3 次抽取 + 2 次评估
	assert.Equal(t, 5, chat.Calls())
}

func TestPipelineRunRejectsEmptyJobDescription(t *testing.T) {
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel())
	_, err := p.Run(context.Background(), testDocuments(), "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipelineRunNoDocuments(t *testing.T) {
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel())
	run, err := p.Run(context.Background(), nil, "jd")
	require.NoError(t, err)
	assert.NotNil(t, run.Ranked)
	assert.Empty(t, run.Ranked)
	assert.NotNil(t, run.Failures)
	assert.Empty(t, run.Failures)
}

func TestPipelineRunFailsOnEmbeddingOutage(t *testing.T) {
	embedder := newCountingEmbedder()
	embedder.err = errors.New("service unavailable")
	p := newTestPipeline(t, embedder, recruiterModel())

	run, err := p.Run(context.Background(), testDocuments(), "jd")
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestPipelinePublish(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel(),
		WithPublisher(pub, "resume.shortlist.exchange", "resume.shortlist.ranked"))

	run, err := p.Run(context.Background(), testDocuments(), "jd")
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), run))

	assert.Equal(t, []string{
		"declare:resume.shortlist.exchange:" + constants.ShortlistExchangeType,
		"publish:resume.shortlist.exchange",
	}, pub.calls)
	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "resume.shortlist.exchange", sent.exchange)
	assert.Equal(t, "resume.shortlist.ranked", sent.routingKey)
	assert.True(t, sent.persistent)

	var msg storage.ShortlistMessage
	require.NoError(t, json.Unmarshal(sent.body, &msg))
	assert.Equal(t, constants.ShortlistMessageType, msg.MessageType)
	assert.Equal(t, run.RunID, msg.RunID)
	require.Len(t, msg.Candidates, 2)
	assert.Equal(t, 1, msg.Candidates[0].Rank)
	assert.Equal(t, "Alice", msg.Candidates[0].Name)
	assert.Equal(t, 1, msg.FailureCount)
}

func TestPipelinePublishErrors(t *testing.T) {
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel())
	assert.Error(t, p.Publish(context.Background(), &types.RankingRun{RunID: "r"}))

	pub := &fakePublisher{err: errors.New("channel closed")}
	p = newTestPipeline(t, newCountingEmbedder(), recruiterModel(), WithPublisher(pub, "x", "y"))
	err := p.Publish(context.Background(), &types.RankingRun{RunID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestPipelinePublishStopsWhenExchangeDeclareFails(t *testing.T) {
	pub := &fakePublisher{declareErr: errors.New("access refused")}
	p := newTestPipeline(t, newCountingEmbedder(), recruiterModel(), WithPublisher(pub, "x", "y"))

	err := p.Publish(context.Background(), &types.RankingRun{RunID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access refused")
	assert.Equal(t, []string{"declare:x:" + constants.ShortlistExchangeType}, pub.calls)
	assert.Empty(t, pub.sent)
}
