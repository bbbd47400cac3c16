package kb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// ContentFetcher reads document content by source URI. The local
// provider pulls bytes itself, mirroring how a managed knowledge base
// reads from the object store.
type ContentFetcher interface {
	Fetch(ctx context.Context, sourceURI string) (string, error)
}

type LocalConfig struct {
	APIKey      string `json:"api_key"`
	GenModel    string `json:"gen_model"`
	EmbedModel  string `json:"embed_model"`
	EmbedDim    int    `json:"embed_dim"`
	Workers     int    `json:"workers"`
	TopK        int    `json:"top_k"`
	ChunkTokens int    `json:"chunk_tokens"`
}

// LocalArgs carries the non-serializable dependencies of the local
// provider alongside its JSON config.
type LocalArgs struct {
	DB      *sql.DB
	Fetcher ContentFetcher
	Config  interface{}
}

type ingestTask struct {
	jobRef    string
	tenantID  string
	projectID string
	documents []DocumentRef
}

// localService is a self-contained knowledge base backed by pgvector.
// Ingestion runs asynchronously on a small worker pool; callers poll job
// state exactly like they would against a remote service.
type localService struct {
	cfg     LocalConfig
	chunks  *chunkStore
	jobs    *jobStore
	gemini  *geminiClient
	fetcher ContentFetcher
	tasks   chan ingestTask
	once    sync.Once
}

func init() {
	Register("local", createLocalService)
}

func createLocalService(args interface{}) (Service, error) {
	largs, ok := args.(*LocalArgs)
	if !ok || largs == nil || largs.DB == nil {
		return nil, fmt.Errorf("kb local provider requires *LocalArgs with a db handle")
	}
	cfg := LocalConfig{}
	if err := decodeConfig(largs.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.GenModel == "" {
		cfg.GenModel = "gemini-2.0-flash"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-004"
	}
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = 768
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	chunks, err := newChunkStore(largs.DB, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	svc := &localService{
		cfg:    cfg,
		chunks: chunks,
		jobs:   &jobStore{db: largs.DB},
		gemini: &geminiClient{
			apiKey:     strings.TrimSpace(cfg.APIKey),
			genModel:   cfg.GenModel,
			embedModel: cfg.EmbedModel,
		},
		fetcher: largs.Fetcher,
		tasks:   make(chan ingestTask, 64),
	}
	return svc, nil
}

func (s *localService) Name() string {
	return "local"
}

func (s *localService) startWorkers() {
	s.once.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			go s.worker()
		}
	})
}

func (s *localService) StartIngestion(ctx context.Context, req IngestRequest) (string, error) {
	if len(req.Documents) == 0 {
		return "", fmt.Errorf("ingestion request has no documents")
	}
	if s.fetcher == nil {
		return "", ErrUnavailable
	}
	s.startWorkers()
	jobRef := uuid.NewString()
	if err := s.jobs.Create(ctx, jobRef, req.TenantID, req.ProjectID); err != nil {
		return "", err
	}
	task := ingestTask{
		jobRef:    jobRef,
		tenantID:  req.TenantID,
		projectID: req.ProjectID,
		documents: req.Documents,
	}
	select {
	case s.tasks <- task:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return jobRef, nil
}

func (s *localService) GetJobStatus(ctx context.Context, jobRef string) (*JobStatus, error) {
	return s.jobs.Get(ctx, jobRef)
}

func (s *localService) DeleteDocument(ctx context.Context, ref FileRef) error {
	return s.chunks.DeleteByFile(ctx, ref.TenantID, ref.FileID)
}

func (s *localService) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	queryVec, err := s.gemini.Embed(ctx, req.Query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	hits, err := s.chunks.Search(ctx, req.TenantID, req.ProjectID, req.FileIDs, queryVec, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &RetrieveResult{Answer: "No relevant content found.", SessionID: req.SessionID}, nil
	}
	var contextParts []string
	citations := make([]Citation, 0, len(hits))
	for i, hit := range hits {
		contextParts = append(contextParts, fmt.Sprintf("[%d] %s", i+1, hit.Content))
		citations = append(citations, Citation{FileID: hit.FileID, Content: hit.Content})
	}
	prompt := fmt.Sprintf(`You are a helpful assistant answering questions about a document set.
Answer the question using ONLY the context below. If the context does not
contain the answer, say so.

CONTEXT:
%s

QUESTION:
%s`, strings.Join(contextParts, "\n\n"), req.Query)
	answer, err := s.gemini.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &RetrieveResult{
		Answer:    answer,
		SessionID: sessionID,
		Citations: citations,
	}, nil
}

func (s *localService) worker() {
	for task := range s.tasks {
		s.runIngest(task)
	}
}

// runIngest executes detached from the caller's request; the job outlives
// the request that started it.
func (s *localService) runIngest(task ingestTask) {
	ctx := context.Background()
	logger := logutil.GetLogger(ctx).With(
		zap.String("job_ref", task.jobRef),
		zap.String("tenant_id", task.tenantID),
		zap.String("project_id", task.projectID),
	)
	for _, doc := range task.documents {
		if err := s.ingestDocument(ctx, task, doc); err != nil {
			logger.Error("ingestion job failed",
				zap.String("file_id", doc.FileID),
				zap.Error(err),
			)
			if serr := s.jobs.SetState(ctx, task.jobRef, JobFailed, err.Error()); serr != nil {
				logger.Error("record job failure", zap.Error(serr))
			}
			return
		}
	}
	if err := s.jobs.SetState(ctx, task.jobRef, JobSucceeded, ""); err != nil {
		logger.Error("record job success", zap.Error(err))
		return
	}
	logger.Info("ingestion job finished", zap.Int("documents", len(task.documents)))
}

func (s *localService) ingestDocument(ctx context.Context, task ingestTask, doc DocumentRef) error {
	content, err := s.fetcher.Fetch(ctx, doc.SourceURI)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", doc.SourceURI, err)
	}
	pieces := chunkMarkdown(content, s.cfg.ChunkTokens)
	records := make([]chunkRecord, 0, len(pieces))
	for i, piece := range pieces {
		emb, err := s.gemini.Embed(ctx, piece, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		records = append(records, chunkRecord{
			ID:        uuid.NewString(),
			Position:  i,
			Content:   piece,
			Embedding: emb,
		})
	}
	return s.chunks.ReplaceChunks(ctx, task.tenantID, task.projectID, doc.FileID, records)
}
