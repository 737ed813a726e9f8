package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"regional-stats-chatbot/internal/logger"
)

const (
	TaskIngestDocuments   = "documents:ingest"
	TaskReconstructTables = "tables:reconstruct"
)

type IngestPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

type ReconstructPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// NewIngestTask enqueues one full ingestion sweep. MaxRetry is 0: the
// job controller owns retries through its own state machine, a
// re-delivered task would just collide with the RUNNING row.
func NewIngestTask() (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{RequestedAt: time.Now()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestDocuments,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(4*time.Hour),
		asynq.Queue("critical"),
	), nil
}

func NewReconstructTask(docID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(ReconstructPayload{DocumentID: docID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskReconstructTables,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Queue("default"),
	), nil
}

// Client wraps the asynq client behind the enqueuer interfaces the
// services consume.
type Client struct {
	inner *asynq.Client
}

func NewClient(redisAddr, redisPassword string, redisDB int) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})}
}

func (c *Client) Close() error {
	return c.inner.Close()
}

func (c *Client) EnqueueIngestion(ctx context.Context) error {
	task, err := NewIngestTask()
	if err != nil {
		return err
	}
	info, err := c.inner.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.Info("task enqueued", "type", task.Type(), "id", info.ID, "queue", info.Queue)
	return nil
}

func (c *Client) EnqueueReconstruction(ctx context.Context, docID uuid.UUID) error {
	task, err := NewReconstructTask(docID)
	if err != nil {
		return err
	}
	info, err := c.inner.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.Info("task enqueued", "type", task.Type(), "id", info.ID, "queue", info.Queue, "document_id", docID)
	return nil
}

// IngestionRunner and ReconstructionRunner are the worker bodies the
// processor dispatches to.
type IngestionRunner interface {
	Run(ctx context.Context) error
}

type ReconstructionRunner interface {
	Run(ctx context.Context, docID uuid.UUID) error
}

// TaskProcessor binds task types to their service runners.
type TaskProcessor struct {
	ingestion      IngestionRunner
	reconstruction ReconstructionRunner
}

func NewTaskProcessor(ingestion IngestionRunner, reconstruction ReconstructionRunner) *TaskProcessor {
	return &TaskProcessor{ingestion: ingestion, reconstruction: reconstruction}
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal ingest payload: %w", asynq.SkipRetry)
	}
	logger.Info("ingestion task started", "requested_at", payload.RequestedAt)
	return p.ingestion.Run(ctx)
}

func (p *TaskProcessor) HandleReconstruct(ctx context.Context, t *asynq.Task) error {
	var payload ReconstructPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal reconstruct payload: %w", asynq.SkipRetry)
	}
	logger.Info("reconstruction task started", "document_id", payload.DocumentID)
	return p.reconstruction.Run(ctx, payload.DocumentID)
}

// Register attaches the processor's handlers to the worker mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestDocuments, p.HandleIngest)
	mux.HandleFunc(TaskReconstructTables, p.HandleReconstruct)
}
