package exports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/hms-platform/pkg/logging"
)

// jobTTL bounds how long export status stays queryable.
const jobTTL = 7 * 24 * time.Hour

// JobStatus represents the lifecycle of an export job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("exports: job not found")

// Job is the persisted state of a patient history export.
type Job struct {
	JobID        string    `dynamodbav:"jobId" json:"jobId"`
	Status       JobStatus `dynamodbav:"status" json:"status"`
	PatientID    string    `dynamodbav:"patientId" json:"patientId"`
	RequestedBy  string    `dynamodbav:"requestedBy" json:"-"`
	NotifyEmail  bool      `dynamodbav:"notifyEmail" json:"notifyEmail"`
	ObjectKey    string    `dynamodbav:"objectKey,omitempty" json:"objectKey,omitempty"`
	DownloadURL  string    `dynamodbav:"downloadUrl,omitempty" json:"downloadUrl,omitempty"`
	RowCount     int       `dynamodbav:"rowCount,omitempty" json:"rowCount,omitempty"`
	ErrorMessage string    `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    string    `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    string    `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt    int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists export job status.
type JobStore interface {
	PutPending(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	MarkRunning(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID, objectKey, downloadURL string, rows int) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoJobStore keeps jobs in a DynamoDB table keyed by jobId.
type DynamoJobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ JobStore = (*DynamoJobStore)(nil)

func NewDynamoJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoJobStore {
	if client == nil {
		panic("exports: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("exports: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoJobStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

func (s *DynamoJobStore) PutPending(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("exports: job cannot be nil")
	}
	now := s.now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("exports: failed to marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("exports: failed to persist job: %w", err)
	}
	return nil
}

func (s *DynamoJobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, errors.New("exports: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: jobID}},
	})
	if err != nil {
		return nil, fmt.Errorf("exports: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}
	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("exports: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *DynamoJobStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, JobStatusRunning, map[string]types.AttributeValue{}, "")
}

func (s *DynamoJobStore) MarkCompleted(ctx context.Context, jobID, objectKey, downloadURL string, rows int) error {
	values := map[string]types.AttributeValue{
		":key":  &types.AttributeValueMemberS{Value: objectKey},
		":url":  &types.AttributeValueMemberS{Value: downloadURL},
		":rows": &types.AttributeValueMemberN{Value: fmt.Sprint(rows)},
	}
	return s.update(ctx, jobID, JobStatusCompleted, values, ", objectKey = :key, downloadUrl = :url, rowCount = :rows")
}

func (s *DynamoJobStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	values := map[string]types.AttributeValue{
		":error": &types.AttributeValueMemberS{Value: errMsg},
	}
	return s.update(ctx, jobID, JobStatusFailed, values, ", #error = :error")
}

// update sets status and updatedAt plus any extra SET clauses. status and
// errorMessage go through name placeholders; status is a reserved word.
func (s *DynamoJobStore) update(ctx context.Context, jobID string, status JobStatus, values map[string]types.AttributeValue, extraSet string) error {
	if jobID == "" {
		return errors.New("exports: jobID required")
	}
	values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	values[":updated"] = &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)}
	names := map[string]string{"#status": "status", "#updated": "updatedAt"}
	if _, ok := values[":error"]; ok {
		names["#error"] = "errorMessage"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: jobID}},
		UpdateExpression:          aws.String("SET #status = :status, #updated = :updated" + extraSet),
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrJobNotFound
		}
		return fmt.Errorf("exports: failed to update job %s: %w", jobID, err)
	}
	s.logger.Debug("export job updated", "job_id", jobID, "status", status)
	return nil
}

// MemoryJobStore is the in-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job), now: time.Now}
}

func (m *MemoryJobStore) PutPending(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("exports: job cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.JobID]; exists {
		return fmt.Errorf("exports: job %s already exists", job.JobID)
	}
	job.Status = JobStatusPending
	job.CreatedAt = m.now().UTC().Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.JobID] = *job
	return nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (m *MemoryJobStore) MarkRunning(_ context.Context, jobID string) error {
	return m.mutate(jobID, func(j *Job) { j.Status = JobStatusRunning })
}

func (m *MemoryJobStore) MarkCompleted(_ context.Context, jobID, objectKey, downloadURL string, rows int) error {
	return m.mutate(jobID, func(j *Job) {
		j.Status = JobStatusCompleted
		j.ObjectKey = objectKey
		j.DownloadURL = downloadURL
		j.RowCount = rows
	})
}

func (m *MemoryJobStore) MarkFailed(_ context.Context, jobID, errMsg string) error {
	return m.mutate(jobID, func(j *Job) {
		j.Status = JobStatusFailed
		j.ErrorMessage = errMsg
	})
}

func (m *MemoryJobStore) mutate(jobID string, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = m.now().UTC().Format(time.RFC3339Nano)
	m.jobs[jobID] = job
	return nil
}
