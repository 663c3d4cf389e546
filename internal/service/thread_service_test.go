package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefeitura-digital/portal-api/internal/dto"
	"github.com/prefeitura-digital/portal-api/internal/models"
	appErrors "github.com/prefeitura-digital/portal-api/pkg/errors"
	"github.com/prefeitura-digital/portal-api/pkg/jobs"
	"github.com/prefeitura-digital/portal-api/pkg/storage"
)

type commentStoreStub struct {
	created []*models.Comment
	listed  []models.Comment
}

func (s *commentStoreStub) Create(ctx context.Context, comment *models.Comment) error {
	comment.ID = "cmt-1"
	comment.CreatedAt = time.Now().UTC()
	s.created = append(s.created, comment)
	return nil
}

func (s *commentStoreStub) ListByRequest(ctx context.Context, requestID string, includeInternal bool) ([]models.Comment, error) {
	return s.listed, nil
}

type attachmentStoreStub struct {
	createErr   error
	created     []*models.Attachment
	attachments map[string]*models.Attachment
}

func (s *attachmentStoreStub) Create(ctx context.Context, att *models.Attachment) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, att)
	return nil
}

func (s *attachmentStoreStub) FindByID(ctx context.Context, id string) (*models.Attachment, error) {
	if att, ok := s.attachments[id]; ok {
		return att, nil
	}
	return nil, sql.ErrNoRows
}

func (s *attachmentStoreStub) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	return nil, nil
}

type requestReaderStub struct {
	requests map[string]*models.Request
}

func (s requestReaderStub) FindByID(ctx context.Context, id string) (*models.Request, error) {
	if req, ok := s.requests[id]; ok {
		return req, nil
	}
	return nil, sql.ErrNoRows
}

type objectStorageStub struct {
	saveErr   error
	deleteErr error
	saved     []string
	deleted   []string
}

func (s *objectStorageStub) Save(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.saved = append(s.saved, path)
	return path, nil
}

func (s *objectStorageStub) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("conteudo")), nil
}

func (s *objectStorageStub) Delete(ctx context.Context, path string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, path)
	return nil
}

type enqueuerStub struct {
	jobs []jobs.Job
	err  error
}

func (s *enqueuerStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func newThreadService(comments *commentStoreStub, attachments *attachmentStoreStub, objects *objectStorageStub, cleanup *enqueuerStub) *ThreadService {
	requests := requestReaderStub{requests: map[string]*models.Request{
		"req-1": {ID: "req-1", RequesterID: "user-1", Status: models.RequestStatusOpen},
	}}
	signer := storage.NewSignedURLSigner("test-secret", 30*time.Minute)
	return NewThreadService(comments, attachments, requests, objects, signer, cleanup, &auditRecorderStub{}, nil, nil, ThreadServiceConfig{MaxFileSizeBytes: 1 << 20})
}

func TestThreadServiceAddCommentDerivesAuthorType(t *testing.T) {
	comments := &commentStoreStub{}
	svc := newThreadService(comments, &attachmentStoreStub{}, &objectStorageStub{}, nil)

	comment, err := svc.AddComment(context.Background(), "req-1", dto.CommentRequest{Text: "Obrigado pelo retorno"}, citizenClaims("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.AuthorCitizen, comment.AuthorType)

	fromMayor, err := svc.AddComment(context.Background(), "req-1", dto.CommentRequest{Text: "Priorizar este caso"}, &models.JWTClaims{UserID: "mayor-1", Role: models.RoleMayor})
	require.NoError(t, err)
	assert.Equal(t, models.AuthorMayor, fromMayor.AuthorType)
}

func TestThreadServiceCitizenCannotPostInternal(t *testing.T) {
	svc := newThreadService(&commentStoreStub{}, &attachmentStoreStub{}, &objectStorageStub{}, nil)

	_, err := svc.AddComment(context.Background(), "req-1", dto.CommentRequest{Text: "nota", Internal: true}, citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestThreadServiceAddAttachmentTwoPhase(t *testing.T) {
	attachments := &attachmentStoreStub{}
	objects := &objectStorageStub{}
	svc := newThreadService(&commentStoreStub{}, attachments, objects, nil)

	att, err := svc.AddAttachment(context.Background(), "req-1", AttachmentUpload{
		FileName: "foto.jpg",
		MimeType: "image/jpeg",
		Size:     1024,
		Body:     bytes.NewReader(make([]byte, 1024)),
	}, citizenClaims("user-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, att.ID)
	require.Len(t, objects.saved, 1)
	assert.Equal(t, objects.saved[0], att.StoragePath)
	assert.Regexp(t, `^requests/req-1/\d+_foto\.jpg$`, att.StoragePath)
	assert.Empty(t, objects.deleted)
}

func TestThreadServiceAttachmentCompensatesOnMetadataFailure(t *testing.T) {
	attachments := &attachmentStoreStub{createErr: errors.New("insert failed")}
	objects := &objectStorageStub{}
	svc := newThreadService(&commentStoreStub{}, attachments, objects, nil)

	_, err := svc.AddAttachment(context.Background(), "req-1", AttachmentUpload{
		FileName: "laudo.pdf",
		MimeType: "application/pdf",
		Size:     2048,
		Body:     bytes.NewReader(make([]byte, 2048)),
	}, citizenClaims("user-1"))
	require.Error(t, err)
	require.Len(t, objects.deleted, 1)
}

func TestThreadServiceAttachmentQueuesCleanupWhenDeleteFails(t *testing.T) {
	attachments := &attachmentStoreStub{createErr: errors.New("insert failed")}
	objects := &objectStorageStub{deleteErr: errors.New("storage unavailable")}
	cleanup := &enqueuerStub{}
	svc := newThreadService(&commentStoreStub{}, attachments, objects, cleanup)

	_, err := svc.AddAttachment(context.Background(), "req-1", AttachmentUpload{
		FileName: "laudo.pdf",
		MimeType: "application/pdf",
		Size:     2048,
		Body:     bytes.NewReader(make([]byte, 2048)),
	}, citizenClaims("user-1"))
	require.Error(t, err)
	require.Len(t, cleanup.jobs, 1)
	assert.Equal(t, JobTypeAttachmentCleanup, cleanup.jobs[0].Type)
}

func TestThreadServiceAttachmentSizeLimit(t *testing.T) {
	svc := newThreadService(&commentStoreStub{}, &attachmentStoreStub{}, &objectStorageStub{}, nil)

	_, err := svc.AddAttachment(context.Background(), "req-1", AttachmentUpload{
		FileName: "video.mp4",
		MimeType: "video/mp4",
		Size:     (1 << 20) + 1,
		Body:     bytes.NewReader(nil),
	}, citizenClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestThreadServiceDownloadRoundTrip(t *testing.T) {
	attachments := &attachmentStoreStub{attachments: map[string]*models.Attachment{}}
	objects := &objectStorageStub{}
	svc := newThreadService(&commentStoreStub{}, attachments, objects, nil)

	att := &models.Attachment{ID: "att-1", RequestID: "req-1", FileName: "foto.jpg", StoragePath: "requests/req-1/att-1.jpg"}
	attachments.attachments["att-1"] = att

	token, expiresAt, err := svc.DownloadURL(context.Background(), "req-1", "att-1", citizenClaims("user-1"))
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	fetched, reader, err := svc.OpenByToken(context.Background(), token)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, "att-1", fetched.ID)

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "conteudo", string(content))
}

func TestThreadServiceOpenByTokenRejectsTampered(t *testing.T) {
	svc := newThreadService(&commentStoreStub{}, &attachmentStoreStub{}, &objectStorageStub{}, nil)

	_, _, err := svc.OpenByToken(context.Background(), "att-1.123.cGF0aA.deadbeef")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
