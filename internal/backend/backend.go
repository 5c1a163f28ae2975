// Package backend signs users in and keeps their analysis history: the
// image goes to S3, the generated content to the history store.
//
// A Backend built without a bucket or a store is disabled. Every call then
// fails with *auth.ConfigurationError, while analysis itself keeps working.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/auth"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/jobs"
	"github.com/fpang/image-insight/internal/metrics"
	"github.com/fpang/image-insight/internal/s3util"
	"github.com/fpang/image-insight/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// User-facing messages.
const (
	MsgSaveFailed    = "Impossible de sauvegarder le résultat de l'analyse."
	MsgHistoryFailed = "Impossible de récupérer l'historique des analyses."
)

var (
	// ErrNoUser is returned when a call needs a signed-in user and none was given.
	ErrNoUser = errors.New("no signed-in user")
	// ErrNothingToSave is returned by SaveSession when the session has no
	// finished analysis.
	ErrNothingToSave = errors.New("no finished analysis to save")
)

// StorageError reports a failed upload, save or history read. Message is
// the text shown to the user.
type StorageError struct {
	Op      string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// User is an anonymously signed-in user.
type User struct {
	ID         string    `json:"id"`
	SignedInAt time.Time `json:"signedInAt"`
}

// Config wires a Backend. Bucket, S3, Presigner and Store are all required
// for the backend to be enabled.
type Config struct {
	Bucket    string
	S3        s3util.PutAPI
	Presigner s3util.PresignAPI
	Store     store.HistoryStore

	// URLExpiry defaults to s3util.DefaultURLExpiry.
	URLExpiry time.Duration
	Now       func() time.Time
}

// Backend implements sign-in and history persistence.
type Backend struct {
	bucket    string
	s3        s3util.PutAPI
	presigner s3util.PresignAPI
	store     store.HistoryStore
	urlExpiry time.Duration
	now       func() time.Time

	disabled *auth.ConfigurationError
}

// New creates a Backend. Missing pieces disable it rather than fail.
func New(cfg Config) *Backend {
	b := &Backend{
		bucket:    cfg.Bucket,
		s3:        cfg.S3,
		presigner: cfg.Presigner,
		store:     cfg.Store,
		urlExpiry: cfg.URLExpiry,
		now:       cfg.Now,
	}
	if b.urlExpiry <= 0 {
		b.urlExpiry = s3util.DefaultURLExpiry
	}
	if b.now == nil {
		b.now = time.Now
	}

	switch {
	case cfg.Bucket == "" || cfg.S3 == nil || cfg.Presigner == nil:
		b.disabled = &auth.ConfigurationError{Component: "history backend", Missing: "image bucket"}
	case cfg.Store == nil:
		b.disabled = &auth.ConfigurationError{Component: "history backend", Missing: "history table"}
	}
	return b
}

// Enabled reports whether the backend is configured.
func (b *Backend) Enabled() bool {
	return b.disabled == nil
}

// Err returns the configuration error that disabled the backend, or nil.
func (b *Backend) Err() error {
	if b.disabled == nil {
		return nil
	}
	return b.disabled
}

// SignIn creates an anonymous user with a fresh random ID.
func (b *Backend) SignIn(ctx context.Context) (*User, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	user := &User{ID: uuid.NewString(), SignedInAt: b.now()}
	log.Info().Str("user_id", user.ID).Msg("Anonymous user signed in")
	metrics.New(metrics.Namespace).Dimension("Operation", "signin").Count("SignIns").Flush()
	return user, nil
}

// UploadImage stores img under the user's prefix and returns a presigned
// download URL for it.
func (b *Backend) UploadImage(ctx context.Context, userID string, img *filehandler.Image) (string, error) {
	if err := b.check(userID); err != nil {
		return "", err
	}
	if img == nil || len(img.Data) == 0 {
		return "", filehandler.ErrEmptyImage
	}

	key := s3util.ImageKey(userID, img.Name, b.now())
	if err := s3util.Upload(ctx, b.s3, b.bucket, key, img.MIMEType, img.Data); err != nil {
		return "", &StorageError{Op: "upload image", Message: MsgSaveFailed, Err: err}
	}
	url, err := s3util.GeneratePresignedURL(ctx, b.presigner, b.bucket, key, b.urlExpiry)
	if err != nil {
		return "", &StorageError{Op: "presign image", Message: MsgSaveFailed, Err: err}
	}
	return url, nil
}

// SaveRecord stores generated content with the image URL and returns the
// new record.
func (b *Backend) SaveRecord(ctx context.Context, userID, imageURL, fileName string, content *chat.Content) (*store.Record, error) {
	if err := b.check(userID); err != nil {
		return nil, err
	}
	if content == nil {
		content = chat.EmptyContent()
	}

	record := &store.Record{
		ID:        jobs.GenerateID(jobs.PrefixRecord),
		UserID:    userID,
		ImageURL:  imageURL,
		FileName:  fileName,
		Titles:    append([]string{}, content.Titles...),
		Captions:  append([]string{}, content.Captions...),
		Excerpts:  make([]store.Excerpt, 0, len(content.Excerpts)),
		CreatedAt: b.now().UTC(),
	}
	for _, e := range content.Excerpts {
		record.Excerpts = append(record.Excerpts, store.Excerpt{
			Text:        e.Text,
			Translation: e.Translation,
			Author:      e.Author,
			Work:        e.Work,
		})
	}

	start := time.Now()
	if err := b.store.PutRecord(ctx, record); err != nil {
		return nil, &StorageError{Op: "save record", Message: MsgSaveFailed, Err: err}
	}
	metrics.New(metrics.Namespace).
		Dimension("Operation", "save").
		Count("HistorySaved").
		Since("HistorySaveLatency", start).
		Flush()

	log.Info().Str("user_id", userID).Str("record_id", record.ID).Msg("Analysis saved to history")
	return record, nil
}

// ListRecords returns the user's history, newest first.
func (b *Backend) ListRecords(ctx context.Context, userID string) ([]*store.Record, error) {
	if err := b.check(userID); err != nil {
		return nil, err
	}
	records, err := b.store.ListRecords(ctx, userID, 0)
	if err != nil {
		return nil, &StorageError{Op: "list records", Message: MsgHistoryFailed, Err: err}
	}
	if records == nil {
		records = []*store.Record{}
	}
	log.Debug().Str("user_id", userID).Int("count", len(records)).Msg("History listed")
	return records, nil
}

// SaveSession uploads the session image and saves its content. The session
// must be ready.
func (b *Backend) SaveSession(ctx context.Context, userID string, session analysis.Session, img *filehandler.Image) (*store.Record, error) {
	if err := b.check(userID); err != nil {
		return nil, err
	}
	if session.Status != analysis.StatusReady || session.Content == nil || img == nil {
		return nil, ErrNothingToSave
	}

	url, err := b.UploadImage(ctx, userID, img)
	if err != nil {
		return nil, err
	}
	return b.SaveRecord(ctx, userID, url, img.Name, session.Content)
}

func (b *Backend) check(userID string) error {
	if err := b.Err(); err != nil {
		return err
	}
	if userID == "" {
		return ErrNoUser
	}
	return nil
}
