// Package store persists the analysis history of signed-in users.
//
// DynamoStore uses a single-table design: every record of a user shares the
// partition key USER#{userId}, and the sort key ANALYSIS#{createdAtMillis}#{id}
// orders records chronologically so a reverse query yields newest first.
// MemoryStore offers the same behaviour for local runs and tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRecord is returned when a record is missing its owner or ID.
var ErrInvalidRecord = errors.New("invalid history record")

// Excerpt is a stored literary excerpt.
type Excerpt struct {
	Text        string `json:"text" dynamodbav:"text"`
	Translation string `json:"translation" dynamodbav:"translation"`
	Author      string `json:"author" dynamodbav:"author"`
	Work        string `json:"work" dynamodbav:"work"`
}

// Record is one saved analysis.
type Record struct {
	ID        string    `json:"id" dynamodbav:"id"`
	UserID    string    `json:"userId" dynamodbav:"userId"`
	ImageURL  string    `json:"imageUrl" dynamodbav:"imageUrl"`
	FileName  string    `json:"fileName" dynamodbav:"fileName"`
	Titles    []string  `json:"titles" dynamodbav:"titles"`
	Captions  []string  `json:"captions" dynamodbav:"captions"`
	Excerpts  []Excerpt `json:"excerpts" dynamodbav:"excerpts"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

func (r *Record) validate() error {
	if r == nil || r.ID == "" || r.UserID == "" {
		return ErrInvalidRecord
	}
	return nil
}

// HistoryStore saves and lists analysis records. Implementations are safe
// for concurrent use.
type HistoryStore interface {
	// PutRecord creates or replaces a record.
	PutRecord(ctx context.Context, record *Record) error

	// ListRecords returns the user's records, newest first. A limit of zero
	// or less returns every record.
	ListRecords(ctx context.Context, userID string, limit int) ([]*Record, error)
}
