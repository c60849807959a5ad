package dataset

import (
	"context"
	"errors"
)

// Common repository errors.
var (
	ErrNotFound      = errors.New("dataset not found")
	ErrAlreadyExists = errors.New("dataset already exists")
)

// Repository stores registered datasets for the session/upload lifetime.
// Datasets are immutable once created; there is no update operation.
type Repository interface {
	Create(ctx context.Context, d *DataSet) error
	Get(ctx context.Context, uploadID string) (*DataSet, error)
	List(ctx context.Context) ([]*DataSet, error)
	Delete(ctx context.Context, uploadID string) error
}
