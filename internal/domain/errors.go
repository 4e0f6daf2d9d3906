package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMethod signals a search method with no configuration entry.
	ErrUnknownMethod = errors.New("unknown search method")
	// ErrUnknownModel signals an embedding model the provider set does not cover.
	ErrUnknownModel = errors.New("unknown embedding model")
	// ErrInvalidAlpha signals a hybrid weighting factor outside [0, 1].
	ErrInvalidAlpha = errors.New("alpha must be between 0 and 1")
	// ErrNoEmbedding signals that a product has no stored vector for a method.
	ErrNoEmbedding = errors.New("no indexed embedding for product")
	// ErrNoImages signals a product without image URLs in an image-requiring flow.
	ErrNoImages = errors.New("product has no image URLs")
	// ErrProductNotFound signals a missing catalog record.
	ErrProductNotFound = errors.New("product not found")
	// ErrBrandNotFound signals a missing brand record.
	ErrBrandNotFound = errors.New("brand not found")
	// ErrAllMethodsFailed signals that an all-methods upsert succeeded for none.
	ErrAllMethodsFailed = errors.New("insert failed for every search method")
	// ErrEmbeddingProviderError signals an embedding backend failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrSparseProviderError signals a sparse encoder failure after retries.
	ErrSparseProviderError = errors.New("sparse encoder error")
)

// UnknownMethodError wraps ErrUnknownMethod with the offending identifier.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownMethod.Error(), e.Method)
}

func (e *UnknownMethodError) Unwrap() error { return ErrUnknownMethod }
