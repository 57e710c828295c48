package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyIndex is returned when an index is built from nothing or
	// searched before any successful ingestion.
	ErrEmptyIndex = errors.New("vector index is empty")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)

// IngestionError reports a bad or empty corpus. It halts only the ingestion run.
type IngestionError struct {
	Dir    string
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingestion of %q failed: %s", e.Dir, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IndexIncompatibleError means the persisted index was built in a different
// embedding space than the running embedder produces.
type IndexIncompatibleError struct {
	WantModel string
	GotModel  string
	WantDim   int
	GotDim    int
}

func (e *IndexIncompatibleError) Error() string {
	return fmt.Sprintf("index built with %s (dim %d) cannot be queried with %s (dim %d)",
		e.GotModel, e.GotDim, e.WantModel, e.WantDim)
}

// GenerationError wraps any failure of the generation model.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsIngestion reports whether err is an IngestionError.
func IsIngestion(err error) bool {
	var ie *IngestionError
	return errors.As(err, &ie)
}

// IsIndexIncompatible reports whether err is an IndexIncompatibleError.
func IsIndexIncompatible(err error) bool {
	var ie *IndexIncompatibleError
	return errors.As(err, &ie)
}

// IsGeneration reports whether err is a GenerationError.
func IsGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
