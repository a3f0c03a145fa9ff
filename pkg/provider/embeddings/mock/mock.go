// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to feed controlled vectors without a live model and to verify
// which texts were submitted. Configure response fields before the first call;
// reading call records is safe once the code under test has returned.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedBatchFunc: func(_ context.Context, texts []string) ([][]float32, error) {
//	        return vectorsFor(texts), nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/dictumlabs/dictum/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the string passed to Embed.
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	// Ctx is the context passed to EmbedBatch.
	Ctx context.Context
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
// Zero values cause methods to return zero values and nil errors; set Err
// fields to inject failures.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedFunc, when set, handles Embed entirely. The call is still recorded.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedBatchFunc, when set, handles EmbedBatch entirely. The call is
	// still recorded. Use it when vectors must depend on the texts.
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch when EmbedBatchFunc is nil.
	// When nil, a slice of nil vectors matching len(texts) is returned.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records (read after test) ---

	// EmbedCalls records every invocation of Embed in order.
	EmbedCalls []EmbedCall

	// EmbedBatchCalls records every invocation of EmbedBatch in order.
	EmbedBatchCalls []EmbedBatchCall
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn := p.EmbedFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// EmbedBatch records the call and returns the configured result.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)

	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	fn := p.EmbedBatchFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}
