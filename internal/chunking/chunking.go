// Package chunking coalesces adjacent utterances that continue one thought.
//
// Speaker grouping alone splits a remark whenever the engine briefly flips
// the speaker tag back and forth or the reviewer pauses mid-sentence. As an
// optional pass between grouping and classification, the chunker embeds every
// segment in one batch and merges a segment into the chunk before it when the
// speaker matches and the embedding stays cosine-similar to the chunk's
// centroid. Merged chunks keep the first segment's start time and the last
// segment's end time.
package chunking

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dictumlabs/dictum/internal/segment"
	"github.com/dictumlabs/dictum/pkg/provider/embeddings"
)

// DefaultThreshold is the minimum cosine similarity for a segment to join
// the preceding chunk.
const DefaultThreshold = 0.80

// Option configures a Chunker.
type Option func(*Chunker)

// WithThreshold overrides the merge similarity threshold. Default: 0.80.
func WithThreshold(threshold float64) Option {
	return func(c *Chunker) { c.threshold = threshold }
}

// Chunker merges cosine-similar neighbouring segments. Safe for concurrent
// use when the provider is.
type Chunker struct {
	provider  embeddings.Provider
	threshold float64
}

// New returns a Chunker backed by the given embeddings provider.
func New(provider embeddings.Provider, opts ...Option) *Chunker {
	c := &Chunker{
		provider:  provider,
		threshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Coalesce returns a new segment list in which adjacent same-speaker segments
// whose embeddings clear the threshold are merged into one utterance. Order
// is preserved; fewer than two segments come back unchanged without any
// provider call.
func (c *Chunker) Coalesce(ctx context.Context, segs []segment.SpeakerSegment) ([]segment.SpeakerSegment, error) {
	if len(segs) < 2 {
		return append([]segment.SpeakerSegment(nil), segs...), nil
	}

	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	vecs, err := c.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("chunking: embed: %w", err)
	}
	if len(vecs) != len(segs) {
		return nil, fmt.Errorf("chunking: expected %d embeddings, got %d", len(segs), len(vecs))
	}

	out := []segment.SpeakerSegment{segs[0]}
	centroid := newCentroid(vecs[0])

	for i := 1; i < len(segs); i++ {
		cur := &out[len(out)-1]
		if segs[i].SpeakerTag == cur.SpeakerTag && cosine(centroid.mean(), vecs[i]) >= c.threshold {
			cur.Text = cur.Text + " " + strings.TrimSpace(segs[i].Text)
			cur.End = segs[i].End
			centroid.add(vecs[i])
			continue
		}
		out = append(out, segs[i])
		centroid = newCentroid(vecs[i])
	}
	return out, nil
}

// centroid is a running mean over the vectors merged into the current chunk.
type centroid struct {
	sum []float64
	n   int
}

func newCentroid(vec []float32) *centroid {
	c := &centroid{sum: make([]float64, len(vec))}
	c.add(vec)
	return c
}

func (c *centroid) add(vec []float32) {
	for i := 0; i < len(vec) && i < len(c.sum); i++ {
		c.sum[i] += float64(vec[i])
	}
	c.n++
}

func (c *centroid) mean() []float64 {
	if c.n == 0 {
		return c.sum
	}
	out := make([]float64, len(c.sum))
	for i, v := range c.sum {
		out[i] = v / float64(c.n)
	}
	return out
}

// cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude so degenerate vectors never merge.
func cosine(a []float64, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * float64(b[i])
		na += a[i] * a[i]
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
