package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/rscodex/rscodex/internal/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderIsDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	a, err := e.EmbedBatch(context.Background(), []string{"fn main() {}"})
	require.NoError(t, err)
	b, err := e.EmbedBatch(context.Background(), []string{"fn main() {}"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a[0], Dimensions)
}

func TestStaticEmbedderDiffersByInput(t *testing.T) {
	e := NewStaticEmbedder()
	out, err := e.EmbedBatch(context.Background(), []string{"fn a() {}", "fn b() {}"})
	require.NoError(t, err)
	assert.NotEqual(t, out[0], out[1])
}

type flakyEmbedder struct {
	failures int
	calls    int
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient failure")
	}
	return make([][]float32, len(texts)), nil
}
func (f *flakyEmbedder) Dimensions() int   { return Dimensions }
func (f *flakyEmbedder) ModelName() string { return "flaky" }

func TestWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	inner := &flakyEmbedder{failures: 1}
	w := NewWithRetry(inner)
	_, err := w.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetrySurfacesEmbedErrorAfterSecondFailure(t *testing.T) {
	inner := &flakyEmbedder{failures: 2}
	w := NewWithRetry(inner)
	_, err := w.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, rerr.CodeEmbed, rerr.Code(err))
	assert.Equal(t, 2, inner.calls)
}

func TestBatchAccumulatorFillsToTarget(t *testing.T) {
	acc := NewBatchAccumulator(2)
	assert.False(t, acc.Add("k1", "t1"))
	assert.True(t, acc.Add("k2", "t2"))

	keys, texts := acc.Drain()
	assert.Equal(t, []string{"k1", "k2"}, keys)
	assert.Equal(t, []string{"t1", "t2"}, texts)
	assert.Equal(t, 0, acc.Len())
}

type countingEmbedder struct {
	StaticEmbedder
	calls int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedServesRepeatsWithoutReinvoking(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: *NewStaticEmbedder()}
	c := NewCached(inner, 10)

	first, err := c.EmbedBatch(context.Background(), []string{"fn a() {}", "fn b() {}"})
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	second, err := c.EmbedBatch(context.Background(), []string{"fn a() {}", "fn b() {}"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "full cache hit must not reach the inner embedder")
	assert.Equal(t, first, second)
}

func TestCachedEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: *NewStaticEmbedder()}
	c := NewCached(inner, 10)

	_, err := c.EmbedBatch(context.Background(), []string{"fn a() {}"})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"fn a() {}", "fn b() {}"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, inner.calls)
	assert.NotNil(t, out[0])
	assert.NotNil(t, out[1])
}
