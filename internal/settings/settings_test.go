package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliacert/extract-cli/internal/model"
)

func TestFromValues_Defaults(t *testing.T) {
	s := FromValues(nil)
	assert.True(t, s.AIEnabled)
	assert.Equal(t, 0.10, s.MaxCostPerDocument)
	assert.Equal(t, 0.80, s.TierThresholds[model.TierTemplate])
}

func TestFromValues_Overrides(t *testing.T) {
	s := FromValues(map[string]string{
		KeyAIEnabled:          "false",
		KeyTier1Threshold:     "0.9",
		KeyTier3Threshold:     "0.5",
		KeyMaxCostPerDocument: "0.25",
		KeyDocTypeThresholds:  `{"GAS_SAFETY": 0.85, "EICR": 0.7}`,
		KeyCustomPatterns:     `{"GAS_SAFETY": [{"field": "certificate_number", "pattern": "GSR-\\d+"}]}`,
	})

	assert.False(t, s.AIEnabled)
	assert.Equal(t, 0.9, s.TierThresholds[model.TierQR])
	assert.Equal(t, 0.9, s.TierThresholds[model.TierTemplate])
	assert.Equal(t, 0.5, s.TierThresholds[model.TierVision])
	assert.Equal(t, 0.25, s.MaxCostPerDocument)
	assert.Equal(t, 0.85, s.DocTypeThresholds[model.CertTypeGasSafety])

	require.Len(t, s.CustomPatterns[model.CertTypeGasSafety], 1)
	assert.Equal(t, "certificate_number", s.CustomPatterns[model.CertTypeGasSafety][0].Field)
}

func TestFromValues_MalformedJSONIgnored(t *testing.T) {
	s := FromValues(map[string]string{
		KeyDocTypeThresholds: `{not json`,
		KeyCustomPatterns:    `[]`,
		KeyTier2Threshold:    "not-a-number",
	})
	assert.Empty(t, s.DocTypeThresholds)
	assert.Empty(t, s.CustomPatterns)
	assert.Equal(t, Default().TierThresholds[model.TierAIText], s.TierThresholds[model.TierAIText])
}

func TestEffectiveThreshold(t *testing.T) {
	s := Default()
	s.DocTypeThresholds[model.CertTypeGasSafety] = 0.85

	// Type override wins at every tier.
	assert.Equal(t, 0.85, s.EffectiveThreshold(model.TierTemplate, model.CertTypeGasSafety))
	assert.Equal(t, 0.85, s.EffectiveThreshold(model.TierVision, model.CertTypeGasSafety))

	// No override: per-tier threshold applies.
	assert.Equal(t, 0.80, s.EffectiveThreshold(model.TierTemplate, model.CertTypeEICR))
	assert.Equal(t, 0.65, s.EffectiveThreshold(model.TierVision, model.CertTypeEICR))
}

type fakeStore struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeStore) GetSettings(_ context.Context) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func TestCache_TTL(t *testing.T) {
	fs := &fakeStore{values: map[string]string{KeyMaxCostPerDocument: "0.5"}}
	c := NewCache(fs, 60*time.Second)

	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	c.Invalidate()

	s := c.Snapshot(context.Background())
	assert.Equal(t, 0.5, s.MaxCostPerDocument)
	assert.Equal(t, 1, fs.calls)

	// Within TTL: served from cache.
	_ = c.Snapshot(context.Background())
	assert.Equal(t, 1, fs.calls)

	// Past TTL: refreshed.
	now = now.Add(61 * time.Second)
	fs.values[KeyMaxCostPerDocument] = "0.75"
	s = c.Snapshot(context.Background())
	assert.Equal(t, 0.75, s.MaxCostPerDocument)
	assert.Equal(t, 2, fs.calls)
}

func TestCache_StoreFailureServesStale(t *testing.T) {
	fs := &fakeStore{values: map[string]string{KeyMaxCostPerDocument: "0.5"}}
	c := NewCache(fs, 60*time.Second)

	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	c.Invalidate()

	s := c.Snapshot(context.Background())
	require.Equal(t, 0.5, s.MaxCostPerDocument)

	now = now.Add(61 * time.Second)
	fs.err = errors.New("db down")
	s = c.Snapshot(context.Background())
	assert.Equal(t, 0.5, s.MaxCostPerDocument, "stale snapshot should be served on store failure")
}

// flakyStore fails every other fetch, driving Snapshot through both the
// refresh and the serve-stale paths under concurrency.
type flakyStore struct {
	n atomic.Int64
}

func (f *flakyStore) GetSettings(context.Context) (map[string]string, error) {
	if f.n.Add(1)%2 == 0 {
		return nil, errors.New("db down")
	}
	return map[string]string{KeyMaxCostPerDocument: "0.5"}, nil
}

func (f *flakyStore) SetSetting(context.Context, string, string) error { return nil }

func TestCache_ConcurrentSnapshotAndInvalidate(t *testing.T) {
	c := NewCache(&flakyStore{}, time.Nanosecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.Snapshot(context.Background())
				c.Invalidate()
			}
		}()
	}
	wg.Wait()
}

func TestCache_NilStoreServesDefaults(t *testing.T) {
	c := NewCache(nil, time.Second)
	s := c.Snapshot(context.Background())
	assert.Equal(t, Default().MaxCostPerDocument, s.MaxCostPerDocument)
}
