package caption

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryStub struct {
	reg ModelRegistry
	err error
}

func (s *registryStub) FetchModelRegistry(context.Context) (ModelRegistry, error) {
	return s.reg, s.err
}

func TestLatencyFor(t *testing.T) {
	assert.Equal(t, "This usually takes less than 5 seconds", LatencyFor("blip").Label)
	assert.Equal(t, "This can take up to 10 seconds", LatencyFor("gemini").Label)
	assert.Equal(t, "This can take up to 10 seconds", LatencyFor(" Gemini ").Label)
	assert.Greater(t, LatencyFor("gemini").Typical, LatencyFor("blip").Typical)
	assert.Equal(t, LatencyFor("blip"), LatencyFor("something-new"))
}

func TestModelTypeDecoding(t *testing.T) {
	var ms []ModelDescriptor
	err := json.Unmarshal([]byte(`[{"id":"a","type":"api"},{"id":"b","type":"local"},{"id":"c","type":"remote"}]`), &ms)
	require.NoError(t, err)
	assert.Equal(t, ModelRemote, ms[0].Type)
	assert.Equal(t, ModelLocal, ms[1].Type)
	assert.Equal(t, ModelRemote, ms[2].Type)
}

func TestModelCacheRefresh(t *testing.T) {
	src := &registryStub{reg: ModelRegistry{
		Models:         []ModelDescriptor{{ID: "blip", Type: ModelLocal}, {ID: "gemini", Type: ModelRemote}},
		CurrentModelID: "gemini",
	}}
	c := NewModelCache(src)

	_, ok := c.CurrentModelID()
	assert.False(t, ok)
	assert.True(t, c.FetchedAt().IsZero())

	reg, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, reg.Models, 2)
	id, ok := c.CurrentModelID()
	assert.True(t, ok)
	assert.Equal(t, "gemini", id)
	assert.Equal(t, "This can take up to 10 seconds", c.Latency().Label)
	fetched := c.FetchedAt()
	assert.WithinDuration(t, time.Now(), fetched, time.Second)

	// неудачное обновление оставляет прежний реестр
	src.err = errors.New("down")
	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "gemini", cur.ID)
	assert.Equal(t, fetched, c.FetchedAt())
}

func TestModelCacheLatencyFallsBackToType(t *testing.T) {
	c := NewModelCache(&registryStub{reg: ModelRegistry{
		Models:         []ModelDescriptor{{ID: "llava", Type: ModelRemote}},
		CurrentModelID: "llava",
	}})
	assert.Equal(t, "This usually takes less than 5 seconds", c.Latency().Label)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "This can take up to 10 seconds", c.Latency().Label)
}

func TestTimestampLayouts(t *testing.T) {
	cases := map[string]time.Time{
		`"2025-01-02T03:04:05Z"`:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		`"2025-01-02T03:04:05.5+02:00"`: time.Date(2025, 1, 2, 1, 4, 5, 500000000, time.UTC),
		`"2025-01-02T03:04:05.123456"`:  time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC),
		`"2025-01-02T03:04:05"`:         time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		`"2025-01-02 03:04:05"`:         time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		`"2025-01-02"`:                  time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(in), &ts), in)
		assert.True(t, want.Equal(ts.Time), "%s: got %s", in, ts.Time)
	}

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`""`), &ts))
	assert.True(t, ts.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}
