package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/edabox/config"
)

const testID = "ba7816bf8f01cfea"

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		BackendMemory: func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		BackendFile: func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			require.NoError(t, err)
			return b
		},
		BackendRedis: func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			return NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
		},
		BackendSQLite: func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "memory.db"))
			require.NoError(t, err)
			return b
		},
	}
}

func TestDatasetID(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea", DatasetID([]byte("abc")))
	assert.Equal(t, "e3b0c44298fc1c14", DatasetID(nil))
	assert.True(t, ValidDatasetID(DatasetID([]byte("x"))))

	for _, id := range []string{"", "BA7816BF8F01CFEA", "ba7816bf8f01cfe", "../../etc/passwd", "ba7816bf8f01cfeaa"} {
		assert.False(t, ValidDatasetID(id), id)
	}
}

func TestStore(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := time.Unix(1700000000, 0)
			store := NewStore(zaptest.NewLogger(t), newBackend(t),
				WithMaxTurns(3),
				WithCodePreviewLen(5),
				WithClock(func() time.Time { return clock }),
			)
			t.Cleanup(func() { store.Close() })

			t.Run("empty dataset", func(t *testing.T) {
				conclusions, err := store.Conclusions(ctx, testID)
				require.NoError(t, err)
				assert.Empty(t, conclusions)

				turns, err := store.RecentTurns(ctx, testID, 5)
				require.NoError(t, err)
				assert.Empty(t, turns)
			})

			t.Run("conclusions", func(t *testing.T) {
				require.NoError(t, store.AppendConclusion(ctx, testID, "  mean age is 30  "))
				require.NoError(t, store.AppendConclusion(ctx, testID, "   "))
				require.NoError(t, store.AppendConclusions(ctx, testID, []string{"a", "", "b"}))

				conclusions, err := store.Conclusions(ctx, testID)
				require.NoError(t, err)
				assert.Equal(t, []string{"mean age is 30", "a", "b"}, conclusions)

				require.NoError(t, store.ClearConclusions(ctx, testID))
				conclusions, err = store.Conclusions(ctx, testID)
				require.NoError(t, err)
				assert.Empty(t, conclusions)
			})

			t.Run("turns", func(t *testing.T) {
				for i := 1; i <= 4; i++ {
					require.NoError(t, store.AppendTurn(ctx, testID,
						fmt.Sprintf(" q%d ", i), fmt.Sprintf("r%d\n", i), "print(df.head())"))
				}

				turns, err := store.RecentTurns(ctx, testID, 10)
				require.NoError(t, err)
				require.Len(t, turns, 3)
				assert.Equal(t, "q2", turns[0].Question)
				assert.Equal(t, "r4", turns[2].ResultText)
				assert.Equal(t, "print", turns[2].CodePreview)
				assert.Equal(t, clock, turns[0].Time())

				turns, err = store.RecentTurns(ctx, testID, 2)
				require.NoError(t, err)
				require.Len(t, turns, 2)
				assert.Equal(t, "q3", turns[0].Question)

				turns, err = store.RecentTurns(ctx, testID, 0)
				require.NoError(t, err)
				assert.Empty(t, turns)
			})

			t.Run("summaries", func(t *testing.T) {
				require.NoError(t, store.SetSummary(ctx, testID, "executive", " short "))
				summaries, err := store.Summaries(ctx, testID)
				require.NoError(t, err)
				assert.Equal(t, map[string]string{"executive": "short"}, summaries)
			})

			t.Run("datasets are isolated", func(t *testing.T) {
				other := DatasetID([]byte("other"))
				require.NoError(t, store.AppendConclusion(ctx, other, "only here"))

				conclusions, err := store.Conclusions(ctx, testID)
				require.NoError(t, err)
				assert.NotContains(t, conclusions, "only here")
			})

			t.Run("concurrent appends", func(t *testing.T) {
				id := DatasetID([]byte(t.Name()))
				var g errgroup.Group
				for i := 0; i < 20; i++ {
					g.Go(func() error {
						return store.AppendConclusion(ctx, id, fmt.Sprintf("c%d", i))
					})
				}
				require.NoError(t, g.Wait())

				conclusions, err := store.Conclusions(ctx, id)
				require.NoError(t, err)
				assert.Len(t, conclusions, 20)
			})
		})
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zaptest.NewLogger(t), NewMemoryBackend())

	err := store.AppendConclusion(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrInvalidDatasetID)
	_, err = store.RecentTurns(ctx, "../x", 1)
	assert.ErrorIs(t, err, ErrInvalidDatasetID)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.Conclusions(ctx, testID)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.AppendTurn(ctx, testID, "q", "a", ""), ErrStoreClosed)
}

func TestStore_CodePreviewCountsCharacters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zaptest.NewLogger(t), NewMemoryBackend(), WithCodePreviewLen(3))

	require.NoError(t, store.AppendTurn(ctx, testID, "q", "a", "ãéîõ"))
	turns, err := store.RecentTurns(ctx, testID, 1)
	require.NoError(t, err)
	assert.Equal(t, "ãéî", turns[0].CodePreview)
}

func TestFileBackend_RecordLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	store := NewStore(zaptest.NewLogger(t), b, WithClock(func() time.Time { return time.Unix(42, 0) }))

	ctx := context.Background()
	require.NoError(t, store.AppendConclusion(ctx, testID, "insight"))
	require.NoError(t, store.AppendTurn(ctx, testID, "question", "answer", "code"))

	data, err := os.ReadFile(filepath.Join(dir, testID+".json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{"insight"}, raw["conclusions"])
	assert.Equal(t, map[string]any{}, raw["summaries"])
	history := raw["chat_history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, map[string]any{
		"ts":           float64(42),
		"question":     "question",
		"result_text":  "answer",
		"code_preview": "code",
	}, history[0])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestFileBackend_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, testID+".json"), []byte("{"), 0o644))
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	_, err = NewStore(zaptest.NewLogger(t), b).Conclusions(context.Background(), testID)
	assert.ErrorContains(t, err, "failed to decode memory record")
}

func TestRedisBackend_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewStore(zaptest.NewLogger(t),
		NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "edabox:"))

	require.NoError(t, store.AppendConclusion(context.Background(), testID, "x"))
	assert.True(t, mr.Exists("edabox:"+testID))
}

func TestNewFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: BackendMemory},
		{backend: BackendFile},
		{backend: BackendRedis},
		{backend: BackendSQLite},
		{backend: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Memory.Backend = tt.backend
			cfg.Memory.Dir = filepath.Join(dir, "files")
			cfg.Memory.SQLitePath = filepath.Join(dir, "db", tt.backend+".db")
			cfg.Memory.Redis.Addr = mr.Addr()
			cfg.Memory.Redis.KeyPrefix = "cfg:"

			store, err := NewFromConfig(zaptest.NewLogger(t), cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.NoError(t, store.AppendConclusion(context.Background(), testID, "ok"))
		})
	}
}
