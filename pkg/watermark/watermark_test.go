package watermark

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func ts(s string) time.Time {
	t, err := time.Parse(Layout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "_state")
	store := NewFileStore(dir, zaptest.NewLogger(t))

	w, err := store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	assert.Nil(t, w, "first run has no watermark")

	require.NoError(t, store.Write(ctx, "fact_pago", New(ts("2024-03-01 10:00:05"))))

	data, err := os.ReadFile(filepath.Join(dir, "fact_pago.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"watermark": "2024-03-01 10:00:05"}`, string(data))

	w, err = store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "2024-03-01 10:00:05", w.String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFileStore_TargetsAreIndependent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, nil)

	require.NoError(t, store.Write(ctx, "fact_ventas_linea", New(ts("2024-01-01 00:00:00"))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fact_pago.json"), []byte("{not json"), 0o644))

	w, err := store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	assert.Nil(t, w, "malformed state is treated as absent")

	w, err = store.Read(ctx, "fact_ventas_linea")
	require.NoError(t, err)
	require.NotNil(t, w)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "fact_ventas_linea")

	require.NoError(t, store.Delete(ctx, "fact_ventas_linea"))
	require.NoError(t, store.Delete(ctx, "fact_ventas_linea"))
	w, err = store.Read(ctx, "fact_ventas_linea")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestFileStore_RejectsUnsafeTargets(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	err := store.Write(context.Background(), "../escape", New(time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target name")
}

func TestCompute(t *testing.T) {
	cols := []frame.Column{{Name: "updated_at"}, {Name: "created_at"}}

	tests := []struct {
		name string
		rows [][]any
		want string
	}{
		{
			name: "max of primary column",
			rows: [][]any{
				{ts("2024-01-02 00:00:00"), ts("2023-01-01 00:00:00")},
				{ts("2024-01-05 12:30:00"), nil},
				{nil, ts("2025-01-01 00:00:00")},
			},
			want: "2024-01-05 12:30:00",
		},
		{
			name: "fallback when primary is entirely null",
			rows: [][]any{
				{nil, ts("2023-01-01 00:00:00")},
				{nil, "2023-06-01 08:00:00"},
			},
			want: "2023-06-01 08:00:00",
		},
		{
			name: "sub-second precision is truncated",
			rows: [][]any{{time.Date(2024, 1, 1, 0, 0, 1, 999_000_000, time.UTC), nil}},
			want: "2024-01-01 00:00:01",
		},
		{
			name: "all null",
			rows: [][]any{{nil, nil}},
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frame.New(cols...)
			f.Rows = tt.rows
			got := Compute(f, "updated_at", "created_at")
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAdvance_IsMonotonic(t *testing.T) {
	w1 := New(ts("2024-01-01 00:00:00"))
	w0 := New(ts("2023-01-01 00:00:00"))
	w2 := New(ts("2024-06-01 00:00:00"))

	got, write := Advance(nil, &w1)
	assert.True(t, write)
	assert.Equal(t, w1, got)

	got, write = Advance(&w1, &w0)
	assert.False(t, write, "never moves backward")
	assert.Equal(t, w1, got)

	got, write = Advance(&w1, &w1)
	assert.False(t, write)
	assert.Equal(t, w1, got)

	got, write = Advance(&w1, &w2)
	assert.True(t, write)
	assert.Equal(t, w2, got)

	_, write = Advance(&w1, nil)
	assert.False(t, write)
	_, write = Advance(nil, nil)
	assert.False(t, write)
}

func TestParse(t *testing.T) {
	for _, in := range []string{"2024-03-01 10:00:05", "2024-03-01T10:00:05Z", "2024-03-01 10:00:05.123456"} {
		w, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, "2024-03-01 10:00:05", w.String())
	}
	_, err := Parse("yesterday")
	assert.Error(t, err)
}
