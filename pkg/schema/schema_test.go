package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProber struct{}

func (failingProber) ColumnsOf(context.Context, string, string) ([]string, error) {
	return nil, errors.New("permission denied for information_schema")
}

func TestColumnSet(t *testing.T) {
	cs := NewColumnSet("id", "created_at", "id", "updated_at")
	assert.Equal(t, []string{"id", "created_at", "updated_at"}, cs.Names())
	assert.True(t, cs.Has("created_at"))
	assert.False(t, cs.Has("deleted_at"))
	assert.Equal(t, 3, cs.Len())

	var empty *ColumnSet
	assert.False(t, empty.Has("id"))
	assert.Nil(t, empty.Names())
}

func TestLocate(t *testing.T) {
	prober := Static{
		"staging.oro_sale_quote": {"id", "po_number"},
		"public.oro_sale_quote":  {"id", "customer_id", "created_at"},
		"public.oro_order":       {"id"},
	}
	ctx := context.Background()

	t.Run("first schema holding the table wins", func(t *testing.T) {
		loc, err := Locate(ctx, prober, []string{"public", "staging"}, "oro_sale_quote")
		require.NoError(t, err)
		assert.Equal(t, "public", loc.Schema)
		assert.Equal(t, "public.oro_sale_quote", loc.Qualified())
		assert.True(t, loc.Columns.Has("customer_id"))
	})

	t.Run("missing table is not an error", func(t *testing.T) {
		loc, err := Locate(ctx, prober, []string{"public"}, "oro_sale_quote_prod_offer")
		require.NoError(t, err)
		assert.False(t, loc.Exists())
	})

	t.Run("metadata failure is a query error", func(t *testing.T) {
		_, err := Locate(ctx, failingProber{}, []string{"public"}, "oro_order")
		require.Error(t, err)
		assert.True(t, dwerrors.IsType(err, dwerrors.ErrorTypeQuery))
		assert.False(t, dwerrors.IsFatal(err))
	})

	t.Run("unsafe identifiers are rejected", func(t *testing.T) {
		_, err := Locate(ctx, prober, []string{"public"}, "oro_order; drop table x")
		require.Error(t, err)
		assert.True(t, dwerrors.IsFatal(err))

		_, err = Locate(ctx, prober, []string{"pub lic"}, "oro_order")
		require.Error(t, err)
	})
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain", "oro_order_line_item_granular", true},
		{"leading underscore", "_state", true},
		{"digits", "t1", true},
		{"leading digit", "1t", false},
		{"quote", `a"b`, false},
		{"space", "a b", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.in))
		})
	}
}
