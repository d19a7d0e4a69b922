package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
		errorMsg  string
	}{
		{name: "disabled", config: Config{}},
		{name: "explicit none", config: Config{Type: "none"}},
		{name: "s3 with bucket", config: Config{Type: "s3", Bucket: "dw"}},
		{name: "gcs without bucket", config: Config{Type: "GCS"}, wantError: true, errorMsg: "bucket is required"},
		{name: "unknown type", config: Config{Type: "ftp", Bucket: "x"}, wantError: true, errorMsg: "unsupported publish type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "dw/parquet/dim_cliente/part-00000.parquet",
		ObjectKey("/dw/", "parquet", "dim_cliente", "part-00000.parquet"))
	assert.Equal(t, "csv/dim_cliente.csv", ObjectKey("", "csv", "dim_cliente.csv"))
}
