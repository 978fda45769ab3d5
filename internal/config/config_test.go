package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dastctl/internal/domain/shared"
)

func TestScannerURL(t *testing.T) {
	t.Parallel()

	wi := WebInspectConfig{
		URL:     "https://wi.example.com",
		Servers: map[string]string{"large": "https://wi-large.example.com"},
	}

	tests := []struct {
		name    string
		cfg     WebInspectConfig
		size    string
		want    string
		wantErr bool
	}{
		{name: "no size uses default", cfg: wi, want: "https://wi.example.com"},
		{name: "size from servers", cfg: wi, size: "large", want: "https://wi-large.example.com"},
		{name: "unknown size", cfg: wi, size: "medium", wantErr: true},
		{name: "size without servers map", cfg: WebInspectConfig{URL: "https://wi.example.com"}, size: "medium", want: "https://wi.example.com"},
		{name: "nothing configured", cfg: WebInspectConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.cfg.ScannerURL(tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, shared.KindConfiguration, shared.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
