package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() ScanOptions {
	return ScanOptions{
		ScanName:  "nightly-1",
		Settings:  "Default",
		StartURLs: []string{"https://app.example.com/login", "https://app.example.com:8443/api", "https://app.example.com/home"},
		Policy:    " QuickScan ",
	}
}

func TestNewScanRequestDefaults(t *testing.T) {
	req, err := NewScanRequest(validOptions())
	require.NoError(t, err)

	assert.Equal(t, "nightly-1", req.ScanName())
	assert.Equal(t, "Default", req.Settings())
	assert.Equal(t, ScanStartURL, req.Start())
	assert.Equal(t, "QuickScan", req.PolicyName())
	assert.Equal(t, []string{"app.example.com", "app.example.com:8443"}, req.AllowedHosts())
}

func TestNewScanRequestIsImmutable(t *testing.T) {
	opts := validOptions()
	req, err := NewScanRequest(opts)
	require.NoError(t, err)

	opts.StartURLs[0] = "https://evil.example.com"
	urls := req.StartURLs()
	urls[1] = "https://other.example.com"

	assert.Equal(t, "https://app.example.com/login", req.StartURLs()[0])
	assert.Equal(t, "https://app.example.com:8443/api", req.StartURLs()[1])
}

func TestNewScanRequestMacroDriven(t *testing.T) {
	req, err := NewScanRequest(ScanOptions{
		ScanName:       "macro-only",
		Settings:       "Default",
		WorkflowMacros: []string{"checkout"},
		AllowedHosts:   []string{"shop.example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, ScanStartMacro, req.Start())
	assert.Equal(t, []string{"checkout"}, req.WorkflowMacros())
	assert.Equal(t, []string{"shop.example.com"}, req.AllowedHosts())
}

func TestNewScanRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScanOptions)
	}{
		{name: "missing scan name", mutate: func(o *ScanOptions) { o.ScanName = "" }},
		{name: "scan name with path separator", mutate: func(o *ScanOptions) { o.ScanName = "../etc/passwd" }},
		{name: "missing settings", mutate: func(o *ScanOptions) { o.Settings = "" }},
		{name: "bad scan mode", mutate: func(o *ScanOptions) { o.ScanMode = "audit" }},
		{name: "bad scope", mutate: func(o *ScanOptions) { o.ScanScope = "everything" }},
		{name: "bad size", mutate: func(o *ScanOptions) { o.Size = "huge" }},
		{name: "bad start url", mutate: func(o *ScanOptions) { o.StartURLs = []string{"not a url"} }},
		{name: "no url and no macro", mutate: func(o *ScanOptions) { o.StartURLs = nil }},
		{name: "url start without urls", mutate: func(o *ScanOptions) {
			o.StartURLs = nil
			o.LoginMacro = "login"
			o.ScanStart = "url"
		}},
		{name: "macro start without macro", mutate: func(o *ScanOptions) { o.ScanStart = "macro" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)

			_, err := NewScanRequest(opts)
			require.ErrorIs(t, err, ErrInvalidScanRequest)
		})
	}
}

func TestNewScanRequestCarriesUploads(t *testing.T) {
	opts := validOptions()
	opts.UploadSettings = "team-settings"
	opts.UploadPolicy = "xss"
	opts.UploadWebmacro = "login"

	req, err := NewScanRequest(opts)
	require.NoError(t, err)
	assert.Equal(t, ConfigUploads{Settings: "team-settings", Policy: "xss", Webmacro: "login"}, req.Uploads())
}
