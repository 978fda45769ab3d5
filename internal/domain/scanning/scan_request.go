package scanning

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	regexp "github.com/wasilibs/go-re2"
)

// ErrInvalidScanRequest is returned when scan options fail validation.
var ErrInvalidScanRequest = errors.New("invalid scan request")

// Scan names end up as file names for exported results and issue files.
var scanNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("scanname", func(fl validator.FieldLevel) bool {
		return scanNameRe.MatchString(fl.Field().String())
	})
	return v
}

// ScanMode overrides the crawl/audit mode of the settings file.
type ScanMode string

const (
	ScanModeCrawl ScanMode = "crawl"
	ScanModeScan  ScanMode = "scan"
	ScanModeAll   ScanMode = "all"
)

// ScanScope overrides how far the crawler may leave the start URLs.
type ScanScope string

const (
	ScanScopeAll       ScanScope = "all"
	ScanScopeStrict    ScanScope = "strict"
	ScanScopeChildren  ScanScope = "children"
	ScanScopeAncestors ScanScope = "ancestors"
)

// ScanStart selects between a list-driven (url) and a workflow-driven (macro) scan.
type ScanStart string

const (
	ScanStartURL   ScanStart = "url"
	ScanStartMacro ScanStart = "macro"
)

// ScannerSize selects the scanner pool a scan is submitted to.
type ScannerSize string

const (
	ScannerSizeMedium ScannerSize = "medium"
	ScannerSizeLarge  ScannerSize = "large"
)

// ScanOptions is the raw, user-supplied description of a scan. It is turned
// into a ScanRequest by NewScanRequest.
type ScanOptions struct {
	ScanName       string   `validate:"required,scanname"`
	Settings       string   `validate:"required"`
	Size           string   `validate:"omitempty,oneof=medium large"`
	ScanMode       string   `validate:"omitempty,oneof=crawl scan all"`
	ScanScope      string   `validate:"omitempty,oneof=all strict children ancestors"`
	ScanStart      string   `validate:"omitempty,oneof=url macro"`
	StartURLs      []string `validate:"dive,required,url"`
	AllowedHosts   []string `validate:"dive,required"`
	Policy         string
	LoginMacro     string
	WorkflowMacros []string `validate:"dive,required"`

	UploadSettings string
	UploadPolicy   string
	UploadWebmacro string
}

// ConfigUploads names the local artifacts pushed to the scanner before submission.
// An empty name means the upload is skipped.
type ConfigUploads struct {
	Settings string
	Policy   string
	Webmacro string
}

// ScanRequest is a validated, immutable description of one scan.
type ScanRequest struct {
	scanName       string
	settings       string
	size           ScannerSize
	mode           ScanMode
	scope          ScanScope
	start          ScanStart
	startURLs      []string
	allowedHosts   []string
	policy         string
	loginMacro     string
	workflowMacros []string
	uploads        ConfigUploads
}

// NewScanRequest validates opts and builds a ScanRequest. Validation failures
// wrap ErrInvalidScanRequest.
func NewScanRequest(opts ScanOptions) (ScanRequest, error) {
	if err := validate.Struct(opts); err != nil {
		return ScanRequest{}, fmt.Errorf("%w: %v", ErrInvalidScanRequest, err)
	}

	hasMacro := opts.LoginMacro != "" || len(opts.WorkflowMacros) > 0
	if len(opts.StartURLs) == 0 && !hasMacro {
		return ScanRequest{}, fmt.Errorf("%w: a start url or a login/workflow macro is required", ErrInvalidScanRequest)
	}

	start := ScanStart(opts.ScanStart)
	switch {
	case start == ScanStartURL && len(opts.StartURLs) == 0:
		return ScanRequest{}, fmt.Errorf("%w: scan_start=url requires at least one start url", ErrInvalidScanRequest)
	case start == ScanStartMacro && !hasMacro:
		return ScanRequest{}, fmt.Errorf("%w: scan_start=macro requires a login or workflow macro", ErrInvalidScanRequest)
	case start == "" && len(opts.StartURLs) > 0:
		start = ScanStartURL
	case start == "":
		start = ScanStartMacro
	}

	allowed := slices.Clone(opts.AllowedHosts)
	if len(allowed) == 0 {
		var err error
		if allowed, err = hostsOf(opts.StartURLs); err != nil {
			return ScanRequest{}, err
		}
	}

	return ScanRequest{
		scanName:       opts.ScanName,
		settings:       opts.Settings,
		size:           ScannerSize(opts.Size),
		mode:           ScanMode(opts.ScanMode),
		scope:          ScanScope(opts.ScanScope),
		start:          start,
		startURLs:      slices.Clone(opts.StartURLs),
		allowedHosts:   allowed,
		policy:         strings.TrimSpace(opts.Policy),
		loginMacro:     opts.LoginMacro,
		workflowMacros: slices.Clone(opts.WorkflowMacros),
		uploads: ConfigUploads{
			Settings: opts.UploadSettings,
			Policy:   opts.UploadPolicy,
			Webmacro: opts.UploadWebmacro,
		},
	}, nil
}

// hostsOf returns the distinct hosts (with port) of the given URLs, in order.
func hostsOf(urls []string) ([]string, error) {
	hosts := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: start url %q: %v", ErrInvalidScanRequest, raw, err)
		}
		if u.Host != "" && !slices.Contains(hosts, u.Host) {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts, nil
}

func (r ScanRequest) ScanName() string         { return r.scanName }
func (r ScanRequest) Settings() string         { return r.settings }
func (r ScanRequest) Size() ScannerSize        { return r.size }
func (r ScanRequest) Mode() ScanMode           { return r.mode }
func (r ScanRequest) Scope() ScanScope         { return r.scope }
func (r ScanRequest) Start() ScanStart         { return r.start }
func (r ScanRequest) StartURLs() []string      { return slices.Clone(r.startURLs) }
func (r ScanRequest) AllowedHosts() []string   { return slices.Clone(r.allowedHosts) }
func (r ScanRequest) LoginMacro() string       { return r.loginMacro }
func (r ScanRequest) WorkflowMacros() []string { return slices.Clone(r.workflowMacros) }
func (r ScanRequest) Uploads() ConfigUploads   { return r.uploads }

// PolicyName returns the raw policy string the scan was requested with.
// It may be empty, in which case no policy override is sent.
func (r ScanRequest) PolicyName() string { return r.policy }

// ScanSubmission is what is sent to the scanner to create a job.
type ScanSubmission struct {
	Request ScanRequest
	Policy  PolicyReference
}
