// Package scanning drives a single remote scan through its lifecycle: policy
// resolution, configuration uploads, submission, polling and export.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// State is a step of the orchestrator's state machine.
type State string

const (
	StateInitializing    State = "initializing"
	StatePolicyResolving State = "policy_resolving"
	StateConfigUploading State = "config_uploading"
	StateSubmitted       State = "submitted"
	StatePolling         State = "polling"
	StateExporting       State = "exporting"
	StateFailed          State = "failed"
	StateDone            State = "done"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

// Config tunes an Orchestrator.
type Config struct {
	// PollInterval is the delay between two status requests.
	PollInterval time.Duration
	// NotifyTimeout bounds delivery of scan_end once the run's context is done.
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = defaultNotifyTimeout
	}
	return c
}

// Result describes what a run did, including on failure paths.
type Result struct {
	RunID         uuid.UUID
	JobID         string
	Policy        scanning.PolicyReference
	Status        scanning.ScanStatus
	Transitions   []scanning.StatusTransition
	States        []State
	Exports       []string
	IssuesWritten int
	Outcome       scanning.Outcome
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithRunIDGenerator overrides how run ids are minted.
func WithRunIDGenerator(gen func() uuid.UUID) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// WithMetrics records run metrics.
func WithMetrics(m RunMetrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// Orchestrator runs scans against a RemoteJobClient. It holds no per-run
// state, so concurrent calls to Run are independent.
type Orchestrator struct {
	client   scanning.RemoteJobClient
	notifier scanning.LifecycleNotifier
	issues   scanning.IssueSink
	cfg      Config

	now      func() time.Time
	newRunID func() uuid.UUID

	logger  *logger.Logger
	metrics RunMetrics
	tracer  trace.Tracer
}

// NewOrchestrator creates an Orchestrator with the given collaborators.
func NewOrchestrator(
	client scanning.RemoteJobClient,
	notifier scanning.LifecycleNotifier,
	issues scanning.IssueSink,
	cfg Config,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		notifier: notifier,
		issues:   issues,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newRunID: uuid.New,
		logger:   logger.With("component", "scan_orchestrator"),
		metrics:  noopMetrics{},
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the mutable state of a single invocation of Run.
type run struct {
	id     uuid.UUID
	req    scanning.ScanRequest
	job    *scanning.ScanJob
	result *Result
	logr   *logger.LoggerContext
	span   trace.Span
}

func (r *run) enter(ctx context.Context, s State) {
	r.result.States = append(r.result.States, s)
	r.span.AddEvent("state_entered", trace.WithAttributes(attribute.String("state", string(s))))
	r.logr.Debug(ctx, "Entering state", "state", s)
}

// Run drives req to completion. The returned Result is never nil. Errors are
// classified with the shared error kinds; a scan that reached a non-success
// terminal status returns a RemoteJobFailure wrapping *scanning.JobFailureError.
// Once scan_start has been delivered, scan_end is delivered before Run
// returns, including on cancellation.
func (o *Orchestrator) Run(ctx context.Context, req scanning.ScanRequest) (*Result, error) {
	r := &run{id: o.newRunID(), req: req, result: &Result{Outcome: scanning.OutcomeAborted}}
	r.result.RunID = r.id

	ctx, r.span = o.tracer.Start(ctx, "scan_orchestrator.run",
		trace.WithAttributes(
			attribute.String("run_id", r.id.String()),
			attribute.String("scan_name", req.ScanName()),
			attribute.String("policy", req.PolicyName()),
		))
	defer r.span.End()

	r.logr = logger.NewLoggerContext(o.logger.With("run_id", r.id.String(), "scan_name", req.ScanName()))

	startedAt := o.now()
	defer func() {
		o.metrics.IncRuns(ctx, r.result.Outcome)
		o.metrics.ObserveRunDuration(ctx, o.now().Sub(startedAt))
	}()

	r.enter(ctx, StateInitializing)
	r.logr.Info(ctx, "Starting scan run")

	r.enter(ctx, StatePolicyResolving)
	policy, err := o.resolvePolicy(ctx, req)
	if err != nil {
		return r.result, o.fail(ctx, r, "failed to resolve policy", err)
	}
	r.result.Policy = policy
	r.logr.Add("policy_ref", policy.String())

	r.enter(ctx, StateConfigUploading)
	o.uploadConfig(ctx, r, policy)

	jobID, err := o.client.CreateJob(ctx, scanning.ScanSubmission{Request: req, Policy: policy})
	if err != nil {
		return r.result, o.fail(ctx, r, "failed to create scan", classify("create_job", err, shared.KindTransport))
	}
	r.enter(ctx, StateSubmitted)
	r.job = scanning.NewScanJob(jobID, o.now())
	r.result.JobID = jobID
	r.logr.Add("scan_id", jobID)
	r.span.SetAttributes(attribute.String("scan_id", jobID))
	r.logr.Info(ctx, "Scan submitted")

	o.notifier.Notify(ctx, scanning.NewScanStartEvent(r.id, req, r.job, o.now()))
	defer o.notifyEnd(ctx, r)

	r.enter(ctx, StatePolling)
	status, err := o.poll(ctx, r)
	r.result.Status = r.job.Status()
	r.result.Transitions = r.job.Transitions()
	if err != nil {
		if ctx.Err() != nil {
			r.result.Outcome = scanning.OutcomeCancelled
		}
		return r.result, o.fail(ctx, r, "failed while waiting for scan", err)
	}

	o.logScanLog(ctx, r)

	if !status.IsSuccess() {
		r.enter(ctx, StateFailed)
		r.result.Outcome = scanning.OutcomeFailed
		jobErr := &scanning.JobFailureError{JobID: jobID, Status: status}
		return r.result, o.fail(ctx, r, "scan did not complete", shared.RemoteJobFailure("poll_status", jobErr))
	}

	r.enter(ctx, StateExporting)
	if err := o.export(ctx, r, policy); err != nil {
		return r.result, o.fail(ctx, r, "failed to export results", err)
	}

	r.enter(ctx, StateDone)
	r.result.Outcome = scanning.OutcomeSucceeded
	r.span.SetStatus(codes.Ok, "scan_completed")
	r.logr.Info(ctx, "Scan run completed",
		"exports", len(r.result.Exports),
		"issues_written", r.result.IssuesWritten,
	)
	return r.result, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, msg string, err error) error {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, msg)
	r.logr.Error(ctx, msg, "error", err, "outcome", r.result.Outcome)
	return err
}

// notifyEnd delivers scan_end. A done run context is replaced with a detached
// one bounded by NotifyTimeout.
func (o *Orchestrator) notifyEnd(ctx context.Context, r *run) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
		defer cancel()
	}
	o.notifier.Notify(ctx, scanning.NewScanEndEvent(r.id, r.req, r.job, r.result.Outcome, o.now()))
}

// resolvePolicy turns the requested policy name into a reference the scanner
// can use. Builtin names are matched case-insensitively and must still exist
// on the server; anything else is uploaded as a custom policy and looked up by
// name exactly once.
func (o *Orchestrator) resolvePolicy(ctx context.Context, req scanning.ScanRequest) (scanning.PolicyReference, error) {
	name := req.PolicyName()
	if name == "" {
		return scanning.PolicyReference{}, nil
	}

	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.resolve_policy",
		trace.WithAttributes(attribute.String("policy", name)))
	defer span.End()

	builtins, err := o.client.ListBuiltinPolicies(ctx)
	if err != nil {
		span.RecordError(err)
		return scanning.PolicyReference{}, classify("list_builtin_policies", err, shared.KindTransport)
	}

	id, found, err := scanning.NewPolicyCatalog(builtins).Lookup(name)
	if err != nil {
		span.RecordError(err)
		return scanning.PolicyReference{}, shared.ConfigurationError("resolve_policy", err)
	}

	if found {
		span.AddEvent("builtin_policy_matched", trace.WithAttributes(attribute.String("policy_id", id)))
		exists, err := o.client.PolicyExists(ctx, id)
		if err != nil {
			span.RecordError(err)
			return scanning.PolicyReference{}, classify("policy_exists", err, shared.KindTransport)
		}
		if !exists {
			err := fmt.Errorf("%w: builtin policy %q (id %s) is not present on the scanner", scanning.ErrPolicyNotFound, name, id)
			span.RecordError(err)
			return scanning.PolicyReference{}, shared.ConfigurationError("policy_exists", err)
		}
		return scanning.BuiltinPolicy(id, name), nil
	}

	span.AddEvent("uploading_custom_policy")
	if err := o.client.UploadPolicy(ctx, name); err != nil {
		span.RecordError(err)
		if errors.Is(err, scanning.ErrArtifactNotFound) {
			return scanning.PolicyReference{}, shared.ConfigurationError("upload_policy",
				fmt.Errorf("policy %q is neither builtin nor a local policy file: %w", name, err))
		}
		return scanning.PolicyReference{}, classify("upload_policy", err, shared.KindTransport)
	}

	desc, found, err := o.client.GetPolicyByName(ctx, name)
	if err != nil {
		span.RecordError(err)
		return scanning.PolicyReference{}, classify("get_policy_by_name", err, shared.KindTransport)
	}
	if !found {
		err := fmt.Errorf("%w: policy %q was uploaded but the scanner does not list it", scanning.ErrPolicyNotFound, name)
		span.RecordError(err)
		return scanning.PolicyReference{}, shared.ConfigurationError("get_policy_by_name", err)
	}

	return scanning.CustomPolicy(name, desc.ID), nil
}

// uploadConfig pushes the requested local artifacts. Upload failures are
// logged and never stop the run. A policy already uploaded during resolution
// is skipped.
func (o *Orchestrator) uploadConfig(ctx context.Context, r *run, policy scanning.PolicyReference) {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.upload_config")
	defer span.End()

	uploads := r.req.Uploads()
	upload := func(kind, name string, fn func(context.Context, string) error) {
		if name == "" {
			return
		}
		if err := fn(ctx, name); err != nil {
			span.RecordError(err)
			r.logr.Error(ctx, "Failed to upload artifact", "artifact", kind, "name", name, "error", err)
			return
		}
		span.AddEvent("artifact_uploaded", trace.WithAttributes(
			attribute.String("artifact", kind),
			attribute.String("name", name),
		))
		r.logr.Info(ctx, "Artifact uploaded", "artifact", kind, "name", name)
	}

	upload("settings", uploads.Settings, o.client.UploadSettings)
	upload("webmacro", uploads.Webmacro, o.client.UploadWebmacro)

	if policy.Kind() == scanning.PolicyKindCustom && strings.EqualFold(policy.Name(), uploads.Policy) {
		r.logr.Debug(ctx, "Skipping policy upload, already uploaded during resolution", "name", uploads.Policy)
		return
	}
	upload("policy", uploads.Policy, o.client.UploadPolicy)
}

// poll requests the job status until it is terminal. The first request is
// made immediately; later ones wait PollInterval.
func (o *Orchestrator) poll(ctx context.Context, r *run) (scanning.ScanStatus, error) {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.poll",
		trace.WithAttributes(attribute.String("poll_interval", o.cfg.PollInterval.String())))
	defer span.End()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := o.client.GetStatus(ctx, r.job.ID())
		o.metrics.IncStatusPolls(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get scan status")
			return r.job.Status(), classify("get_status", err, shared.KindTransport)
		}

		changed, terr := r.job.ObserveStatus(status, o.now())
		if terr != nil {
			r.logr.Warn(ctx, "Unexpected scan status transition", "error", terr)
		}
		if changed {
			span.AddEvent("status_changed", trace.WithAttributes(attribute.String("status", status.String())))
			r.logr.Info(ctx, "Scan status changed", "status", status)
		}

		if status.IsTerminal() {
			span.SetAttributes(attribute.String("terminal_status", status.String()))
			return status, nil
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "context cancelled")
			return r.job.Status(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// logScanLog fetches the scanner's log for the job when debug logging is on.
func (o *Orchestrator) logScanLog(ctx context.Context, r *run) {
	if !o.logger.Enabled(ctx, logger.LevelDebug) {
		return
	}
	text, err := o.client.GetLog(ctx, r.job.ID())
	if err != nil {
		r.logr.Warn(ctx, "Failed to fetch scan log", "error", err)
		return
	}
	r.logr.Debug(ctx, "Scan log", "log", text)
}

// export downloads the results in every format and writes the annotated
// issues to the issue sink.
func (o *Orchestrator) export(ctx context.Context, r *run, policy scanning.PolicyReference) error {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.export")
	defer span.End()

	for _, format := range []scanning.ExportFormat{scanning.ExportFormatFPR, scanning.ExportFormatXML} {
		path, err := o.client.ExportResults(ctx, r.job.ID(), r.req.ScanName(), format)
		if err != nil {
			span.RecordError(err)
			return classify("export_results", err, shared.KindTransport)
		}
		o.metrics.IncExports(ctx, format)
		r.result.Exports = append(r.result.Exports, path)
		span.AddEvent("results_exported", trace.WithAttributes(attribute.String("format", format.String())))
		r.logr.Info(ctx, "Results exported", "format", format, "path", path)
	}

	issues, err := o.client.GetIssues(ctx, r.job.ID())
	if err != nil {
		span.RecordError(err)
		return classify("get_issues", err, shared.KindTransport)
	}

	meta := scanning.RunMetadata{
		ScanName:   r.req.ScanName(),
		ScanPolicy: policyLabel(r.req, policy),
		EndDate:    o.now(),
	}
	written, err := o.writeIssues(r.req.ScanName(), issues, meta)
	r.result.IssuesWritten = written
	o.metrics.ObserveIssuesWritten(ctx, written)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("issues_written", written))
	return nil
}

// writeIssues opens the sink for scanName and always closes it.
func (o *Orchestrator) writeIssues(scanName string, issues []scanning.Issue, meta scanning.RunMetadata) (written int, err error) {
	w, err := o.issues.Open(scanName)
	if err != nil {
		return 0, fmt.Errorf("failed to open issue output for %s: %w", scanName, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close issue output for %s: %w", scanName, cerr)
		}
	}()

	for _, issue := range issues {
		if err := w.Write(issue.Annotate(meta)); err != nil {
			return written, fmt.Errorf("failed to write issue %d for %s: %w", written, scanName, err)
		}
		written++
	}
	return written, nil
}

// policyLabel is the value written as scan_policy: the requested name, or
// the settings name when no override was sent.
func policyLabel(req scanning.ScanRequest, policy scanning.PolicyReference) string {
	if policy.IsZero() {
		return req.Settings()
	}
	return policy.Name()
}

// classify tags err with kind unless it already carries one. Context errors
// are returned untouched.
func classify(op string, err error, kind shared.ErrorKind) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if shared.KindOf(err) != shared.KindUnknown {
		return err
	}
	return shared.NewError(kind, op, err)
}

type noopMetrics struct{}

func (noopMetrics) IncRuns(context.Context, scanning.Outcome) {}
func (noopMetrics) IncStatusPolls(context.Context) {}
func (noopMetrics) IncExports(context.Context, scanning.ExportFormat) {}
func (noopMetrics) ObserveIssuesWritten(context.Context, int) {}
func (noopMetrics) ObserveRunDuration(context.Context, time.Duration) {}
