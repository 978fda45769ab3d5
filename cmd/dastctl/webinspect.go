package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	appscanning "github.com/ahrav/dastctl/internal/app/scanning"
	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/internal/infra/storage/issues"
	"github.com/ahrav/dastctl/internal/infra/webinspect"
)

func newWebInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webinspect",
		Short: "Run and inspect scans on the scanner farm",
	}
	cmd.AddCommand(newScanCmd(a), newListCmd(a), newDownloadCmd(a))
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var opts scanning.ScanOptions

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Submit a scan, wait for it to finish and export its results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			req, err := scanning.NewScanRequest(opts)
			if err != nil {
				return shared.ConfigurationError("scan_request", err)
			}

			client, err := a.scannerClient(string(req.Size()))
			if err != nil {
				return err
			}
			hub, err := a.notificationHub(ctx)
			if err != nil {
				return err
			}
			metrics, err := appscanning.NewRunMetrics(a.tel.Meter)
			if err != nil {
				return fmt.Errorf("failed to create run metrics: %w", err)
			}

			orch := appscanning.NewOrchestrator(
				client,
				hub,
				issues.NewSink(a.cfg.Output.IssuesDir),
				appscanning.Config{
					PollInterval:  a.cfg.WebInspect.PollInterval,
					NotifyTimeout: a.cfg.Notify.Timeout,
				},
				a.log,
				a.tracer,
				appscanning.WithMetrics(metrics),
			)

			res, err := orch.Run(ctx, req)
			if res != nil && res.JobID != "" {
				fmt.Fprintf(a.stdout, "Scan %s (%s) finished with status %s.\n", req.ScanName(), res.JobID, res.Status)
			}
			if err != nil {
				return err
			}
			for _, path := range res.Exports {
				fmt.Fprintf(a.stdout, "Exported %s\n", path)
			}
			fmt.Fprintf(a.stdout, "Wrote %d issues to %s\n", res.IssuesWritten,
				issues.NewSink(a.cfg.Output.IssuesDir).Path(req.ScanName()))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ScanName, "scan_name", "", "name of the scan")
	f.StringVar(&opts.Settings, "settings", "Default", "scanner settings profile to scan with")
	f.StringVar(&opts.Size, "size", "", "scanner pool: medium or large")
	f.StringVar(&opts.ScanMode, "scan_mode", "", "crawl, scan or all")
	f.StringVar(&opts.ScanScope, "scan_scope", "", "all, strict, children or ancestors")
	f.StringVar(&opts.ScanStart, "scan_start", "", "url or macro")
	f.StringSliceVar(&opts.StartURLs, "start_urls", nil, "start url; repeat for more")
	f.StringSliceVar(&opts.AllowedHosts, "allowed_hosts", nil, "host the scan may reach; defaults to the start url hosts")
	f.StringVar(&opts.Policy, "scan_policy", "", "builtin policy name or a local custom policy to upload")
	f.StringVar(&opts.LoginMacro, "login_macro", "", "login macro to run before the scan")
	f.StringSliceVar(&opts.WorkflowMacros, "workflow_macros", nil, "workflow macro; repeat for more")
	f.StringVar(&opts.UploadSettings, "upload_settings", "", "local settings file to upload before the scan")
	f.StringVar(&opts.UploadPolicy, "upload_policy", "", "local policy file to upload before the scan")
	f.StringVar(&opts.UploadWebmacro, "upload_webmacros", "", "local webmacro file to upload before the scan")
	_ = cmd.MarkFlagRequired("scan_name")

	return cmd
}

// serverFlags selects a scanner directly instead of through configuration.
type serverFlags struct {
	server   string
	protocol string
}

func (s *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.server, "server", "", "scanner host[:port]; defaults to webinspect.url")
	cmd.Flags().StringVar(&s.protocol, "protocol", "https", "protocol used to reach --server: http or https")
}

func (a *app) serverClient(s serverFlags) (*webinspect.Client, error) {
	if s.server == "" {
		return a.scannerClient("")
	}
	if s.protocol != "http" && s.protocol != "https" {
		return nil, shared.ConfigurationError("scanner_url", fmt.Errorf("unsupported protocol %q", s.protocol))
	}
	return a.newScannerClient(s.protocol + "://" + s.server)
}

func (a *app) scannerClient(size string) (*webinspect.Client, error) {
	base, err := a.cfg.WebInspect.ScannerURL(size)
	if err != nil {
		return nil, err
	}
	return a.newScannerClient(base)
}

func (a *app) newScannerClient(base string) (*webinspect.Client, error) {
	wi := a.cfg.WebInspect
	return webinspect.NewClient(webinspect.Config{
		BaseURL:      base,
		SettingsDir:  wi.SettingsDir,
		PoliciesDir:  wi.PoliciesDir,
		WebmacrosDir: wi.WebmacrosDir,
		ExportDir:    wi.ExportDir,
	}, a.scannerHTTPClient(), a.log, a.tracer)
}

func newListCmd(a *app) *cobra.Command {
	var (
		server   serverFlags
		scanName string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scans on a scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.serverClient(server)
			if err != nil {
				return err
			}
			scans, err := client.ListScans(cmd.Context(), scanName)
			if err != nil {
				return err
			}
			if len(scans) == 0 && scanName != "" {
				fmt.Fprintf(a.stdout, "No scans matching the name %s were found.\n", scanName)
				return nil
			}
			return renderScans(a.stdout, scans)
		},
	}
	server.register(cmd)
	cmd.Flags().StringVar(&scanName, "scan_name", "", "only list scans with this name")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		server   serverFlags
		scanName string
		scanID   string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the results of a finished scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			exportFormat, err := parseExportFormat(format)
			if err != nil {
				return err
			}
			client, err := a.serverClient(server)
			if err != nil {
				return err
			}

			if scanID == "" {
				scans, err := client.ListScans(ctx, scanName)
				if err != nil {
					return err
				}
				switch len(scans) {
				case 0:
					fmt.Fprintf(a.stdout, "No scans matching the name %s were found.\n", scanName)
					return nil
				case 1:
					scanID = scans[0].ID
				default:
					fmt.Fprintf(a.stdout, "Multiple scans matching the name %s found. Pick one with --scan_id.\n", scanName)
					return renderScans(a.stdout, scans)
				}
			} else if _, err := client.GetStatus(ctx, scanID); err != nil {
				return fmt.Errorf("unable to find scan %s: %w", scanID, err)
			}

			path, err := client.ExportResults(ctx, scanID, scanName, exportFormat)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Downloaded scan %s to %s\n", scanID, path)
			return nil
		},
	}
	server.register(cmd)
	cmd.Flags().StringVar(&scanName, "scan_name", "", "name of the scan; results are written as <scan_name>.<format>")
	cmd.Flags().StringVar(&scanID, "scan_id", "", "id of the scan, when several share a name")
	cmd.Flags().StringVarP(&format, "format", "x", "fpr", "export format: fpr or xml")
	_ = cmd.MarkFlagRequired("scan_name")
	return cmd
}

var errUnknownFormat = errors.New("unknown export format")

func parseExportFormat(s string) (scanning.ExportFormat, error) {
	switch f := scanning.ExportFormat(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case scanning.ExportFormatFPR, scanning.ExportFormatXML:
		return f, nil
	default:
		return "", shared.ConfigurationError("export_format", fmt.Errorf("%w %q", errUnknownFormat, s))
	}
}
