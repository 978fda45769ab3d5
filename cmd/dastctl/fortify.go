package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	appartifact "github.com/ahrav/dastctl/internal/app/artifact"
	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/internal/infra/agentinfo"
	"github.com/ahrav/dastctl/internal/infra/credentials"
	"github.com/ahrav/dastctl/internal/infra/ssc"
)

// fortifyFlags are shared by every fortify subcommand.
type fortifyFlags struct {
	user        string
	password    string
	application string
}

func (f *fortifyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "fortify_user", "", "user to authenticate as (default fortify.username)")
	cmd.Flags().StringVar(&f.password, "fortify_password", "", "password for --fortify_user (default fortify.password)")
	cmd.Flags().StringVar(&f.application, "application", "", "application the version belongs to (default fortify.application)")
}

func newFortifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fortify",
		Short: "Publish scan results to the vulnerability service",
	}
	cmd.AddCommand(newFortifyListCmd(a), newFortifyUploadCmd(a), newFortifyScanCmd(a))
	return cmd
}

// artifactService wires the vulnerability-service client behind a session
// that re-authenticates at most once per call.
func (a *app) artifactService(f fortifyFlags) (*appartifact.Service, error) {
	fc := a.cfg.Fortify
	if fc.URL == "" {
		return nil, shared.ConfigurationError("fortify", errors.New("fortify.url is not set"))
	}
	client, err := ssc.NewClient(fc.URL, nil, a.log, a.tracer)
	if err != nil {
		return nil, err
	}

	creds := artifact.Credentials{Username: fc.Username, Password: fc.Password}
	if f.user != "" {
		creds = artifact.Credentials{Username: f.user, Password: f.password}
	}
	var opts []appartifact.SessionOption
	if creds.Valid() {
		opts = append(opts, appartifact.WithExplicitCredentials(creds))
	}

	session := appartifact.NewSession(
		client,
		credentials.NewFileStore(fc.CredentialsFile),
		credentials.NewPrompter(a.stdin, a.stderr, creds.Username),
		a.log,
		a.tracer,
		opts...,
	)
	return appartifact.NewService(session, client, agentinfo.NewFile(a.cfg.Output.AgentInfoFile), a.log, a.tracer), nil
}

func (a *app) application(f fortifyFlags) string {
	if f.application != "" {
		return f.application
	}
	return a.cfg.Fortify.Application
}

func newFortifyListCmd(a *app) *cobra.Command {
	var flags fortifyFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List application versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.artifactService(flags)
			if err != nil {
				return err
			}
			// Only an explicit --application narrows the listing.
			versions, err := svc.ListVersions(cmd.Context(), flags.application)
			if err != nil {
				return reportMissingApplication(a, flags.application, err)
			}
			return renderVersions(a.stdout, versions)
		},
	}
	flags.register(cmd)
	return cmd
}

func newFortifyUploadCmd(a *app) *cobra.Command {
	var (
		flags    fortifyFlags
		version  string
		scanName string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload <scan_name>.fpr to an application version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appName := a.application(flags)
			if appName == "" {
				return shared.ConfigurationError("fortify_upload", errors.New("no application given and fortify.application is not set"))
			}
			if scanName == "" {
				scanName = version
			}
			svc, err := a.artifactService(flags)
			if err != nil {
				return err
			}

			path := filepath.Join(a.cfg.WebInspect.ExportDir, scanName+".fpr")
			ref := artifact.VersionRef{Application: appName, Version: version}
			if err := svc.Upload(cmd.Context(), path, ref); err != nil {
				return reportMissingApplication(a, appName, err)
			}
			fmt.Fprintf(a.stdout, "Uploaded %s to %s %s\n", path, appName, version)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&version, "version", "", "application version to upload to")
	cmd.Flags().StringVar(&scanName, "scan_name", "", "results file name without extension (default --version)")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newFortifyScanCmd(a *app) *cobra.Command {
	var (
		flags   fortifyFlags
		version string
		buildID string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Prepare an application version for a build and record it for the build agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appName := a.application(flags)
			if appName == "" {
				return shared.ConfigurationError("fortify_scan", errors.New("no application given and fortify.application is not set"))
			}
			svc, err := a.artifactService(flags)
			if err != nil {
				return err
			}

			ref := artifact.VersionRef{Application: appName, Version: version, Template: a.cfg.Fortify.ProjectTemplate}
			url, err := svc.RegisterBuild(cmd.Context(), ref, buildID)
			if err != nil {
				return reportMissingApplication(a, appName, err)
			}
			fmt.Fprintf(a.stdout, "Project version %s\n", url)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&version, "version", "", "application version the build belongs to")
	cmd.Flags().StringVar(&buildID, "build_id", "", "id of the build being scanned")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("build_id")
	return cmd
}

// reportMissingApplication prints a dedicated message when the application
// does not exist and passes err through.
func reportMissingApplication(a *app, application string, err error) error {
	if errors.Is(err, artifact.ErrApplicationNotFound) {
		fmt.Fprintf(a.stderr, "Fortify application %s does not exist.\n", application)
	}
	return err
}
