package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ahrav/dastctl/internal/app/agent"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/internal/infra/agentinfo"
	"github.com/ahrav/dastctl/internal/infra/github"
	"github.com/ahrav/dastctl/internal/infra/notify/webhook"
)

func newGitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Gather and send what the build agent needs to notify contributors",
	}
	cmd.AddCommand(newGitEmailCmd(a), newGitUploadCmd(a))
	return cmd
}

func newGitEmailCmd(a *app) *cobra.Command {
	var repoURL string

	cmd := &cobra.Command{
		Use:   "email",
		Short: "Record the public emails of a repository's contributors in the agent info file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gh := github.NewClient(nil, a.cfg.Git.Token, a.log, a.tracer)
			svc := agent.NewService(gh, agentinfo.NewFile(a.cfg.Output.AgentInfoFile), nil, a.log, a.tracer)

			emails, err := svc.RecordContributorEmails(cmd.Context(), repoURL)
			if errors.Is(err, agent.ErrNoContributorEmails) {
				fmt.Fprintf(a.stderr, "Unable to complete command 'git email': %v.\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %d contributor emails to %s\n", len(emails), a.cfg.Output.AgentInfoFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "url", "", "web url of the repository, e.g. https://github.com/target/webapp")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newGitUploadCmd(a *app) *cobra.Command {
	var agentURL string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Send the agent info file to the build agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if agentURL == "" {
				agentURL = a.cfg.Agent.URL
			}
			if agentURL == "" {
				return shared.ConfigurationError("agent_url", errors.New("agent.url is not set"))
			}
			pub, err := webhook.NewAgentPublisher(agentURL, &http.Client{Timeout: a.cfg.Agent.Timeout}, a.log, a.tracer)
			if err != nil {
				return shared.ConfigurationError("agent_url", err)
			}
			svc := agent.NewService(nil, agentinfo.NewFile(a.cfg.Output.AgentInfoFile), pub, a.log, a.tracer)

			if err := svc.Publish(cmd.Context()); err != nil {
				fmt.Fprintf(a.stderr, "Request to %s was unsuccessful. Unable to complete command 'git upload'.\n", agentURL)
				return err
			}
			fmt.Fprintf(a.stdout, "Request to %s successful.\n", agentURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentURL, "agent_url", "", "agent url (default agent.url)")
	return cmd
}
