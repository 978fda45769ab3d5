package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/scanning"
)

func renderScans(w io.Writer, scans []scanning.ScanSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCAN NAME\tSCAN ID\tSTATUS")
	for _, s := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.ID, s.Status)
	}
	return tw.Flush()
}

func renderVersions(w io.Writer, versions []artifact.ProjectVersion) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "APPLICATION\tVERSION\tID")
	for _, v := range versions {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", v.Application, v.Name, v.ID)
	}
	return tw.Flush()
}
