package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

func writeAlerts(w io.Writer, alerts []model.AnomalyAlert, format string) error {
	if format == "json" {
		return writeJSON(w, alerts)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tMECHANISM\tAGENT\tDOMAIN\tMETRIC\tVALUE\tBASELINE\tDEVIATION\tTIMESTAMP\tALERT ID")
	for _, a := range alerts {
		writeAlertRow(tw, a)
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func writeRecords(w io.Writer, records []model.AlertRecord, format string) error {
	if format == "json" {
		return writeJSON(w, records)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tMECHANISM\tAGENT\tDOMAIN\tMETRIC\tVALUE\tBASELINE\tDEVIATION\tTIMESTAMP\tALERT ID\tACK")
	for _, r := range records {
		writeAlertRow(tw, r.AnomalyAlert)
		ack := "-"
		if r.Acknowledged && r.AcknowledgedBy != nil {
			ack = *r.AcknowledgedBy
		}
		fmt.Fprintf(tw, "\t%s\n", ack)
	}
	return tw.Flush()
}

func writeAlertRow(w io.Writer, a model.AnomalyAlert) {
	domain := a.DomainValue()
	if domain == "" {
		domain = "-"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\t%s\t%s",
		a.Severity, a.Mechanism, a.AgentIDHash, domain, a.Metric,
		a.Value, a.Baseline, a.Deviation, a.Timestamp.UTC().Format(time.RFC3339), a.AlertID)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
