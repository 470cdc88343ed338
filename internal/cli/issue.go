package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/store"
	"github.com/spf13/cobra"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect and manage tracked issues",
	Long: `List tracked issues, show lifecycle details, and approve issues
held for manual review.

The daemon ingests issue events and drives each issue through scoring,
fix generation, and merge. These commands read the local issue records
and talk to the running daemon where an action is required.`,
	Example: `  issuepilot issue list
  issuepilot issue status acme/api 42
  issuepilot issue approve acme/api 42`,
}

var approverFlag string

func init() {
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueApproveCmd)

	issueApproveCmd.Flags().StringVar(&approverFlag, "approver", "", "Name recorded as the approver (default: $USER)")

	rootCmd.AddCommand(issueCmd)
}

func issueKeyArgs(args []string) (lifecycle.Key, error) {
	number, err := strconv.Atoi(args[1])
	if err != nil || number <= 0 {
		return lifecycle.Key{}, fmt.Errorf("invalid issue number %q", args[1])
	}
	return lifecycle.Key{Repo: args[0], Number: number}, nil
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked issues",
	Long: `Display all tracked issues in a table.

Shows repository, number, status, resolution strategy, and confidence.`,
	Example: `  issuepilot issue list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		records := store.NewRecords(store.DefaultRoot())
		issues, err := records.ListIssues()
		if err != nil {
			return fmt.Errorf("listing issues: %w", err)
		}

		if len(issues) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tracked issues. The daemon creates records as issue events arrive.")
			return nil
		}

		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Key.Repo != issues[j].Key.Repo {
				return issues[i].Key.Repo < issues[j].Key.Repo
			}
			return issues[i].Key.Number < issues[j].Key.Number
		})

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(issues))
		for _, rec := range issues {
			confidence := "-"
			if rec.Confidence != nil {
				confidence = strconv.Itoa(*rec.Confidence)
			}
			cr := "-"
			if rec.ChangeRequest != 0 {
				cr = fmt.Sprintf("#%d", rec.ChangeRequest)
			}

			rows = append(rows, []string{
				rec.Key.Repo,
				fmt.Sprintf("#%d", rec.Key.Number),
				string(rec.Status),
				string(rec.Strategy),
				confidence,
				cr,
				rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("REPO", "ISSUE", "STATUS", "STRATEGY", "CONF", "CR", "UPDATED").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})

		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <owner/repo> <number>",
	Short: "Show issue lifecycle detail",
	Long: `Show the full lifecycle record for one issue, including scoring
results and the transition history with actors and rationale.`,
	Example: `  issuepilot issue status acme/api 42`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := issueKeyArgs(args)
		if err != nil {
			return err
		}

		records := store.NewRecords(store.DefaultRoot())
		rec, err := records.LoadIssue(key)
		if err != nil {
			return fmt.Errorf("issue %s#%d not tracked", key.Repo, key.Number)
		}

		labelStyle := lipgloss.NewStyle().Bold(true)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%s %s#%d\n", labelStyle.Render("Issue:"), rec.Key.Repo, rec.Key.Number)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Title:"), rec.Title)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Status:"), rec.Status)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Strategy:"), rec.Strategy)
		if rec.Confidence != nil {
			fmt.Fprintf(out, "%s %d (%s, %s)\n", labelStyle.Render("Confidence:"), *rec.Confidence, rec.IssueType, rec.Priority)
		}
		if rec.ChangeRequest != 0 {
			fmt.Fprintf(out, "%s #%d\n", labelStyle.Render("Change request:"), rec.ChangeRequest)
		}
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Updated:"), rec.UpdatedAt.Local().Format(time.RFC1123))

		if len(rec.History) > 0 {
			fmt.Fprintf(out, "\n%s\n", labelStyle.Render("History:"))
			for _, tr := range rec.History {
				fmt.Fprintf(out, "  %s  %s → %s  (%s) %s\n",
					tr.At.Local().Format("2006-01-02 15:04:05"), tr.From, tr.To, tr.Actor, tr.Rationale)
			}
		}
		return nil
	},
}

var issueApproveCmd = &cobra.Command{
	Use:   "approve <owner/repo> <number>",
	Short: "Approve an issue held for manual review",
	Long: `Approve an issue that scoring or risk assessment routed to manual
review. The daemon resumes automation: fix generation, merge, and
monitoring proceed as if the issue had scored above the threshold.

Requires the daemon to be running.`,
	Example: `  issuepilot issue approve acme/api 42
  issuepilot issue approve acme/api 42 --approver alice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := issueKeyArgs(args)
		if err != nil {
			return err
		}

		approver := approverFlag
		if approver == "" {
			approver = os.Getenv("USER")
		}
		if approver == "" {
			return fmt.Errorf("approver required: pass --approver or set $USER")
		}

		port := appConfig.Server.Port
		if port == 0 {
			port = 4097
		}

		body, _ := json.Marshal(map[string]string{"approver": approver})
		url := fmt.Sprintf("http://127.0.0.1:%d/issues/%s/%d/approve", port, key.Repo, key.Number)
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contacting daemon: %w (is it running?)", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("daemon rejected approval: %s: %s", resp.Status, bytes.TrimSpace(msg))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Approved %s#%d as %s\n", key.Repo, key.Number, approver)
		return nil
	},
}
