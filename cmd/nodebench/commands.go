package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/nodebench/internal/config"
	"github.com/kalambet/nodebench/internal/planner"
)

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, create and export workspace documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, optionally filtered by a search query",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")
		archived, _ := cmd.Flags().GetBool("archived")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := url.Values{}
		params.Set("limit", fmt.Sprint(limit))
		if query != "" {
			params.Set("q", query)
		}
		if archived {
			params.Set("archived", "true")
		}
		resp, err := client.get(cmd.Context(), "/documents?"+params.Encode())
		if err != nil {
			return err
		}

		var docs []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			UpdatedAt string `json:"updatedAt"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				colorize(colorDim, d.UpdatedAt),
				truncate(d.Title, 80),
			)
		}
		return nil
	},
}

var docsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document from text or a file",
	Long: `Create a document from text or a file.

Examples:
  nodebench docs create --title "Q3 notes" --text "Revenue grew 12%"
  nodebench docs create --file ./notes.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		parent, _ := cmd.Flags().GetString("parent")

		if text != "" && file != "" {
			return fmt.Errorf("--text and --file are mutually exclusive")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			}
		}

		req := map[string]any{"content": text}
		if title != "" {
			req["title"] = title
		}
		if parent != "" {
			req["parentId"] = parent
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var doc struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Created %q (%s)", doc.Title, doc.ID)
		return nil
	},
}

var docsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a document as markdown, text or html",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/documents/%s/export?format=%s", url.PathEscape(args[0]), url.QueryEscape(format))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		data, err := readBody(resp)
		if err != nil {
			return err
		}

		if output == "" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess("Exported to %s", output)
		return nil
	},
}

func init() {
	docsListCmd.Flags().String("query", "", "full-text search query")
	docsListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	docsListCmd.Flags().Bool("archived", false, "list archived documents")
	docsCreateCmd.Flags().String("title", "", "document title")
	docsCreateCmd.Flags().String("text", "", "document content")
	docsCreateCmd.Flags().String("file", "", "read content from this file")
	docsCreateCmd.Flags().String("parent", "", "parent document id")
	docsExportCmd.Flags().String("format", "markdown", "export format: markdown, text or html")
	docsExportCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
	docsCmd.AddCommand(docsListCmd, docsCreateCmd, docsExportCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Run the agent coordinator over a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		thread, _ := cmd.Flags().GetString("thread")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"prompt": prompt}
		if thread != "" {
			req["threadId"] = thread
		}
		printStep("Running agents...")
		resp, err := client.post(cmd.Context(), "/agents/run", req)
		if err != nil {
			return err
		}

		var out struct {
			RunID      string   `json:"runId"`
			Status     string   `json:"status"`
			Response   string   `json:"response"`
			AgentsUsed []string `json:"agentsUsed"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		fmt.Println(out.Response)
		fmt.Fprintln(os.Stderr)
		printStatus("Run", "%s (%s)", shortID(out.RunID), out.Status)
		if len(out.AgentsUsed) > 0 {
			printStatus("Agents", "%s", strings.Join(out.AgentsUsed, ", "))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("thread", "", "attach the run to this chat thread")
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan [goal]",
	Short: "Build a research plan for a goal, optionally executing it",
	Long: `Build a research plan for a goal, optionally executing it.

Examples:
  nodebench plan "compare Acme and Globex" --format yaml
  nodebench plan "compare Acme and Globex" --execute
  nodebench plan --file plan.yaml --execute`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		execute, _ := cmd.Flags().GetBool("execute")
		file, _ := cmd.Flags().GetString("file")
		goal := strings.Join(args, " ")

		if format != planner.FormatJSON && format != planner.FormatYAML {
			return fmt.Errorf("unsupported format %q (want json or yaml)", format)
		}

		req := map[string]any{}
		switch {
		case file != "":
			if !execute {
				return fmt.Errorf("--file requires --execute")
			}
			p, err := readPlanFile(file)
			if err != nil {
				return err
			}
			req["plan"] = p
			req["goal"] = p.Goal
		case goal != "":
			req["goal"] = goal
		default:
			return fmt.Errorf("a goal or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if execute {
			return executePlan(cmd.Context(), client, req)
		}

		resp, err := client.post(cmd.Context(), "/plans", req)
		if err != nil {
			return err
		}
		var out struct {
			Plan     planner.Plan `json:"plan"`
			Provider string       `json:"provider"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		data, err := out.Plan.Marshal(format)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		if format == planner.FormatJSON {
			fmt.Println()
		}
		printStatus("Provider", "%s", out.Provider)
		return nil
	},
}

func executePlan(ctx context.Context, client *apiClient, req map[string]any) error {
	printStep("Executing plan...")
	resp, err := client.post(ctx, "/plans/execute", req)
	if err != nil {
		return err
	}

	var out struct {
		RunID     string `json:"runId"`
		Status    string `json:"status"`
		Report    string `json:"report"`
		Tree      string `json:"tree"`
		Execution struct {
			Failed map[string]string `json:"failed"`
		} `json:"execution"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	fmt.Println(out.Report)
	fmt.Fprintln(os.Stderr, out.Tree)
	ids := make([]string, 0, len(out.Execution.Failed))
	for id := range out.Execution.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printWarning("step %s failed: %s", id, out.Execution.Failed[id])
	}
	printStatus("Run", "%s (%s)", shortID(out.RunID), out.Status)
	return nil
}

// readPlanFile loads a plan saved with --format, picking the codec from the
// file extension.
func readPlanFile(path string) (planner.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	format := planner.FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = planner.FormatYAML
	}
	p, err := planner.Unmarshal(data, format)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	return p, nil
}

func init() {
	planCmd.Flags().String("format", planner.FormatJSON, "output format: json or yaml")
	planCmd.Flags().Bool("execute", false, "execute the plan and print the report")
	planCmd.Flags().String("file", "", "execute a saved plan (json or yaml)")
}

// --- entity ---

var entityCmd = &cobra.Command{
	Use:   "entity <name>",
	Short: "Research a company or person, using the cache when fresh",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("type")
		refresh, _ := cmd.Flags().GetBool("refresh")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"name":  strings.Join(args, " "),
			"force": refresh,
		}
		if entityType != "" {
			req["type"] = entityType
		}
		resp, err := client.post(cmd.Context(), "/entities/research", req)
		if err != nil {
			return err
		}

		var e struct {
			Name         string   `json:"name"`
			EntityType   string   `json:"entityType"`
			Summary      string   `json:"summary"`
			Sources      []string `json:"sources"`
			ResearchedAt string   `json:"researchedAt"`
			Cached       bool     `json:"cached"`
		}
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n\n%s\n", colorize(colorBold, e.Name), e.EntityType, e.Summary)
		for _, s := range e.Sources {
			fmt.Printf("  %s\n", colorize(colorDim, s))
		}
		if e.Cached {
			printStatus("Cached", "researched %s", e.ResearchedAt)
		}
		return nil
	},
}

func init() {
	entityCmd.Flags().String("type", "", "entity type: company or person")
	entityCmd.Flags().Bool("refresh", false, "ignore the cache and research again")
}

// --- billing ---

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Manage the workspace subscription",
}

var billingCheckoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Start a subscription checkout",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/billing/checkout", map[string]any{"email": email})
		if err != nil {
			return err
		}

		var sess struct {
			URL      string `json:"url"`
			Provider string `json:"provider"`
		}
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Checkout ready via %s", sess.Provider)
		fmt.Println(sess.URL)
		return nil
	},
}

var billingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/billing/status")
		if err != nil {
			return err
		}

		var sub struct {
			Status           string `json:"status"`
			Provider         string `json:"provider"`
			CurrentPeriodEnd string `json:"currentPeriodEnd"`
		}
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}

		printStatus("Subscription", "%s", sub.Status)
		if sub.Provider != "" {
			printStatus("Provider", "%s", sub.Provider)
		}
		if sub.CurrentPeriodEnd != "" {
			printStatus("Renews", "%s", sub.CurrentPeriodEnd)
		}
		return nil
	},
}

var billingCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/billing/cancel", nil)
		if err != nil {
			return err
		}
		var sub map[string]any
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}
		printSuccess("Subscription canceled")
		return nil
	},
}

func init() {
	billingCheckoutCmd.Flags().String("email", "", "customer email for the receipt")
	billingCmd.AddCommand(billingCheckoutCmd, billingStatusCmd, billingCancelCmd)
}

// --- analytics ---

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show workspace activity for the last days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/analytics/summary?days=%d", days))
		if err != nil {
			return err
		}

		var sum struct {
			WindowDays        int            `json:"windowDays"`
			Documents         int            `json:"documents"`
			ArchivedDocuments int            `json:"archivedDocuments"`
			TasksByStatus     map[string]int `json:"tasksByStatus"`
			UpcomingEvents    int            `json:"upcomingEvents"`
			RunsByStatus      map[string]int `json:"runsByStatus"`
			AgentUsage        map[string]int `json:"agentUsage"`
			ChatThreads       int            `json:"chatThreads"`
			ChatMessages      int            `json:"chatMessages"`
		}
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, sum)
		}

		printStatus("Window", "%d days", sum.WindowDays)
		printStatus("Documents", "%d (%d archived)", sum.Documents, sum.ArchivedDocuments)
		printStatus("Tasks", "%s", countsLabel(sum.TasksByStatus))
		printStatus("Upcoming events", "%d", sum.UpcomingEvents)
		printStatus("Agent runs", "%s", countsLabel(sum.RunsByStatus))
		printStatus("Agent usage", "%s", countsLabel(sum.AgentUsage))
		printStatus("Chat", "%d threads, %d messages", sum.ChatThreads, sum.ChatMessages)
		return nil
	},
}

// countsLabel renders a count map as "a=1, b=2" in key order.
func countsLabel(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func init() {
	analyticsCmd.Flags().Int("days", 30, "window size in days")
	analyticsCmd.Flags().Bool("json", false, "print the raw summary as JSON")
}

// --- gmail ---

var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Connect and sync a Gmail inbox",
}

var gmailConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the Google consent URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/gmail/auth")
		if err != nil {
			return err
		}
		var out struct {
			URL string `json:"url"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printStep("Open this URL to grant read-only Gmail access:")
		fmt.Println(out.URL)
		return nil
	},
}

var gmailSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Queue a sync of recent Gmail messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/gmail/sync", nil)
		if err != nil {
			return err
		}
		var out struct {
			JobID string `json:"jobId"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Queued Gmail sync (job %s)", shortID(out.JobID))
		return nil
	},
}

func init() {
	gmailCmd.AddCommand(gmailConnectCmd, gmailSyncCmd)
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old agent runs, finished jobs and orphaned messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("older-than-days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/admin/cleanup", map[string]any{"olderThanDays": days})
		if err != nil {
			return err
		}
		var res struct {
			AgentRuns      int   `json:"agentRuns"`
			Jobs           int64 `json:"jobs"`
			OrphanMessages int64 `json:"orphanMessages"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Removed %d runs, %d jobs, %d orphaned messages", res.AgentRuns, res.Jobs, res.OrphanMessages)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("older-than-days", 30, "remove data older than this many days")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
