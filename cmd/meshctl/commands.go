package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/advisor"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/eventlog"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

type clientFn func() *apiClient

func newStatusCommand(client clientFn) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mesh health, score, and engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshot struct {
				EngineState string                  `json:"engine_state"`
				Score       *float64                `json:"score"`
				Nodes       []aggregator.NodeHealth `json:"nodes"`
			}
			if err := client().get("/api/v1/mesh", &snapshot); err != nil {
				return err
			}

			fmt.Printf("Engine state: %s\n", snapshot.EngineState)
			if snapshot.Score != nil {
				fmt.Printf("Mesh score:   %.1f/100\n", *snapshot.Score)
			} else {
				fmt.Println("Mesh score:   (no sweep yet)")
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tPRIMARY\tLATENCY\tFAILURES\tENABLED")
			for _, h := range snapshot.Nodes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\n",
					h.Node.Provider,
					h.Status,
					primaryMark(h.Node.IsPrimary),
					latencyString(h.Node.LatencyMs),
					h.Node.ConsecutiveFailures,
					h.Node.Enabled)
			}
			return w.Flush()
		},
	}
}

func newNodesCommand(client clientFn) *cobra.Command {
	nodes := &cobra.Command{
		Use:   "nodes",
		Short: "Manage provider node slots",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every configured node",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Nodes []registry.Node `json:"nodes"`
			}
			if err := client().get("/api/v1/nodes", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tREGION\tPRIORITY\tPRIMARY\tLATENCY\tENABLED")
			for _, n := range resp.Nodes {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%v\n",
					n.Provider, n.Region, n.Priority,
					primaryMark(n.IsPrimary), latencyString(n.LatencyMs), n.Enabled)
			}
			return w.Flush()
		},
	}

	var region string
	var priority int
	add := &cobra.Command{
		Use:   "add <provider> <endpoint>",
		Short: "Register a provider slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var node registry.Node
			err := client().post("/api/v1/nodes", map[string]interface{}{
				"provider": args[0],
				"endpoint": args[1],
				"region":   region,
				"priority": priority,
			}, &node)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (primary: %v)\n", node.Provider, node.IsPrimary)
			return nil
		},
	}
	add.Flags().StringVar(&region, "region", "", "provider region")
	add.Flags().IntVar(&priority, "priority", 100, "election tie-break order, lower preferred")

	nodes.AddCommand(list, add,
		newEnableCommand(client, "enable", true),
		newEnableCommand(client, "disable", false))
	return nodes
}

func newEnableCommand(client clientFn, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <provider>",
		Short: use + " a node for probing and election",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := client().patch("/api/v1/nodes/"+args[0]+"/enabled",
				map[string]bool{"enabled": enabled}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s: enabled=%v\n", args[0], enabled)
			return nil
		},
	}
}

func newFailoverCommand(client clientFn) *cobra.Command {
	return &cobra.Command{
		Use:   "failover <provider>",
		Short: "Move the primary role to the named node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var event eventlog.FailoverEvent
			err := client().post("/api/v1/failover",
				map[string]string{"to_provider": args[0]}, &event)
			if err != nil {
				return err
			}
			if event.ToProvider == "" {
				fmt.Printf("%s is already the primary\n", args[0])
				return nil
			}
			fmt.Printf("Failover %s -> %s recorded (%s)\n",
				event.FromProvider, event.ToProvider, event.ID)
			return nil
		},
	}
}

func newTestCommand(client clientFn) *cobra.Command {
	return &cobra.Command{
		Use:   "test <provider>",
		Short: "Probe a node once and report the raw result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result probe.Result
			err := client().post("/api/v1/nodes/"+args[0]+"/test", nil, &result)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s", result.Provider, result.Outcome)
			if result.LatencyMs != nil {
				fmt.Printf(" (%.1fms)", *result.LatencyMs)
			}
			if result.Err != "" {
				fmt.Printf(" — %s", result.Err)
			}
			fmt.Println()
			return nil
		},
	}
}

func newEventsCommand(client clientFn) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent failover events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Events []eventlog.FailoverEvent `json:"events"`
			}
			path := "/api/v1/history/events?limit=" + strconv.Itoa(limit)
			if err := client().get(path, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TRIGGERED\tFROM\tTO\tREASON\tAUTO\tRESULT")
			for _, e := range resp.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
					e.TriggeredAt.Format("2006-01-02 15:04:05"),
					e.FromProvider, e.ToProvider, e.Reason, e.IsAutomatic, e.Result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "how many events to show")
	return cmd
}

func newSuggestionsCommand(client clientFn) *cobra.Command {
	return &cobra.Command{
		Use:   "suggestions",
		Short: "Show cheaper-equivalent placement suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Suggestions []advisor.Suggestion `json:"suggestions"`
			}
			if err := client().get("/api/v1/suggestions", &resp); err != nil {
				return err
			}
			if len(resp.Suggestions) == 0 {
				fmt.Println("No suggestions; the current placement is already cheapest.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tRECOMMENDED\tSAVINGS/MO\tLATENCY DELTA")
			for _, s := range resp.Suggestions {
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t%+.1fms\n",
					s.CurrentProvider, s.RecommendedProvider,
					s.MonthlySavings, s.LatencyDeltaMs)
			}
			return w.Flush()
		},
	}
}

func primaryMark(isPrimary bool) string {
	if isPrimary {
		return "yes"
	}
	return "-"
}

func latencyString(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fms", *ms)
}
