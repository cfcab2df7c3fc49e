package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/novadesk/retrieval/internal/server"
)

func newStatsCmd() *cobra.Command {
	var addr string
	var tenantID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a tenant's index composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), addr, tenantID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultServerAddr, "Server address")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runStats(ctx context.Context, addr, tenantID string, jsonOutput bool) error {
	client := newAPIClient(addr)

	var resp server.StatsResponse
	if err := client.getJSON(ctx, "/api/v1/stats/"+tenantID, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	fmt.Printf("Tenant: %s\n", resp.TenantID)
	types := make([]string, 0, len(resp.CountsByType))
	for typ := range resp.CountsByType {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Printf("  %-10s %d\n", typ, resp.CountsByType[typ])
	}
	fmt.Printf("Total: %d\n", resp.Total)
	return nil
}
