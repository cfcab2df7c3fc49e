package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novadesk/retrieval/internal/server"
)

func newSearchCmd() *cobra.Command {
	var addr string
	var tenantID string
	var entityType string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search a tenant's index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), addr, tenantID, query, entityType, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultServerAddr, "Server address")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&entityType, "type", "", "Filter by entity type (document, meeting, test_case, ticket)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runSearch(ctx context.Context, addr, tenantID, query, entityType string, limit int, jsonOutput bool) error {
	client := newAPIClient(addr)

	var resp server.SearchResponse
	err := client.postJSON(ctx, "/api/v1/search", server.SearchRequest{
		TenantID:   tenantID,
		Query:      query,
		Limit:      limit,
		EntityType: entityType,
	}, &resp)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	if resp.TotalResults == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range resp.Results {
		title := r.Metadata["title"]
		if title == "" {
			title = r.EntityID
		}
		fmt.Printf("%2d. [%.3f] %s (%s)\n", i+1, r.Score, title, r.EntityType)
		fmt.Printf("    %s\n", snippetPreview(r.Snippet))
	}
	return nil
}

// snippetPreview flattens a snippet to one bounded line.
func snippetPreview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 160
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
