package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/novadesk/retrieval/internal/server"
)

func newBackfillCmd() *cobra.Command {
	var addr string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-index every stored entity",
		Long: `Rebuild the vector index from the system of record. Used after an
embedding model change or index loss. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), addr, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultServerAddr, "Server address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runBackfill(ctx context.Context, addr string, jsonOutput bool) error {
	client := newAPIClient(addr)

	var resp server.BackfillResponse
	if err := client.postJSON(ctx, "/api/v1/backfill", nil, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	types := make([]string, 0, len(resp.ByType))
	for typ := range resp.ByType {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		counts := resp.ByType[typ]
		fmt.Printf("  %-10s indexed=%d failed=%d\n", typ, counts.Indexed, counts.Failed)
	}
	fmt.Printf("Done: %d indexed, %d failed in %s\n",
		resp.Indexed, resp.Failed, time.Duration(resp.DurationMS)*time.Millisecond)
	return nil
}
