package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var circuitsAddr string

var circuitsCmd = &cobra.Command{
	Use:   "circuits",
	Short: "Print circuit breaker states of a running server",
	Long:  "Breakers live in the server process; this queries its /circuits endpoint.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 5 * time.Second}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, circuitsAddr+"/circuits", nil)
		if err != nil {
			return eris.Wrap(err, "build request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrapf(err, "query %s", circuitsAddr)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("server returned %s", resp.Status)
		}

		var states map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
			return eris.Wrap(err, "decode response")
		}

		if len(states) == 0 {
			fmt.Fprintln(os.Stderr, "No circuits yet; breakers are created on first call.")
			return nil
		}

		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CIRCUIT\tSTATE")
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%s\n", name, states[name])
		}
		return tw.Flush()
	},
}

func init() {
	circuitsCmd.Flags().StringVar(&circuitsAddr, "addr", "http://localhost:8080", "base URL of the running server")
	rootCmd.AddCommand(circuitsCmd)
}
