package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var apiParams []string

var apiCmd = &cobra.Command{
	Use:   "api ENDPOINT",
	Short: "Issue an ad hoc authenticated GET against a REST endpoint",
	Long: `Passes ENDPOINT (relative to the REST API root, e.g. "rate_limit" or
"repos/owner/repo") straight through to GitHub and prints the raw
response body. For endpoints ghshard has no dedicated command for.
Never cached.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPI,
}

func init() {
	apiCmd.Flags().StringArrayVar(&apiParams, "param", nil, "query parameter as KEY=VALUE, repeatable")
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	params := make(map[string]string, len(apiParams))
	for _, p := range apiParams {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("cli: --param %q is not in KEY=VALUE form", p)
		}
		params[k] = v
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	raw, err := rt.client.DoRaw(cmd.Context(), args[0], params)
	if err != nil {
		return err
	}

	cmd.Println(string(raw))
	return nil
}
