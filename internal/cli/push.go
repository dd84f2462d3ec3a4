package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/ingestion"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func newPushCommand() *cobra.Command {
	var (
		baseURL string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push <project> <searchindex.js>",
		Short: "Upload a new build of a project's index to a running server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, path := args[0], args[1]
			// Decode and validate before sending.
			idx, err := searchindex.Load(path)
			if err != nil {
				return err
			}
			var body bytes.Buffer
			if err := searchindex.Encode(&body, idx); err != nil {
				return err
			}

			target := strings.TrimRight(baseURL, "/") + "/api/v1/projects/" + url.PathEscape(project) + "/searchindex.js"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPut, target, &body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/javascript")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("uploading to %s: %w", target, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var e struct {
					Error    string   `json:"error"`
					Problems []string `json:"problems"`
				}
				_ = json.NewDecoder(resp.Body).Decode(&e)
				if len(e.Problems) > 0 {
					e.Error += ": " + strings.Join(e.Problems, "; ")
				}
				return fmt.Errorf("server rejected upload (%s): %s", resp.Status, e.Error)
			}
			var res ingestion.UploadResponse
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				return fmt.Errorf("decoding upload response: %w", err)
			}
			state := "unchanged"
			if res.Changed {
				state = "swapped"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (checksum %s, %d documents)\n",
				res.Project, state, shortChecksum(res.Checksum), res.Stats.Documents)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "base URL of the search API")
	cmd.Flags().StringVar(&token, "token", os.Getenv("DS_ADMIN_TOKEN"), "admin token")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	return cmd
}
