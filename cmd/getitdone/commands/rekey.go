package commands

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const rekeyTimeout = 10 * time.Second

// newRekeyCmd asks the running server to rotate its key, so the signer it
// holds in memory and the key file never disagree.
func newRekeyCmd(o *options) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Rotate the Ed25519 ledger signing key on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server == "" {
				server = baseURL(o.cfg.Server.Addr)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(server, "/")+"/admin/rekey", nil)
			if err != nil {
				return err
			}
			req.Header.Set("X-User-ID", operator.ID)
			req.Header.Set("X-User-Role", string(operator.Role))
			if o.cfg.Server.AdminToken != "" {
				req.Header.Set("X-Admin-Token", o.cfg.Server.AdminToken)
			}

			client := &http.Client{Timeout: rekeyTimeout}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("contacting server: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("rekey failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (default from server.addr)")
	return cmd
}

// baseURL turns a listen address into a loopback URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}
