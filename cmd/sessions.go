// File: cmd/sessions.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ghostwire/internal/store"
)

// sessionView is the listing shape of one stored artifact. Payloads are
// never printed.
type sessionView struct {
	Scope        string     `json:"scope"`
	Kind         store.Kind `json:"kind"`
	Subject      string     `json:"subject"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastActivity time.Time  `json:"last_activity"`
	Valid        bool       `json:"valid"`
}

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain the encrypted session store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			views := []sessionView{}
			for _, scope := range st.Scopes() {
				valid := st.IsValid(scope)
				a, err := st.Get(scope)
				if err != nil {
					// Expired artifacts are purged by Get; report them as gone.
					views = append(views, sessionView{Scope: scope})
					continue
				}
				views = append(views, sessionView{
					Scope:        scope,
					Kind:         a.Kind,
					Subject:      a.Subject,
					ExpiresAt:    a.ExpiresAt,
					LastActivity: a.LastActivity,
					Valid:        valid,
				})
			}
			return writeJSON(cmd, views)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			n, err := st.Prune()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired artifacts\n", n)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <scope>",
		Short: "Delete the artifact stored under scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			return st.Delete(args[0])
		},
	}

	sessionsCmd.AddCommand(list, prune, del)
	return sessionsCmd
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Session)
}
