package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show parley status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Parley %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Printf("Config:      %s\n", paths.Config)
			fmt.Printf("Data:        %s\n", paths.Data)
			fmt.Printf("Transcripts: %s\n", paths.Transcripts)
			fmt.Println()

			// Load config
			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:      not found (using defaults)")
				} else {
					fmt.Printf("Config:      error loading: %v\n", err)
				}
				return nil
			}

			fmt.Printf("Conversation: id=%s", cfg.Conversation.ID)
			if cfg.Conversation.Title != "" {
				fmt.Printf(" title=%q", cfg.Conversation.Title)
			}
			fmt.Println()

			if len(cfg.Participants) > 0 {
				for _, p := range cfg.Participants {
					name := p.Name
					if name == "" {
						name = p.ID
					}
					fmt.Printf("Participant:  id=%s name=%s command=%s\n", p.ID, name, p.Command)
				}
			} else {
				fmt.Println("Participant:  (none configured)")
			}

			fmt.Printf("Store:        backend=%s\n", cfg.Store.Backend)
			if cfg.Gateway.Enabled {
				fmt.Printf("Gateway:      port=%d bind=%s auth=%s\n",
					cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
			} else {
				fmt.Println("Gateway:      disabled")
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			// If a daemon is up, show the live conversation state.
			if cfg.Gateway.Enabled {
				rc, err := dialGateway(cmd.Context(), "127.0.0.1", cfg)
				if err != nil {
					fmt.Println("\nDaemon:       not reachable")
					return nil
				}
				defer rc.Close()

				var status domain.ConversationStatus
				if err := rc.Call("conversation.status", nil, &status); err != nil {
					fmt.Printf("\nDaemon:       up, status unavailable: %v\n", err)
					return nil
				}
				fmt.Println()
				printStatus(status)
			}

			return nil
		},
	}

	return cmd
}
