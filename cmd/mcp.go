package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/mcp"
	"github.com/hearthware/cookd/internal/session"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant read and drive cook sessions natively. Configure
with:

  {
    "mcpServers": {
      "cookd": { "command": "cookd", "args": ["mcp"] }
    }
  }

Available tools: cook_list_recipes, cook_list_sessions,
cook_session_status, cook_start_session, cook_check_bullet,
cook_go_to_step, cook_create_timer, cook_next_action, cook_end_session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		engine := session.NewEngine(s, events.NewBroker(), nil, nil)
		srv := mcp.NewServer(s, engine)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
