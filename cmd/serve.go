package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextforge/rulegraph/internal/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rule engine as an MCP server over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveWatch {
			cfg.Source.Watch = true
		}

		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		if _, err := o.LoadHierarchy(); err != nil {
			return fmt.Errorf("load hierarchy: %w", err)
		}
		if err := o.Watch(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}

		return server.ServeStdio(newMCPServer(o))
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload rules on file changes")
	rootCmd.AddCommand(serveCmd)
}

// newMCPServer registers the engine's operations as MCP tools.
func newMCPServer(o *orchestrator.Orchestrator) *server.MCPServer {
	s := server.NewMCPServer(
		"rulegraph",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("build_hierarchy",
			mcp.WithDescription("Reload the rule hierarchy from disk and report its rules"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			n, err := o.LoadHierarchy()
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("loaded %d rules:\n%s",
				n, strings.Join(o.Rules(), "\n"))), nil
		},
	)

	s.AddTool(
		mcp.NewTool("compose_rule",
			mcp.WithDescription("Compose a rule with its inheritance chain into one document"),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Rule path relative to the hierarchy root")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := o.ComposeRule(path)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			out, err := oj.Marshal(res, 2)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(out)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("resolve_chain",
			mcp.WithDescription("Resolve a rule's inheritance chain, root first"),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Rule path relative to the hierarchy root")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			chain, err := o.ResolveChain(path)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(strings.Join(chain, " -> ")), nil
		},
	)

	s.AddTool(
		mcp.NewTool("validate_hierarchy",
			mcp.WithDescription("Check the hierarchy for cycles, orphans, and conflicts"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out, err := oj.Marshal(o.Validate(), 2)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(out)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("cache_status",
			mcp.WithDescription("Report composition cache statistics"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out, err := oj.Marshal(o.CacheStats(), 2)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(out)), nil
		},
	)

	return s
}
