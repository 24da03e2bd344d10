// Command mcp-client is an interactive REPL against a clawlens MCP server,
// used for poking at the history store without an MCP-capable agent.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mcp-client <server-command> [<args>]")
		fmt.Fprintln(os.Stderr, "Example: mcp-client ./clawlens")
		os.Exit(2)
	}

	ctx := context.Background()

	// Start the server as a subprocess
	cmd := exec.Command(args[0], args[1:]...)
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "clawlens-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	fmt.Println("Connected to ClawLens MCP Server!")
	fmt.Println("Available commands:")
	fmt.Println("  /tools                  - List available tools")
	fmt.Println("  /metrics <name> [interval_secs] - Bucketed averages for a metric")
	fmt.Println("  /names                  - List recorded metric names")
	fmt.Println("  /sessions [key]         - Recent session observations")
	fmt.Println("  /crons [job_id]         - Recent cron runs")
	fmt.Println("  /snapshot [unix_secs]   - Nearest raw gateway snapshot")
	fmt.Println("  /stats                  - Store statistics")
	fmt.Println("  /collect                - Run a collection cycle now")
	fmt.Println("  /exit                   - Exit the client")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case input == "/exit":
			fmt.Println("Goodbye!")
			return

		case input == "/tools":
			listTools(ctx, session)

		case strings.HasPrefix(input, "/metrics"):
			parts := strings.Fields(input)
			if len(parts) < 2 {
				fmt.Println("Usage: /metrics <name> [interval_secs]")
				continue
			}
			args := map[string]interface{}{"metric": parts[1]}
			if len(parts) > 2 {
				if n, err := strconv.Atoi(parts[2]); err == nil {
					args["interval_seconds"] = n
				}
			}
			callTool(ctx, session, "query_metrics", args)

		case input == "/names":
			callTool(ctx, session, "list_metrics", map[string]interface{}{})

		case strings.HasPrefix(input, "/sessions"):
			parts := strings.Fields(input)
			args := map[string]interface{}{}
			if len(parts) > 1 {
				args["session_key"] = parts[1]
			}
			callTool(ctx, session, "query_sessions", args)

		case strings.HasPrefix(input, "/crons"):
			parts := strings.Fields(input)
			args := map[string]interface{}{}
			if len(parts) > 1 {
				args["job_id"] = parts[1]
			}
			callTool(ctx, session, "query_crons", args)

		case strings.HasPrefix(input, "/snapshot"):
			parts := strings.Fields(input)
			args := map[string]interface{}{}
			if len(parts) > 1 {
				if ts, err := strconv.ParseFloat(parts[1], 64); err == nil {
					args["ts"] = ts
				}
			}
			callTool(ctx, session, "query_snapshot", args)

		case input == "/stats":
			callTool(ctx, session, "history_stats", map[string]interface{}{})

		case input == "/collect":
			callTool(ctx, session, "collect_now", map[string]interface{}{})

		default:
			fmt.Println("Unknown command. Try /tools.")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Scanner error: %v", err)
	}
}

func listTools(ctx context.Context, session *mcp.ClientSession) {
	fmt.Println("Available Tools:")
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			log.Printf("Error listing tools: %v", err)
			return
		}
		fmt.Printf("  - %s: %s\n", tool.Name, tool.Description)
	}
	fmt.Println()
}

func callTool(ctx context.Context, session *mcp.ClientSession, toolName string, args map[string]interface{}) {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		log.Printf("Error calling tool: %v", err)
		return
	}

	printResult(result)
}

func printResult(result *mcp.CallToolResult) {
	if result.IsError {
		fmt.Printf("❌ Error: ")
	} else {
		fmt.Printf("✅ Result: ")
	}

	for _, content := range result.Content {
		switch v := content.(type) {
		case *mcp.TextContent:
			fmt.Println(v.Text)
		default:
			jsonData, err := json.MarshalIndent(content, "", "  ")
			if err != nil {
				fmt.Printf("%+v\n", content)
			} else {
				fmt.Println(string(jsonData))
			}
		}
	}
	fmt.Println()
}
