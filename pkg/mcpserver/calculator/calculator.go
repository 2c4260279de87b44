// Package calculator provides a small MCP server with arithmetic tools,
// used to exercise the client stack end to end without external servers.
package calculator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates the calculator MCP server.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"calculator",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	sumTool := mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Numbers to add"),
			mcp.Items(map[string]any{
				"type": "number",
			}),
		),
	)
	s.AddTool(sumTool, sumHandler)

	divideTool := mcp.NewTool("divide",
		mcp.WithDescription("Divides one number by another"),
		mcp.WithNumber("dividend",
			mcp.Required(),
			mcp.Description("The number to divide"),
		),
		mcp.WithNumber("divisor",
			mcp.Required(),
			mcp.Description("The number to divide by"),
		),
	)
	s.AddTool(divideTool, divideHandler)

	return s
}

func sumHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	raw, ok := args["numbers"]
	if !ok {
		return mcp.NewToolResultError("numbers argument is required"), nil
	}

	numbers, err := toFloat64Slice(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid numbers: %v", err)), nil
	}

	var sum float64
	for _, n := range numbers {
		sum += n
	}
	return mcp.NewToolResultText(formatFloat(sum)), nil
}

func divideHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dividend, err := request.RequireFloat("dividend")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	divisor, err := request.RequireFloat("divisor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if divisor == 0 {
		return mcp.NewToolResultError("division by zero"), nil
	}
	return mcp.NewToolResultText(formatFloat(dividend / divisor)), nil
}

func toFloat64Slice(v any) ([]float64, error) {
	switch arr := v.(type) {
	case []any:
		result := make([]float64, len(arr))
		for i, elem := range arr {
			switch n := elem.(type) {
			case float64:
				result[i] = n
			case int:
				result[i] = float64(n)
			case int64:
				result[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is not a number: %T", i, elem)
			}
		}
		return result, nil
	case []float64:
		return arr, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

// formatFloat drops trailing zeros so "6.0" renders as "6".
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
