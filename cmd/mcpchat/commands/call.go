package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telnet2/mcpchat/internal/mcp"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Invoke a single tool directly",
	Long: `Invoke one tool and print its result. The tool name may be qualified
("server.tool") or bare when only one server provides it.

Examples:
  mcpchat call calculator.sum '{"numbers": [1, 2, 3]}'
  mcpchat call divide '{"dividend": 9, "divisor": 2}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "Per-call timeout (default from MCP_TIMEOUT)")
}

func runCall(cmd *cobra.Command, args []string) error {
	var rawArgs json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("arguments must be valid JSON: %s", args[1])
		}
		rawArgs = json.RawMessage(args[1])
	}

	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.close()

	st.connectAll(cmd.Context())

	var opts []mcp.CallOption
	if callTimeout > 0 {
		opts = append(opts, mcp.WithCallTimeout(callTimeout))
	}

	outcome, err := st.dispatcher.Invoke(cmd.Context(), args[0], rawArgs, opts...)
	if err != nil {
		return err
	}

	if outcome.Result.IsError {
		return fmt.Errorf("tool error: %s", outcome.Result.Text())
	}

	fmt.Println(outcome.Result.Text())
	fmt.Printf("(%s.%s, %s, %d attempt(s))\n",
		outcome.Server, outcome.Tool, outcome.Latency.Round(time.Millisecond), outcome.Attempts)
	return nil
}
