package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telnet2/mcpchat/internal/agent"
	"github.com/telnet2/mcpchat/internal/provider"
)

var (
	chatModel    string
	chatMaxSteps int
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the AI agent",
	Long: `Start a conversation with the AI agent. The agent can call tools on the
connected MCP servers to answer you.

With a message argument the agent answers once and exits; without one an
interactive session starts. Inside the session, /tools lists the catalog,
/reset clears the conversation and /quit exits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use (default from OPENAI_MODEL)")
	chatCmd.Flags().IntVar(&chatMaxSteps, "max-steps", 0, "Maximum completion rounds per message")
}

func runChat(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.close()

	model := st.settings.OpenAIModel
	if chatModel != "" {
		model = chatModel
	}
	prov, err := provider.NewOpenAIProvider(cmd.Context(), provider.OpenAIConfig{
		APIKey:      st.settings.OpenAIAPIKey,
		BaseURL:     st.settings.OpenAIBaseURL,
		Model:       model,
		MaxTokens:   st.settings.OpenAIMaxTokens,
		Temperature: st.settings.OpenAITemperature,
	})
	if err != nil {
		return err
	}

	st.connectAll(cmd.Context())

	var opts []agent.Option
	if chatMaxSteps > 0 {
		opts = append(opts, agent.WithMaxSteps(chatMaxSteps))
	}
	ag := agent.New(prov, st.dispatcher, opts...)

	if len(args) > 0 {
		return askOnce(cmd, ag, strings.Join(args, " "))
	}
	return interactive(cmd, ag, st)
}

func askOnce(cmd *cobra.Command, ag *agent.Agent, message string) error {
	turn, err := ag.HandleMessage(cmd.Context(), message)
	if err != nil {
		return err
	}
	printTurn(turn)
	return nil
}

func interactive(cmd *cobra.Command, ag *agent.Agent, st *stack) error {
	tools := st.dispatcher.ListAvailableTools()
	fmt.Printf("connected: %d tool(s) available. /quit to exit.\n\n", len(tools))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/reset":
			ag.Reset()
			fmt.Println("conversation cleared")
			continue
		case "/tools":
			for _, tool := range st.dispatcher.ListAvailableTools() {
				fmt.Printf("  %s  %s\n", tool.Qualified(), tool.Description)
			}
			continue
		case "/servers":
			for _, status := range st.supervisor.Statuses() {
				fmt.Printf("  %s  %s (%d tools)\n", status.Name, status.State, status.ToolCount)
			}
			continue
		}

		turn, err := ag.HandleMessage(cmd.Context(), line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printTurn(turn)
	}
}

func printTurn(turn *agent.Turn) {
	for _, outcome := range turn.Invocations {
		status := "ok"
		if outcome.Err != nil {
			status = outcome.Err.Error()
		} else if outcome.Result != nil && outcome.Result.IsError {
			status = "tool error"
		}
		fmt.Printf("  [%s.%s %s %s]\n",
			outcome.Server, outcome.Tool, outcome.Latency.Round(time.Millisecond), status)
	}
	fmt.Printf("%s\n\n", turn.Response)
}
