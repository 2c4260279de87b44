package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect to enabled servers and list the discovered tools",
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.close()

	st.connectAll(cmd.Context())

	tools := st.dispatcher.ListAvailableTools()
	if len(tools) == 0 {
		fmt.Println("no tools available")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\n", tool.Qualified(), tool.Description)
	}
	return w.Flush()
}
