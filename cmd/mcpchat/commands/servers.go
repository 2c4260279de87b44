package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var serversConnect bool

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured MCP servers and their state",
	RunE:  runServers,
}

func init() {
	serversCmd.Flags().BoolVar(&serversConnect, "connect", false, "Connect to enabled servers before listing")
}

func runServers(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.close()

	if serversConnect {
		st.connectAll(cmd.Context())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tENABLED\tTOOLS\tPEER\tERROR")
	for _, status := range st.supervisor.Statuses() {
		peer := ""
		if status.Info != nil {
			peer = fmt.Sprintf("%s %s", status.Info.Name, status.Info.Version)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n",
			status.Name, status.State, status.Enabled, status.ToolCount, peer, status.Error)
	}
	return w.Flush()
}
