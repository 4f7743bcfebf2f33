package commands

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show identity and health of every connected cluster node",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"ENDPOINT", "HOST ID", "STATE", "INFLIGHT", "BUILD", "CLUSTER START", "LEADER"})
	w.SetAutoFormatHeaders(false)
	for _, n := range client.Nodes() {
		w.Append([]string{
			n.Endpoint,
			strconv.Itoa(int(n.HostID)),
			n.State.String(),
			strconv.Itoa(n.Inflight),
			n.Build,
			n.ClusterStart.Format(time.RFC3339),
			n.LeaderAddr,
		})
	}
	w.Render()
	return nil
}
