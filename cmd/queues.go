package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "List the queues of the message VPN",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		client, err := a.management()
		if err != nil {
			return err
		}
		queues, err := client.ListQueues(cmd.Context(), a.cfg.Connection.MsgVPN)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUEUE\tSPOOLED\tNETWORK TOPIC")
		for _, q := range queues {
			fmt.Fprintf(w, "%s\t%d\t%s\n", q.Name, q.SpooledMsgCount, q.NetworkTopic)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}
