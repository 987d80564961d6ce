package debug

import "github.com/spf13/cobra"

func init() {
	DebugCmd.AddCommand(decodeVaaCmd)
	DebugCmd.AddCommand(decodePayloadCmd)
}

var DebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities",
}
