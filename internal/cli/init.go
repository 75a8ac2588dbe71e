package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skohara/lanekeeper/internal/model"
	"github.com/skohara/lanekeeper/internal/setup"
)

// InitCmd scaffolds the .lanekeeper state directory.
func InitCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a lanekeeper project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := setup.Run(dir, name); err != nil {
				return err
			}
			fmt.Printf("%s initialized %s/%s\n", okMark, dir, model.StateDirName)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to directory basename)")
	return cmd
}
