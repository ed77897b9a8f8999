package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tagfeed/internal/tui"
)

func newReadCmd() *cobra.Command {
	var flags mountFlags
	cmd := &cobra.Command{
		Use:   "read [tag]",
		Short: "Scroll through a tag feed in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			mount := flags.mount(cmd, appInstance.Config().Mount(), args)
			sess, err := appInstance.NewSession(mount)
			if err != nil {
				return err
			}
			defer sess.Close()

			title := fmt.Sprintf("#%s", mount.Tag)
			if mount.DisplayName != "" {
				title += " · " + mount.DisplayName
			}
			return tui.Run(cmd.Context(), sess, title)
		},
	}
	flags.register(cmd)
	return cmd
}
