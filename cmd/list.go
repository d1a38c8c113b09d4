package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/gdl/internal/common"
)

func newListCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored downloads",
		Args:    cobra.NoArgs,
		PreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *common.State
			if state != "" {
				st, ok := common.ParseState(strings.ToUpper(state))
				if !ok {
					return fmt.Errorf("unknown state %q", state)
				}
				filter = &st
			}

			infos, err := eng.History()
			if err != nil {
				return err
			}
			sort.SliceStable(infos, func(i, j int) bool {
				return infos[i].Filename < infos[j].Filename
			})

			t := newTable("ID", "Name", "Status", "Progress", "Size", "Path")
			rows := 0
			for _, info := range infos {
				if filter != nil && info.Status != *filter {
					continue
				}
				t.Row(
					info.ID.String(),
					name(info),
					stateStyle(info.Status).Render(info.Status.String()),
					formatPercent(common.Percentage(info.Downloaded, info.ContentLength)),
					formatBytes(info.ContentLength),
					info.FilePath,
				)
				rows++
			}

			if rows == 0 {
				PrintInfo("No downloads")
				return nil
			}
			fmt.Println(t.String())

			return nil
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "Only show downloads in this state (enqueued, running, paused, stopped, failure, success)")

	return cmd
}
