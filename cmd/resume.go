package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/NamanBalaji/gdl/internal/downloader"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resume [id|path]...",
		Short:   "Resume stored downloads, all unfinished ones when no argument is given",
		PreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := eng.DefaultGroup()
			w := newWatcher(len(args) == 1)
			g.AddGroupListener(w)
			defer g.RemoveGroupListener(w)

			var loaded []*downloader.Download
			if len(args) == 0 {
				n, err := g.LoadIncomplete()
				if err != nil {
					return err
				}
				if n == 0 {
					PrintInfo("Nothing to resume")
					return nil
				}
				loaded = g.Downloads()
			} else {
				for _, arg := range args {
					d, err := load(arg)
					if err != nil {
						return err
					}
					if d.GetStatus().IsTerminal() {
						PrintWarning(fmt.Sprintf("%s is already %s", name(d.Info()), d.GetStatus()))
						continue
					}
					loaded = append(loaded, d)
				}
			}

			for _, d := range loaded {
				if err := g.AttachProgressListener(d.ID, w); err != nil {
					return err
				}
				w.track(d)
			}

			return w.wait(cmd.Context())
		},
	}
}

// load resolves arg as a download id, falling back to a destination path.
func load(arg string) (*downloader.Download, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return eng.Load(id, nil)
	}

	path, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}
	return eng.LoadByPath(path, nil)
}
