package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var (
		filename string
		bucket   string
		headers  []string
	)

	cmd := &cobra.Command{
		Use:     "get <url>...",
		Short:   "Download one or more URLs",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename != "" && len(args) > 1 {
				return errors.New("--output can only be used with a single URL")
			}
			hdrs, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			g := eng.DefaultGroup()
			w := newWatcher(len(args) == 1)
			g.AddGroupListener(w)
			defer g.RemoveGroupListener(w)

			ids := make([]uuid.UUID, 0, len(args))
			for _, url := range args {
				opts := eng.Options()
				opts.Filename = filename
				opts.Bucket = bucket
				opts.Headers = hdrs

				d, err := eng.AddDownload(url, opts, w)
				if err != nil {
					return err
				}
				w.track(d)
				ids = append(ids, d.ID)
			}

			if err := g.StartDownloads(ids...); err != nil {
				return err
			}

			return w.wait(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&filename, "output", "o", "", "File name (inferred from the server when not set)")
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Write to a blob bucket URL (file:// or mem://) instead of the download directory")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Custom request header like 'Authorization: Bearer x'; can be repeated")

	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	hdrs := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		hdrs[k] = strings.TrimSpace(v)
	}
	return hdrs, nil
}
