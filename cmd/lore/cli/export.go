package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/redact"
	"github.com/varalys/lore/cmd/lore/cli/validation"
)

func newExportCmd() *cobra.Command {
	var (
		output     string
		redactFlag bool
	)

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session as markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd, formatMarkdown, formatJSON)
			if err != nil {
				return err
			}
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.FindSessionByIDPrefix(args[0])
			if err != nil {
				return err
			}
			messages, err := st.GetMessages(sess.ID)
			if err != nil {
				return err
			}
			if redactFlag {
				messages = redact.Messages(messages)
			}

			summary := ""
			if s, sumErr := st.GetSummary(sess.ID); sumErr == nil {
				summary = s.Content
				if redactFlag {
					summary = redact.String(summary)
				}
			}
			tags, _ := st.GetTags(sess.ID)

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			if format == formatJSON {
				return printJSON(out, map[string]any{
					"session":  sess,
					"messages": messages,
					"summary":  summary,
					"tags":     tags,
				})
			}
			renderMarkdown(out, sess, messages, summary, tags)
			return nil
		},
	}

	addFormatFlag(cmd, formatMarkdown, formatJSON)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&redactFlag, "redact", false, "redact credentials, emails and IP addresses")
	return cmd
}
