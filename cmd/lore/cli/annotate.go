package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/validation"
)

func newTagCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "tag <session-id> [label]",
		Short: "Tag a session, or list all tag labels",
		Long: "With a label, applies (or with --rm removes) the tag. Without\n" +
			"arguments, lists every label in use with its session count.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				labels, err := st.ListTagLabels()
				if err != nil {
					return err
				}
				names := make([]string, 0, len(labels))
				for name := range labels {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "%-24s %d\n", name, labels[name])
				}
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("expected a session id and a label")
			}

			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}
			label := strings.ToLower(args[1])
			if err := validation.TagLabel(label); err != nil {
				return err
			}

			sess, err := st.FindSessionByIDPrefix(args[0])
			if err != nil {
				return err
			}

			if remove {
				if err := st.RemoveTag(sess.ID, label); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed tag %q from %s\n", label, shortID(sess))
				return nil
			}
			if err := st.AddTag(sess.ID, label); err != nil {
				return err
			}
			fmt.Fprintf(out, "Tagged %s with %q\n", shortID(sess), label)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "rm", false, "remove the tag instead of adding it")
	return cmd
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <session-id> <note>",
		Short: "Attach a note to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}
			note := strings.TrimSpace(strings.Join(args[1:], " "))
			if note == "" {
				return fmt.Errorf("note cannot be empty")
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
			if err := st.AddAnnotation(sess.ID, note); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Annotated %s\n", shortID(sess))
			return nil
		},
	}
}
