package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

func newInspectCommand() *cobra.Command {
	var (
		listObjects bool
		prefix      string
	)
	cmd := &cobra.Command{
		Use:   "inspect <searchindex.js>",
		Short: "Summarise an index file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := searchindex.Load(args[0])
			if err != nil {
				return err
			}
			sum, err := idx.Checksum()
			if err != nil {
				return err
			}
			st := idx.Stats()
			out := cmd.OutOrStdout()

			tw := newTable(out)
			fmt.Fprintf(tw, "file:\t%s\n", args[0])
			fmt.Fprintf(tw, "checksum:\t%s\n", sum)
			fmt.Fprintf(tw, "documents:\t%d\n", st.Documents)
			fmt.Fprintf(tw, "objects:\t%d in %d prefixes\n", st.Objects, st.Prefixes)
			fmt.Fprintf(tw, "terms:\t%d\n", st.Terms)
			fmt.Fprintf(tw, "title terms:\t%d\n", st.TitleTerms)
			if err := tw.Flush(); err != nil {
				return err
			}

			types := make([]int, 0, len(idx.ObjNames))
			for t := range idx.ObjNames {
				types = append(types, t)
			}
			sort.Ints(types)
			if len(types) > 0 {
				fmt.Fprintln(out, "\nobject types:")
				tw = newTable(out)
				for _, t := range types {
					n := idx.ObjNames[t]
					fmt.Fprintf(tw, "  %d\t%s:%s\t%s\n", t, n.Domain, n.Kind, n.Label)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if !listObjects {
				return nil
			}
			fmt.Fprintln(out, "\nobjects:")
			tw = newTable(out)
			for _, p := range idx.ObjectPrefixes() {
				if prefix != "" && p != prefix {
					continue
				}
				for _, e := range idx.Objects[p] {
					obj := idx.Resolve(p, e)
					fmt.Fprintf(tw, "  %s\t%s\t%s#%s\n", obj.FullName, obj.Kind, obj.FileName, obj.Anchor)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&listObjects, "objects", false, "list every documented object")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list objects under this prefix")
	return cmd
}
