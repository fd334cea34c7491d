package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/prodgraph/internal/fs"
)

func newProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the products run and watch accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products := fs.Products()
			names := make([]string, 0, len(products))
			for n := range products {
				names = append(names, n)
			}
			sort.Strings(names)

			w := cmd.OutOrStdout()
			for _, n := range names {
				subject := "path"
				if collectionProducts[products[n]] {
					subject = "globs"
				}
				fmt.Fprintf(w, "%-14s %-6s %s\n", n, subject, products[n])
			}
			return nil
		},
	}
}
