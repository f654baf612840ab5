package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okian/baseline/internal/app"
	"github.com/okian/baseline/internal/domain/catalog"
)

func newTestsCmd() *cobra.Command {
	var bundle, idiom string
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List the psych tests of a resource bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.LoadFile(filepath.Join(bundle, app.TestsFile))
			if err != nil {
				return err
			}
			switch catalog.Idiom(idiom) {
			case "":
				return printJSON(cmd.OutOrStdout(), cat.All())
			case catalog.IdiomPhone, catalog.IdiomPad:
				tests := cat.Available(catalog.Idiom(idiom))
				if tests == nil {
					tests = []catalog.Info{}
				}
				return printJSON(cmd.OutOrStdout(), tests)
			default:
				return fmt.Errorf("unknown idiom %q", idiom)
			}
		},
	}
	cmd.Flags().StringVar(&bundle, "bundle", ".", "study resource directory")
	cmd.Flags().StringVar(&idiom, "idiom", "", "only tests supporting this idiom: phone or pad")
	return cmd
}
