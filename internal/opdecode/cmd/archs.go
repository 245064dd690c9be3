package cmd

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"opdecode/internal/disasm"
)

func newArchsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archs",
		Short: "List the supported architectures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			disasm.RegisterAll()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Aliases", "Bytes", "Description"})
			table.SetAutoWrapText(false)
			table.SetBorder(false)
			for _, b := range disasm.Architectures() {
				size := strconv.Itoa(b.MinLen)
				if b.MaxLen != b.MinLen {
					size += "-" + strconv.Itoa(b.MaxLen)
				}
				table.Append([]string{b.Name, strings.Join(b.Aliases, ", "), size, b.Description})
			}
			table.Render()
			return nil
		},
	}
}
