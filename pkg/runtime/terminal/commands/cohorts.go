package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/services/cohort"
	"github.com/spf13/cobra"
)

type CohortsCmd struct {
	load ConfigLoader
	root string
}

func NewCohortsCmd(load ConfigLoader) *cobra.Command {
	cc := &CohortsCmd{load: load}
	cmd := &cobra.Command{
		Use:   "cohorts",
		Short: "List cohort directories, their start dates and pack extracts",
		RunE:  cc.run,
	}

	cmd.Flags().StringVar(&cc.root, "root", "", "Data root holding cohort directories (overrides data.root)")

	return cmd
}

func (cc *CohortsCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, err := cc.load()
	if err != nil {
		return err
	}
	root := cfg.Data.Root
	if cc.root != "" {
		root = cc.root
	}
	packs, err := cfg.Data.PackList()
	if err != nil {
		return err
	}

	dirs, err := cohort.Discover(root)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No cohort directories found in %s\n", root)
		return nil
	}

	year := cfg.Data.Year(time.Now())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COHORT\tSTART\tPACKS")
	for _, d := range dirs {
		start := "invalid name"
		if t, err := cohort.ParseStartDate(d.Name, year); err == nil {
			start = t.Format("2006-01-02")
		}

		present := cohort.PresentPacks(d.Path, packs)
		names := make([]string, 0, len(present))
		for _, p := range present {
			names = append(names, string(p))
		}
		if len(names) == 0 {
			names = append(names, "-")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, start, strings.Join(names, ","))
	}
	return w.Flush()
}
