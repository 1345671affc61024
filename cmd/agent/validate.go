package agent

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terrama-collector/cmd/server"
	"github.com/terrama-collector/pkg/collector"
	"github.com/terrama-collector/pkg/config"
	"github.com/terrama-collector/pkg/util"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and every resource entry without starting timers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			return err
		}
		if bad := validateResources(cmd.OutOrStdout(), cfg); bad > 0 {
			return fmt.Errorf("%d resource(s) rejected", bad)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		util.PrintBanner(cmd.OutOrStdout(), "TerraMA", "cyan", server.Version)
	},
}

// validateResources 打印每个资源的校验结果，返回被拒绝的数量
func validateResources(w io.Writer, cfg *config.Config) int {
	factory := collector.NewFactory(collector.Deps{})
	descs, errs := cfg.Descriptors()
	bad := len(errs)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tSEMANTICS\tINTERVAL\tACTIVE\tRESULT")
	for _, d := range descs {
		result := "ok"
		if _, err := factory.Build(d); err != nil {
			result = err.Error()
			bad++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.ID(), d.Semantics(), d.Interval(), d.Active(), result)
	}
	_ = tw.Flush()

	// 无法构造描述的条目不在表格中
	for _, err := range errs {
		fmt.Fprintf(w, "rejected: %v\n", err)
	}
	return bad
}
