package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/odemkv/pkg/health"
	"github.com/nimburion/odemkv/pkg/version"
)

func (r *root) healthcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured store",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, _ []string) error {
		registry := health.NewRegistry()
		registry.Register(storeChecker(s))

		result := registry.Check(cmd.Context())
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.IsHealthy() {
			return fmt.Errorf("store is %s", result.Status)
		}
		return nil
	})
	return cmd
}

func (r *root) configCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials hidden",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := r.loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			return enc.Close()
		},
	})
	return configCmd
}

func (r *root) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Current(r.opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
}
