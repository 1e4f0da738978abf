package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nimburion/odemkv/pkg/odem"
)

// withSession opens the store for the duration of run.
func (r *root) withSession(run func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := r.open(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := s.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return run(cmd, s, args)
	}
}

func parseValue(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("value must be valid JSON: %w", err)
	}
	return value, nil
}

func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func (r *root) getCommand() *cobra.Command {
	var fallback string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the record stored at key",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&fallback, "default", "null", "JSON value printed when the record is missing")
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, args []string) error {
		ifMissing, err := parseValue(fallback)
		if err != nil {
			return fmt.Errorf("--default: %w", err)
		}
		value, err := s.adapter.Read(cmd.Context(), args[0], odem.ReadOptions{IfMissing: ifMissing})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), value)
	})
	return cmd
}

func (r *root) putCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <key> <json>",
		Short: "Store a JSON record at key, replacing any previous one",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, args []string) error {
		value, err := parseValue(args[1])
		if err != nil {
			return err
		}
		_, err = s.adapter.Write(cmd.Context(), args[0], value)
		return err
	})
	return cmd
}

func (r *root) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <template> <json>",
		Short: "Store a JSON record under a new key, %u in template is replaced by a UUID",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, args []string) error {
		value, err := parseValue(args[1])
		if err != nil {
			return err
		}
		key, err := s.adapter.Create(cmd.Context(), args[0], value)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
		return err
	})
	return cmd
}

func (r *root) hasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "has <key>",
		Short: "Print whether a record exists at key",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, args []string) error {
		ok, err := s.adapter.Has(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ok)
		return err
	})
	return cmd
}

func (r *root) removeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove"},
		Short:   "Remove the record at key and every record nested below it",
		Args:    cobra.ExactArgs(1),
	}
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, args []string) error {
		key, err := s.adapter.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
		return err
	})
	return cmd
}

func (r *root) keysCommand() *cobra.Command {
	var opts odem.KeyStreamOptions
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List record keys",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&opts.Prefix, "under", "", "list keys below this key only")
	cmd.Flags().IntVar(&opts.MaxDepth, "depth", 0, "truncate keys to this many segments (0 = unlimited)")
	cmd.Flags().StringVar(&opts.Separator, "separator", odem.DefaultSeparator, "key segment separator")
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, _ []string) error {
		stream := s.adapter.KeyStream(cmd.Context(), opts)
		defer stream.Close()

		out := cmd.OutOrStdout()
		for stream.Next() {
			if _, err := fmt.Fprintln(out, stream.Key()); err != nil {
				return err
			}
		}
		return stream.Err()
	})
	return cmd
}

func (r *root) purgeCommand() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every record below the configured prefix",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm removing all records")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if !confirmed {
			return fmt.Errorf("purge removes all records, re-run with --yes to confirm")
		}
		return r.withSession(func(cmd *cobra.Command, s *session, _ []string) error {
			if err := s.adapter.Purge(cmd.Context()); err != nil {
				return err
			}
			s.log.Info("purged records", "prefix", s.adapter.Prefix())
			return nil
		})(cmd, args)
	}
	return cmd
}
