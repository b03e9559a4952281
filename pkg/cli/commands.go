package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/nimburion/docops/pkg/config"
	"github.com/nimburion/docops/pkg/configschema"
	"github.com/nimburion/docops/pkg/health"
	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/observability/metrics"
	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// commandEnv is shared by the subcommands of one root command.
type commandEnv struct {
	opts  Options
	flags *rootFlags
}

func (e *commandEnv) load() (*config.Config, *config.Config, logger.Logger, error) {
	cfg, secrets, log, err := LoadConfigAndLogger(e.flags.configFile, e.opts.EnvPrefix, e.flags.secretFile)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Service.Name = resolveServiceName(cfg.Service.Name, e.opts.Name, e.flags.serviceName)
	return cfg, secrets, log, nil
}

// runtime loads config and builds the runtime. The returned func releases
// both and must be called even when the command fails.
func (e *commandEnv) runtime(cmd *cobra.Command) (*Runtime, func(), error) {
	cfg, _, log, err := e.load()
	if err != nil {
		return nil, nil, err
	}
	rt, err := e.opts.NewRuntime(cmd.Context(), cfg, log)
	if err != nil {
		closeLogger(log)
		return nil, nil, err
	}
	return rt, func() {
		if err := rt.Close(cmd.Context()); err != nil {
			log.Warn("runtime close failed", "error", err)
		}
		closeLogger(log)
	}, nil
}

func closeLogger(log logger.Logger) {
	if c, ok := log.(interface{ Close() }); ok {
		c.Close()
	}
	if s, ok := log.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func newVersionCommand(e *commandEnv) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(resolveServiceName("", e.opts.Name, e.flags.serviceName))
			if output != "text" {
				return writeOutput(cmd.OutOrStdout(), output, info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s %s\n", info.GoVersion, info.Platform)
			return nil
		},
	}
	outputFlag(cmd.Flags(), &output, "text", "json", "yaml")
	return cmd
}

func newConfigCommand(e *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, log, err := e.load()
			if err != nil {
				return err
			}
			defer closeLogger(log)
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := configschema.BuildSchema(nil)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), "json", schema)
		},
	})

	var showSecrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, log, err := e.load()
			if err != nil {
				return err
			}
			defer closeLogger(log)
			if showSecrets {
				fmt.Fprint(cmd.OutOrStdout(), cfg.Unredacted())
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
			return nil
		},
	}
	show.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	cmd.AddCommand(show)
	return cmd
}

func newKeysCommand(e *commandEnv) *cobra.Command {
	var types bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the base cache key of every registered operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, done, err := e.runtime(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			for _, key := range rt.Catalog.Keys() {
				if !types {
					fmt.Fprintln(out, key)
					continue
				}
				node, _ := rt.Catalog.Lookup(key)
				fmt.Fprintf(out, "%s\t%s -> %s\n", key, typeName(node.InputType()), typeName(node.OutputType()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&types, "types", false, "also print input and output types")
	return cmd
}

func newQueryCommand(e *commandEnv) *cobra.Command {
	var (
		vars        string
		output      string
		dumpMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Run query variables against a collection and print the validated records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v query.Variables
			if strings.TrimSpace(vars) != "" {
				if err := json.Unmarshal([]byte(vars), &v); err != nil {
					return fmt.Errorf("parse --vars: %w", err)
				}
			}
			if err := v.Validate(); err != nil {
				return err
			}

			rt, done, err := e.runtime(cmd)
			if err != nil {
				return err
			}
			defer done()

			records, err := rt.Members.Collection(cmd.Context(), args[0], v)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), output, records); err != nil {
				return err
			}
			if dumpMetrics {
				return rt.Metrics.WriteText(cmd.ErrOrStderr(), metrics.Namespace)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vars, "vars", "", `query variables as JSON, e.g. {"filterBy":[{"field":"status","operator":"==","value":"active"}]}`)
	outputFlag(cmd.Flags(), &output, "json", "yaml")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "print collected metrics to stderr")
	return cmd
}

func newInvokeCommand(e *commandEnv) *cobra.Command {
	var (
		input       string
		uid         string
		claims      string
		output      string
		dumpMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "invoke <segment>...",
		Short: "Invoke a registered operation by its key path",
		Example: `  docops invoke members admin list --input '{}'
  docops invoke members create --uid u1 --input '{"id":"u1","name":"Ada","email":"ada@example.org"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, done, err := e.runtime(cmd)
			if err != nil {
				return err
			}
			defer done()

			node, ok := rt.Catalog.Lookup(registry.CacheKey(args))
			if !ok || !node.Base().Equal(registry.CacheKey(args)) {
				return fmt.Errorf("no operation registered at %s", registry.CacheKey(args))
			}
			in, err := decodeInput(node.InputType(), input)
			if err != nil {
				return err
			}

			ctx := logger.ContextWithFields(cmd.Context(), "op", node.Base().String())
			if uid != "" {
				p := document.Principal{UID: uid}
				if claims != "" {
					if err := json.Unmarshal([]byte(claims), &p.Claims); err != nil {
						return fmt.Errorf("parse --claims: %w", err)
					}
				}
				ctx = document.ContextWithPrincipal(ctx, p)
				ctx = logger.ContextWithFields(ctx, "uid", uid)
			}

			result, err := node.Invoke(ctx, in)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), output, result); err != nil {
				return err
			}
			if dumpMetrics {
				return rt.Metrics.WriteText(cmd.ErrOrStderr(), metrics.Namespace)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "operation input as JSON")
	cmd.Flags().StringVar(&uid, "uid", "", "principal uid for scoped operations")
	cmd.Flags().StringVar(&claims, "claims", "", "principal claims as a JSON object")
	outputFlag(cmd.Flags(), &output, "json", "yaml")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "print collected metrics to stderr")
	return cmd
}

func newCacheCommand(e *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Query cache commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <segment>... | <json key>",
		Short: "Drop every cached result whose key starts with the given prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := registry.CacheKey(args)
			if len(args) == 1 && strings.HasPrefix(args[0], "[") {
				parsed, err := registry.ParseCacheKey(args[0])
				if err != nil {
					return err
				}
				prefix = parsed
			}

			rt, done, err := e.runtime(cmd)
			if err != nil {
				return err
			}
			defer done()
			if rt.QueryCache == nil {
				return errors.New("query cache is disabled (cache.type: none)")
			}
			if err := rt.QueryCache.Invalidate(cmd.Context(), prefix); err != nil {
				return err
			}
			rt.Log.Info("cache invalidated", "prefix", prefix.String())
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", prefix)
			return nil
		},
	})
	return cmd
}

func newHealthcheckCommand(e *commandEnv) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the document store and the query cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, done, err := e.runtime(cmd)
			if err != nil {
				return err
			}
			defer done()

			res := rt.Health.Check(cmd.Context())
			if output == "text" {
				out := cmd.OutOrStdout()
				for _, c := range res.Checks {
					line := fmt.Sprintf("%-10s %-9s %s", c.Name, c.Status, c.Duration.Round(time.Microsecond))
					if c.Error != "" {
						line += "  " + c.Error
					}
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "overall    %s\n", res.Status)
			} else if err := writeOutput(cmd.OutOrStdout(), output, res); err != nil {
				return err
			}
			if res.Status == health.StatusUnhealthy {
				return errors.New("one or more dependencies are unhealthy")
			}
			return nil
		},
	}
	outputFlag(cmd.Flags(), &output, "text", "json", "yaml")
	return cmd
}

// decodeInput builds a value of type t from JSON. Empty input yields the
// zero value.
func decodeInput(t reflect.Type, raw string) (any, error) {
	ptr := reflect.New(t)
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
			return nil, fmt.Errorf("parse --input as %s: %w", typeName(t), err)
		}
	}
	return ptr.Elem().Interface(), nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "-"
	}
	return t.String()
}

// outputFlag registers --output/-o. The first format is the default.
func outputFlag(fs *pflag.FlagSet, target *string, formats ...string) {
	fs.StringVarP(target, "output", "o", formats[0], "output format: "+strings.Join(formats, ", "))
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Go through JSON so yaml keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
