// Package cli assembles the docops command tree: configuration loading, the
// runtime wiring stores, cache and mirrors together, and the commands that
// drive them.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nimburion/docops/pkg/config"
	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/spf13/cobra"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
)

// CommandPolicy tells deployment tooling when a command may run.
type CommandPolicy string

const (
	PolicyAlways   CommandPolicy = "always"
	PolicyRun      CommandPolicy = "run"
	PolicyOnDemand CommandPolicy = "on_demand"
)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer

	// NewRuntime overrides how commands build their runtime.
	NewRuntime RuntimeFactory
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configFile  string
	secretFile  string
	serviceName string
}

// NewCommand creates the docops CLI.
func NewCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "docops"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.NewRuntime == nil {
		opts.NewRuntime = NewRuntime
	}

	root := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Out)
	SetCommandPolicies(root, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	flags := &rootFlags{}
	root.PersistentFlags().StringVarP(&flags.configFile, "config-file", "c", opts.ConfigPath, "config file path")
	root.PersistentFlags().StringVar(&flags.secretFile, "secret-file", "", "path to secrets file (sets "+opts.EnvPrefix+"_SECRETS_FILE)")
	root.PersistentFlags().StringVar(&flags.serviceName, "service-name", "", "service name override")

	env := &commandEnv{opts: opts, flags: flags}
	root.AddCommand(
		policy(newVersionCommand(env), PolicyAlways),
		policy(newConfigCommand(env), PolicyAlways),
		policy(newKeysCommand(env), PolicyAlways),
		policy(newQueryCommand(env), PolicyOnDemand),
		policy(newInvokeCommand(env), PolicyOnDemand),
		policy(newCacheCommand(env), PolicyRun),
		policy(newHealthcheckCommand(env), PolicyAlways),
	)

	root.CompletionOptions.DisableDefaultCmd = false
	root.InitDefaultCompletionCmd()
	for _, sub := range root.Commands() {
		if sub.Name() == "completion" {
			SetCommandPolicies(sub, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}
	return root
}

func policy(cmd *cobra.Command, p CommandPolicy) *cobra.Command {
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: p})
	for _, sub := range cmd.Commands() {
		SetCommandPolicies(sub, map[string]CommandPolicy{defaultPolicyContext: p})
	}
	return cmd
}

// SetCommandPolicies stores policies on command annotations using the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for key := range cmd.Annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			delete(cmd.Annotations, key)
		}
	}
	for name, p := range policies {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+name] = string(p)
	}
}

// GetCommandPolicies reads the policies stored by SetCommandPolicies.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		name := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if name == key || strings.TrimSpace(name) == "" {
			continue
		}
		out[name] = value
	}
	return out
}

// LoadConfigAndLogger loads configuration (with the secrets overlay) and
// builds the logger it describes. The second return value holds the values
// that came from the secrets file, for redaction.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string) (*config.Config, *config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, envPrefix).LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	async := cfg.Observability.AsyncLogging
	log := logger.WrapAsync(base, logger.AsyncConfig{
		Enabled:      async.Enabled,
		QueueSize:    async.QueueSize,
		WorkerCount:  async.WorkerCount,
		DropWhenFull: async.DropWhenFull,
	})
	log.Debug("configuration loaded", "config_file", cfgPath, "database", cfg.Database.Type, "cache", cfg.Cache.Type)
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	secretFilePath = strings.TrimSpace(secretFilePath)
	if secretFilePath == "" {
		return nil
	}
	if envPrefix == "" {
		envPrefix = config.DefaultEnvPrefix
	}
	return os.Setenv(strings.ToUpper(envPrefix)+"_SECRETS_FILE", secretFilePath)
}

// resolveServiceName picks the service name: flag override, then config,
// then the command name.
func resolveServiceName(configured, commandName, override string) string {
	if name := strings.TrimSpace(override); name != "" {
		return name
	}
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	if name := strings.TrimSpace(commandName); name != "" {
		return name
	}
	return "docops"
}

// Execute runs the command with ctx and exits non-zero on error.
func Execute(ctx context.Context, cmd *cobra.Command) {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
