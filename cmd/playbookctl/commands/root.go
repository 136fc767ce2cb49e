package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ace-agents/playbook/pkg/config"
	"github.com/ace-agents/playbook/pkg/logging"
	"github.com/ace-agents/playbook/pkg/playbook"
)

var (
	version string
	commit  string
	date    string
)

// Persistent flags shared by every subcommand.
var (
	configPath     string
	playbookPath   string
	guardrailsPath string
	domainFlag     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "playbookctl",
	Short: "Playbookctl - inspect and maintain an agent playbook store",
	Long: `Playbookctl works against the persistent playbook documents that a
browser-automation agent accumulates across runs: curated tips, run history,
user preferences and guardrails.

It can list the active tips, preview the prompt overlay for a task, record a
completed run from a JSON payload, and export the raw document.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&playbookPath, "playbook", "", "Path to the playbook document (file backend)")
	rootCmd.PersistentFlags().StringVar(&guardrailsPath, "guardrails", "", "Path to the guardrails document (file backend)")
	rootCmd.PersistentFlags().StringVar(&domainFlag, "domain", "", "Playbook domain to operate on")
}

// loadConfig resolves the effective config from the file and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if playbookPath != "" {
		cfg.Storage.Backend = "file"
		cfg.Storage.PlaybookPath = playbookPath
	}
	if guardrailsPath != "" {
		cfg.Storage.GuardrailPath = guardrailsPath
	}
	return cfg, nil
}

// openManager builds storage from the config and opens the engine. The
// caller must Close the manager.
func openManager(ctx context.Context) (*playbook.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Logging.Level),
		Outputs:  []logging.Output{logging.NewConsoleOutput(true)},
	}))

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engineCfg := playbook.Config{
		MaxActiveTips:    cfg.Engine.MaxActiveTips,
		MaxPreferences:   cfg.Engine.MaxPreferences,
		MaxEntries:       cfg.Engine.MaxEntries,
		DecayPerDay:      cfg.Engine.DecayPerDay,
		EvictBelow:       cfg.Engine.EvictBelow,
		SelectLimit:      cfg.Engine.SelectLimit,
		FallbackLimit:    cfg.Engine.FallbackLimit,
		ScoreThreshold:   cfg.Engine.ScoreThreshold,
		MaxReflectedTips: cfg.Reflector.MaxTips,
		AsyncReflection:  cfg.Reflector.Async,
	}

	var reflector playbook.Reflector
	if cfg.Reflector.Enabled && cfg.Reflector.APIKey != "" {
		reflector, err = playbook.NewAnthropicReflector(
			cfg.Reflector.APIKey, cfg.Reflector.Model, cfg.Reflector.MaxTips)
		if err != nil {
			storage.Close()
			return nil, err
		}
	}

	mgr, err := playbook.NewManager(ctx, engineCfg, storage, reflector)
	if err != nil {
		storage.Close()
		return nil, err
	}
	return mgr, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (playbook.Storage, error) {
	switch cfg.Storage.Backend {
	case "file":
		return playbook.NewFileStorage(cfg.Storage.PlaybookPath, cfg.Storage.GuardrailPath), nil
	case "sqlite":
		return playbook.NewSQLiteStorage(cfg.Storage.SQLitePath)
	case "redis":
		return playbook.NewRedisStorage(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisDB, cfg.Storage.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
