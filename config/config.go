package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Source types accepted by --source-type.
const (
	SourceDump   = "dump"
	SourceSQLite = "sqlite"
	SourceMbox   = "mbox"
	SourceIMAP   = "imap"
)

// Config captures all command-line options required to run the exporter.
type Config struct {
	ConfigFile         string
	SourceType         string
	Source             string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	OutDir             string
	Hostname           string
	Folders            []string
	StateDir           string
	TempDir            string
	DryRun             bool
	LogLevel           string
	LogDir             string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
	IsolateMessages    bool
	StopOnError        bool
	CompensateTZ       bool
	Progress           bool
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "YAML file with flag values; flags given on the command line take precedence")
	RegisterSourceFlags(flags)
	flags.String("out", "", "Directory that receives the Maildir++ mailboxes")
	flags.String("hostname", "", "Host name used in message file names (defaults to this host)")
	flags.StringArray("folder", nil, "Export only this folder path and its descendants, e.g. Inbox/Projects (repeatable)")
	flags.String("state-dir", defaultStateDir, "Directory for the export journal")
	flags.String("temp-dir", "", "Directory for temporary message files (defaults to the system temp dir)")
	flags.Bool("dry-run", false, "Translate every message and emit stats without touching the output directory")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write the log to a timestamped file in this directory")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.Bool("isolate-messages", false, "Keep exporting a folder when one of its messages fails")
	flags.Bool("stop-on-error", false, "Cancel the export at the first failing folder")
	flags.Bool("compensate-tz", false, "Shift file times by the UTC offset difference between receive time and now")
	flags.Bool("progress", false, "Show a progress bar")

	return nil
}

// RegisterSourceFlags attaches the flags that select and open a message
// store.
func RegisterSourceFlags(flags *pflag.FlagSet) {
	flags.String("source-type", SourceDump, "Message store backend: dump, sqlite, mbox, imap")
	flags.String("source", "", "Path of the message store (dump, sqlite and mbox backends)")
	flags.String("imap-host", "", "IMAP server hostname (imap backend)")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
}

// LoadConfig converts the parsed Cobra flags, overlaid on the optional
// config file, into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	configFile, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if configFile != "" {
		if err := applyFile(flags, configFile); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	cfg.ConfigFile = configFile

	strs := []struct {
		name string
		dst  *string
	}{
		{"out", &cfg.OutDir},
		{"hostname", &cfg.Hostname},
		{"state-dir", &cfg.StateDir},
		{"temp-dir", &cfg.TempDir},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"dry-run", &cfg.DryRun},
		{"isolate-messages", &cfg.IsolateMessages},
		{"stop-on-error", &cfg.StopOnError},
		{"compensate-tz", &cfg.CompensateTZ},
		{"progress", &cfg.Progress},
	}
	for _, b := range bools {
		if *b.dst, err = flags.GetBool(b.name); err != nil {
			return Config{}, err
		}
	}

	arrays := []struct {
		name string
		dst  *[]string
	}{
		{"folder", &cfg.Folders},
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, a := range arrays {
		if *a.dst, err = flags.GetStringArray(a.name); err != nil {
			return Config{}, err
		}
	}

	if err := loadSource(flags, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)
	if cfg.OutDir != "" {
		cfg.OutDir = filepath.Clean(cfg.OutDir)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Folders = normalizeFolders(cfg.Folders)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyFile sets every flag the command line left untouched from the YAML
// file at path. Keys are flag names.
func applyFile(flags *pflag.FlagSet, path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	var applyErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if applyErr != nil || f.Changed || f.Name == "config" || !k.Exists(f.Name) {
			return
		}
		values := []string{k.String(f.Name)}
		if f.Value.Type() == "stringArray" {
			values = k.Strings(f.Name)
			if len(values) == 0 && k.String(f.Name) != "" {
				values = []string{k.String(f.Name)}
			}
		}
		for _, v := range values {
			if err := flags.Set(f.Name, v); err != nil {
				applyErr = fmt.Errorf("config file %s: %s: %w", path, f.Name, err)
				return
			}
		}
	})
	return applyErr
}

// normalizeFolders trims surrounding slashes and drops empty entries.
func normalizeFolders(folders []string) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		f = strings.Trim(strings.TrimSpace(f), "/")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// LoadSourceConfig reads only the store selection flags registered by
// RegisterSourceFlags, overlaid on the optional config file.
func LoadSourceConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	if f := flags.Lookup("config"); f != nil {
		cfg.ConfigFile = f.Value.String()
		if cfg.ConfigFile != "" {
			if err := applyFile(flags, cfg.ConfigFile); err != nil {
				return Config{}, err
			}
		}
	}
	if err := loadSource(flags, &cfg); err != nil {
		return Config{}, err
	}
	if err := validateSource(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadSource(flags *pflag.FlagSet, cfg *Config) error {
	var err error
	strs := []struct {
		name string
		dst  *string
	}{
		{"source-type", &cfg.SourceType},
		{"source", &cfg.Source},
		{"imap-host", &cfg.IMAPHost},
		{"imap-user", &cfg.IMAPUser},
		{"imap-pass", &cfg.IMAPPass},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return err
		}
	}
	if cfg.UseTLS, err = flags.GetBool("use-tls"); err != nil {
		return err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return err
	}
	if cfg.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return err
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	cfg.SourceType = strings.ToLower(cfg.SourceType)
	return nil
}

func validateSource(cfg Config) error {
	switch cfg.SourceType {
	case SourceDump, SourceSQLite, SourceMbox:
		if cfg.Source == "" {
			return fmt.Errorf("--source is required for --source-type %s", cfg.SourceType)
		}
	case SourceIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("invalid --source-type: %s", cfg.SourceType)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if err := validateSource(cfg); err != nil {
		return err
	}

	if cfg.OutDir == "" && !cfg.DryRun {
		return fmt.Errorf("--out is required")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mapi-to-maildir", "state"), nil
}
