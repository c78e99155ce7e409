package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sang-woon/ggc-subtitle/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing ggcsub configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows all available configuration options with their current
values (defaults merged with config file and environment). You can
redirect this output to a file to create a configuration template:

  ggcsub config dump > config.yaml

Configuration can be set via:
  - Config file (.ggcsub.yaml, /etc/ggcsub/.ggcsub.yaml)
  - Environment variables (GGCSUB_SERVER_PORT, GGCSUB_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the GGCSUB_ prefix and underscores for nesting.
Example: server.port -> GGCSUB_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Never dump credentials.
	cfg.ASR.APIKey = ""
	cfg.Refiner.APIKey = ""

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# ggcsub Configuration File")
	fmt.Println("# =========================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   GGCSUB_SERVER_HOST, GGCSUB_SERVER_PORT")
	fmt.Println("#   GGCSUB_DATABASE_DRIVER, GGCSUB_DATABASE_DSN")
	fmt.Println("#   GGCSUB_ASR_API_KEY, GGCSUB_REFINER_API_KEY")
	fmt.Println("#   GGCSUB_LOGGING_LEVEL, GGCSUB_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
