package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// Config is the resolved CLI configuration: defaults, then the TOML file,
// then CHARTCTL_* environment variables, then flags.
type Config struct {
	DB                string        `mapstructure:"db"`
	WorkDir           string        `mapstructure:"work_dir"`
	Model             string        `mapstructure:"model"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	ParamPrefix       string        `mapstructure:"param_prefix"`
	StateTable        string        `mapstructure:"state_table"`
	Python            string        `mapstructure:"python"`
	PythonTimeout     time.Duration `mapstructure:"python_timeout"`
	RecursionLimit    int           `mapstructure:"recursion_limit"`
	MaxQuestionLength int           `mapstructure:"max_question_length"`
	GraphFile         string        `mapstructure:"graph_file"`
}

var rootCmd = &cobra.Command{
	Use:   "chartctl",
	Short: "Turn questions about a SQLite database into charts",
	Long: `chartctl runs a two-agent pipeline: a SQL researcher queries the database,
then a chart generator writes and executes plotting code that saves an SVG
under plots/.

Configuration is read from a TOML file (--config, or ./chartctl.toml) and from
CHARTCTL_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./chartctl.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("db", "", "database path or sqlite:/// URI")
	cobra.CheckErr(viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db")))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "test.db")
	v.SetDefault("work_dir", ".")
	v.SetDefault("model", "gpt-4o")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("param_prefix", "")
	v.SetDefault("state_table", "")
	v.SetDefault("python", "python3")
	v.SetDefault("python_timeout", "2m")
	v.SetDefault("recursion_limit", 150)
	v.SetDefault("max_question_length", 300)
	v.SetDefault("graph_file", "")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("CHARTCTL")
	viper.AutomaticEnv()
	// The conventional variable works too.
	_ = viper.BindEnv("openai_api_key", "CHARTCTL_OPENAI_API_KEY", "OPENAI_API_KEY")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("toml")
		viper.SetConfigName("chartctl")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
