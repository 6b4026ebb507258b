package cmd

import (
	"fmt"
	"os"

	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shopsheet",
	Short: "Bulk-edit shop listings through a spreadsheet.",
	Long: `shopsheet exports your shop's listings to CSV or XLSX, previews the edits you made
against the live catalog, and applies only the changes you accept.

Apply runs are checkpointed: re-running the same file resumes where it stopped.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shopsheet.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".shopsheet")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.SetEnvPrefix("shopsheet")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.shopsheet.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("etsy.base_url", "")
	viper.SetDefault("etsy.shop_id", 0)
	viper.SetDefault("etsy.api_key", "")
	viper.SetDefault("etsy.token", "")
	viper.SetDefault("etsy.retries", 4)
	viper.SetDefault("etsy.requests_per_second", 5)
	viper.SetDefault("etsy.burst", 5)
	viper.SetDefault("etsy.timeout", "60s")

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.dbpath", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("apply.batch_size", 5)
	viper.SetDefault("apply.prefetch_concurrency", 10)
	viper.SetDefault("apply.batch_delay", "1s")

	// Override the values harvested from an existing listing when creating.
	viper.SetDefault("defaults.taxonomy_id", 0)
	viper.SetDefault("defaults.readiness_state_id", 0)

	viper.SetDefault("server.bind", ":9999")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
}
