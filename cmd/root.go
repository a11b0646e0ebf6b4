package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exotica-tools/exomirror/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const version = "1.0.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "exomirror",
	Short:   "Creates a clean personal mirror of UnExoticA's Amiga Game Music Module Collection.",
	Version: version,
	Long: `exomirror builds and incrementally refreshes a local mirror of the
UnExoticA Amiga game music catalog: per game one soundtrack archive,
its box scans and a verbatim wiki metadata dump, under a browsable
letter-bucketed directory layout.

Be considerate: exotica.org.uk is a shared resource. Keep the default
request pacing, and talk to the site maintainers before attempting a
full mirror.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.exomirror.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	rootCmd.Flags().BoolP("version", "V", false, "show version number and exit")
	rootCmd.SetVersionTemplate("exomirror {{.Version}}\n")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".exomirror")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	viper.SetDefault("sync.destination", "./UnExoticA-Mirror")
	viper.SetDefault("sync.delay", "1s")
	viper.SetDefault("sync.timeout", "30s")

	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
