package commands

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/version"
	"github.com/molior-deb/molior/server/api/rest/client"
)

const (
	DefaultConfigDir = "~/"
	ConfigFileName   = ".molior"
)

var (
	defaultConfigFilePath = fmt.Sprintf("%s%s.yml", DefaultConfigDir, ConfigFileName)

	Stderr = log.New(os.Stderr, "", 0)
	Stdout = log.New(os.Stdout, "", 0)
)

type GlobalConfig struct {
	Debug          bool
	JSON           bool
	ConfigFilePath string
}

var Global = &GlobalConfig{}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscores in flag names, the server flags use them.
	RootCmd.PersistentFlags().SetNormalizeFunc(func(f *flag.FlagSet, name string) flag.NormalizedName {
		return flag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	RootCmd.PersistentFlags().StringVarP(
		&Global.ConfigFilePath,
		"config",
		"c",
		defaultConfigFilePath,
		"The config file to use when executing commands.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.Debug,
		"debug",
		"d",
		false,
		"Enable verbose debug output.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.JSON,
		"json",
		"j",
		false,
		"Enable structured JSON output.")

	RootCmd.PersistentFlags().StringP(
		"server",
		"s",
		"http://localhost:8888",
		"Base URL of the molior server.")

	RootCmd.PersistentFlags().StringP(
		"token",
		"t",
		"",
		"Bearer token sent with every request.")

	viper.BindPFlag("server", RootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("token", RootCmd.PersistentFlags().Lookup("token"))
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		Stderr.Println(err)
		os.Exit(1)
	}
	os.Exit(0)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {

	if Global.ConfigFilePath != "" && Global.ConfigFilePath != defaultConfigFilePath {
		viper.SetConfigFile(Global.ConfigFilePath)
	} else {
		viper.SetConfigName(ConfigFileName)
		viper.AddConfigPath(DefaultConfigDir)
		viper.AddConfigPath(".")
	}

	// MOLIOR_SERVER and MOLIOR_TOKEN override the config file.
	viper.SetEnvPrefix("molior")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	err := viper.ReadInConfig()
	if err == nil {
		Global.ConfigFilePath = viper.ConfigFileUsed()
		if Global.Debug {
			Stderr.Printf("Using config file: %s", viper.ConfigFileUsed())
		}
	} else {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
		default:
			Stderr.Printf("error loading config file (%s): %s", viper.ConfigFileUsed(), err)
			os.Exit(1)
		}
	}
}

// MakeAPIClient builds a REST client for the configured server. The address
// comes from --server, the MOLIOR_SERVER environment variable or the config
// file, in that order.
func MakeAPIClient() (*client.APIClient, error) {
	server := viper.GetString("server")
	if server == "" {
		return nil, errors.New("no server configured, use --server or set MOLIOR_SERVER")
	}

	var levels logger.LogLevelConfig
	if Global.Debug {
		levels = "APIClient=debug"
	}
	registry, err := logger.NewLogRegistry(levels)
	if err != nil {
		return nil, err
	}
	logFactory := logger.MakeLogrusLogFactoryStdOut(registry)

	apiClient, err := client.NewAPIClient([]string{server}, logFactory)
	if err != nil {
		return nil, errors.Wrap(err, "error creating API client")
	}
	if token := viper.GetString("token"); token != "" {
		apiClient.SetAuthToken(token)
	}
	return apiClient, nil
}

var RootCmd = &cobra.Command{
	Use:     "molior",
	Short:   "Administer a molior Debian package build server",
	Long:    `Administer a molior Debian package build server`,
	Version: version.VersionToString(),
}
