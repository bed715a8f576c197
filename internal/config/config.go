// Package config loads digcap's runtime configuration: log level, default
// bucket-set directory, and the optional AWS/GCS clients backing the
// mirror and catalog add-ons. Precedence is CLI flags > environment
// variables > config file > built-in defaults.
package config

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds digcap's runtime configuration.
type Config struct {
	LogLevel  string
	WorkDir   string
	PostPad   bool
	AwsConfig aws.Config
	GcsClient *storage.Client
}

// LoadConfig reads digcap.yaml (from . or ./config, or the file at
// configPath), environment variables, and rootCmd's
// persistent flags, in that ascending order of precedence, and eagerly
// loads the AWS and GCS clients used by the mirror and catalog add-ons.
// A missing or unreachable cloud credential is not fatal: AwsConfig and
// GcsClient degrade to their zero values, and only commands that actually
// use the mirror or catalog fail at the point of use.
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel: viper.GetString("log_level"),
		WorkDir:  viper.GetString("work_dir"),
		PostPad:  viper.GetBool("post_pad"),
	}

	if awsCfg, err := loadAWSConfig(); err == nil {
		cfg.AwsConfig = awsCfg
	}
	if gcsClient, err := loadGCSClient(); err == nil {
		cfg.GcsClient = gcsClient
	}

	return cfg, nil
}

func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("digcap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.AutomaticEnv()

	if rootCmd != nil {
		if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		for key, name := range map[string]string{"log_level": "log-level", "post_pad": "post-pad"} {
			if f := rootCmd.PersistentFlags().Lookup(name); f != nil {
				if err := viper.BindPFlag(key, f); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("work_dir", ".")
	viper.SetDefault("post_pad", false)
}

func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return cfg, nil
}

func loadGCSClient() (*storage.Client, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %w", err)
	}
	return client, nil
}

// SetConfigValue sets a configuration value directly, used by CLI flag
// bindings that need to override viper's precedence at runtime.
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
