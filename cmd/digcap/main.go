package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/config"
	"github.com/zzenonn/digcap/internal/logging"
)

var (
	cfg        *config.Config
	cfgFile    string
	passphrase string
	rawKeyHex  string
	postPad    bool
)

var rootCmd = &cobra.Command{
	Use:   "digcap",
	Short: "Deterministic encrypted capsule chunker",
	Long:  "digcap seals arbitrary byte streams into fixed-size encrypted, compressed, padded capsule sets, and opens them back up.",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase to derive the encryption key from")
	rootCmd.PersistentFlags().StringVar(&rawKeyHex, "key-hex", "", "32-byte encryption key, hex-encoded")
	rootCmd.PersistentFlags().BoolVar(&postPad, "post-pad", false, "use encrypt->compress->pad order instead of pad->encrypt->compress")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(cfgFile, rootCmd)
	if err != nil {
		log.Fatalf("error loading configuration: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
