package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ~/.chatsync/config.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := session.ConfigPath()
		_, err := config.Load(path)
		if err == nil {
			fmt.Printf("config already exists at %s\n", path)
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(session.ConfigPath())
		if err != nil {
			return err
		}
		if cfg.AuthToken != "" {
			cfg.AuthToken = "********"
		}
		if jsonFlag {
			return outputJSON(cfg)
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set server_url, auth_token, user_id, default_profile or log_level",
	Long:  "Set a config value. The daemon reads the config at start; restart it to apply changes.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := session.ConfigPath()
		cfg, err := config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default(), nil
		}
		if err != nil {
			return err
		}
		switch args[0] {
		case "server_url":
			cfg.ServerURL = args[1]
		case "auth_token":
			cfg.AuthToken = args[1]
		case "user_id":
			cfg.UserID = args[1]
		case "default_profile":
			if err := session.ValidateName(args[1]); err != nil {
				return err
			}
			cfg.DefaultProfile = args[1]
		case "log_level":
			cfg.LogLevel = args[1]
		default:
			return fmt.Errorf("unknown key %q", args[0])
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return config.Save(path, cfg)
	},
}
