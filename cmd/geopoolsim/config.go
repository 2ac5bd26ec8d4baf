package main

import (
	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/geopool/geopool"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective pool configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			encoder := toml.NewEncoder(cmd.OutOrStdout())
			return errors.Wrap(encoder.Encode(config), "failed to encode configuration")
		},
	})
}

func loadConfig() (geopool.Config, error) {
	if configPath == "" {
		return geopool.DefaultConfig(), nil
	}

	config, err := geopool.LoadConfig(configPath)
	if err != nil {
		return geopool.Config{}, err
	}

	cliLog.Debug("loaded configuration", "path", configPath,
		"vertices", config.MaxVertexCount(), "indices", config.MaxIndexCount(), "maxMeshes", config.MaxMeshes)
	return config, nil
}
