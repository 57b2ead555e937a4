package snapviewcli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/osutil"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/fswalker"
	"github.com/function61/snapview/pkg/snapsession"
	"github.com/spf13/cobra"
)

const (
	configFilename   = "snapview-config.json"
	registryFilename = ".snapview-registry.db"
)

type Config struct {
	SnapshotMode      string   `json:"snapshot_mode"` // "auto" | "passthrough"
	LvmSnapshotSize   string   `json:"lvm_snapshot_size"`
	SnapshotMountBase string   `json:"snapshot_mount_base"`
	RegistryPath      string   `json:"registry_path"`
	SkipXattrs        bool     `json:"skip_xattrs"`
	Exclude           []string `json:"exclude"`         // globs: entry omitted, children still walked
	ExcludeSubtree    []string `json:"exclude_subtree"` // globs: nothing beneath walked
}

func DefaultConfig(homeDir string) Config {
	snapshotDefaults := fssnapshot.DefaultConfig()

	return Config{
		SnapshotMode:      string(snapsession.ModeAuto),
		LvmSnapshotSize:   snapshotDefaults.LvmSnapshotSize,
		SnapshotMountBase: snapshotDefaults.MountBase,
		RegistryPath:      filepath.Join(homeDir, registryFilename),
		Exclude:           []string{},
		ExcludeSubtree:    []string{},
	}
}

func (c *Config) Validate() error {
	if _, valid := snapsession.ParseMode(c.SnapshotMode); !valid {
		return fmt.Errorf("snapshot_mode must be '%s' or '%s'; got '%s'", snapsession.ModeAuto, snapsession.ModePassThrough, c.SnapshotMode)
	}

	if c.RegistryPath == "" {
		return errors.New("registry_path must not be empty")
	}

	_, err := fswalker.GlobPredicate(c.Exclude, c.ExcludeSubtree)
	return err
}

func (c *Config) SessionConfig() snapsession.Config {
	mode, _ := snapsession.ParseMode(c.SnapshotMode) // validated

	conf := snapsession.DefaultConfig()
	conf.Mode = mode
	conf.SkipXattrs = c.SkipXattrs
	return conf
}

func (c *Config) SnapshotterConfig() fssnapshot.Config {
	return fssnapshot.Config{
		LvmSnapshotSize: c.LvmSnapshotSize,
		MountBase:       c.SnapshotMountBase,
	}
}

// missing config file is not an error: defaults are used
func ReadConfig() (*Config, error) {
	confPath, err := ConfigFilePath()
	if err != nil {
		return nil, fmt.Errorf("snapview config: %w", err)
	}

	return readConfigWithPath(confPath)
}

func readConfigWithPath(confPath string) (*Config, error) {
	conf := DefaultConfig(filepath.Dir(confPath))

	exists, err := fileexists.Exists(confPath)
	if err != nil {
		return nil, fmt.Errorf("snapview config: %w", err)
	}

	if exists {
		if err := jsonfile.Read(confPath, &conf, true); err != nil {
			return nil, fmt.Errorf("snapview config: %w", err)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("snapview config: %w", err)
	}

	return &conf, nil
}

func WriteConfig(conf *Config) error {
	confPath, err := ConfigFilePath()
	if err != nil {
		return err
	}

	return jsonfile.Write(confPath, conf)
}

func ConfigFilePath() (string, error) {
	usersHomeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(usersHomeDirectory, configFilename), nil
}

func configInitEntrypoint() *cobra.Command {
	passThrough := false

	cmd := &cobra.Command{
		Use:   "config-init",
		Short: "Writes default configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := ConfigFilePath()
			osutil.ExitIfError(err)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if exists {
				osutil.ExitIfError(errors.New("config file already exists"))
			}

			conf := DefaultConfig(filepath.Dir(confPath))
			if passThrough {
				conf.SnapshotMode = string(snapsession.ModePassThrough)
			}

			osutil.ExitIfError(WriteConfig(&conf))

			fmt.Printf("wrote %s\n", confPath)
		},
	}

	cmd.Flags().BoolVarP(&passThrough, "passthrough", "", passThrough, "Never take snapshots")

	return cmd
}

func configPrintEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "config-print",
		Short: "Prints path to config file & its contents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := ConfigFilePath()
			osutil.ExitIfError(err)

			fmt.Printf("file: %s\n", confPath)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if !exists {
				fmt.Printf(".. does not exist (using defaults). To configure, run:\n    $ %s config-init\n", os.Args[0])
				return
			}

			file, err := os.Open(confPath)
			osutil.ExitIfError(err)
			defer file.Close()

			_, err = io.Copy(os.Stdout, file)
			osutil.ExitIfError(err)
		},
	}
}
