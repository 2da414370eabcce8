// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg loads the mount-time configuration for package fs: the mount
// path, the uid/gid inodes are reported as owned by, the root directory's
// permission bits, and cache/log settings. It is a configuration loader an
// embedder's own main can call, not a command-line tool in its own right;
// building a mount-point CLI on top of Options is left to the embedder.
package cfg

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// Options configures a single mount.
type Options struct {
	// MountPoint is the directory the filesystem is mounted on.
	MountPoint string `yaml:"mount-point" mapstructure:"mount-point"`

	// Uid and Gid are reported as the owner of every inode. They default to
	// the calling process's own uid/gid.
	Uid uint32 `yaml:"uid" mapstructure:"uid"`
	Gid uint32 `yaml:"gid" mapstructure:"gid"`

	// RootPerm is the permission bits (not including the directory type bit,
	// which is always set) given to the root inode. Defaults to 0550.
	RootPerm os.FileMode `yaml:"root-perm" mapstructure:"root-perm"`

	// LogPath is the file debug logs are written to. Empty means stderr.
	LogPath string `yaml:"log-path" mapstructure:"log-path"`

	// LogMaxSizeMB, LogMaxBackups and LogMaxAgeDays configure lumberjack
	// rotation of LogPath. Zero means lumberjack's own defaults.
	LogMaxSizeMB  int `yaml:"log-max-size-mb" mapstructure:"log-max-size-mb"`
	LogMaxBackups int `yaml:"log-max-backups" mapstructure:"log-max-backups"`
	LogMaxAgeDays int `yaml:"log-max-age-days" mapstructure:"log-max-age-days"`

	// Debug turns on verbose per-operation logging.
	Debug bool `yaml:"debug" mapstructure:"debug"`
}

// DefaultRootPerm is the permission bits given to the root inode when no
// override is configured.
const DefaultRootPerm = os.FileMode(0550)

// Default returns an Options populated with the calling process's own
// uid/gid and a 0550 root.
func Default() Options {
	return Options{
		Uid:      uint32(unix.Getuid()),
		Gid:      uint32(unix.Getgid()),
		RootPerm: DefaultRootPerm,
	}
}

// BindFlags registers the pflag flags Load reads Options from, binding each
// one into v under the same key Options' mapstructure tags expect.
func BindFlags(flagSet *pflag.FlagSet, v *viper.Viper) error {
	flagSet.String("mount-point", "", "Directory to mount the filesystem on.")
	if err := v.BindPFlag("mount-point", flagSet.Lookup("mount-point")); err != nil {
		return err
	}

	flagSet.Uint32("uid", uint32(unix.Getuid()), "UID reported as owner of every inode.")
	if err := v.BindPFlag("uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.Uint32("gid", uint32(unix.Getgid()), "GID reported as owner of every inode.")
	if err := v.BindPFlag("gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.Uint32("root-perm", uint32(DefaultRootPerm), "Permission bits for the root inode, in octal.")
	if err := v.BindPFlag("root-perm", flagSet.Lookup("root-perm")); err != nil {
		return err
	}

	flagSet.String("log-path", "", "File to write debug logs to. Empty means stderr.")
	if err := v.BindPFlag("log-path", flagSet.Lookup("log-path")); err != nil {
		return err
	}

	flagSet.Bool("debug", false, "Log every dispatcher operation at debug level.")
	if err := v.BindPFlag("debug", flagSet.Lookup("debug")); err != nil {
		return err
	}

	return nil
}

// Load reads a YAML config file (if configPath is non-empty), overlays any
// flags bound in v by BindFlags, and decodes the result into an Options
// seeded with Default().
func Load(v *viper.Viper, configPath string) (Options, error) {
	opts := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return opts, err
		}

		var fileSettings map[string]interface{}
		if err := yaml.Unmarshal(data, &fileSettings); err != nil {
			return opts, err
		}

		if err := v.MergeConfigMap(fileSettings); err != nil {
			return opts, err
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return opts, err
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return opts, err
	}

	return opts, nil
}
