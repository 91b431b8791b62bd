// Package config locates the spiderctl configuration file when no explicit
// path is given.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// FileName is the config file base name searched for, without extension.
const FileName = "spiderctl"

// SearchPaths are the directories searched, in order.
var SearchPaths = []string{
	".",
	"$HOME/.spiderctl",
	"/etc/spiderctl/",
}

// Discover returns the first spiderctl.{yaml,json,toml,...} found in dirs
// (SearchPaths when empty). It returns "" without error when none exists.
func Discover(dirs ...string) (string, error) {
	if len(dirs) == 0 {
		dirs = SearchPaths
	}
	v := viper.New()
	v.SetConfigName(FileName)
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("discover config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
