package cmd

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "actions-toolkit"

var (
	// CacheHomeDir holds the data of the local servers.
	CacheHomeDir = filepath.Join(xdg.CacheHome, appName)
	// ConfigFileName is searched in the working directory before the XDG
	// config directories.
	ConfigFileName = ".actions-toolkit.yaml"
)

// userConfigFile returns the config file in the XDG config directories, or
// "" when there is none.
func userConfigFile() string {
	p, err := xdg.SearchConfigFile(filepath.Join(appName, "config.yaml"))
	if err != nil {
		return ""
	}
	return p
}
