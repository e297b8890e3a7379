package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "ACTIONS_TOOLKIT"

var configKeys = []string{
	"verbose", "json", "log-file", "output", "env-file", "directory", "mask",
	"serve.dir", "serve.addr", "serve.cache-port", "serve.artifact-port",
}

// configFilePath picks the explicit --config file, then the one in the working
// directory, then the user's.
func (i *Input) configFilePath() string {
	if i.configFile != "" {
		return i.configFile
	}
	if p := i.resolve(ConfigFileName); fileExists(p) {
		return p
	}
	return userConfigFile()
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// loadConfig reads the config file and ACTIONS_TOOLKIT_* variables.
func loadConfig(path string) (*Input, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, k := range configKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read config file %s", path)
		}
		log.Debugf("Loaded config from %s", path)
	}

	cfg := &Input{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// applyConfig fills the options not given on the command line from the
// config file and then from the defaults.
func (i *Input) applyConfig() error {
	cfg, err := loadConfig(i.configFilePath())
	if err != nil {
		return err
	}
	if err := mergo.Merge(i, cfg); err != nil {
		return err
	}
	return mergo.Merge(i, defaultInput())
}

// loadEnvFiles exports the variables of the dotenv files without
// overriding the environment.
func (i *Input) loadEnvFiles() error {
	for _, f := range i.EnvFiles {
		p := i.resolve(f)
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Debugf("Env file %s does not exist", p)
				continue
			}
			return pkgerrors.Wrapf(err, "failed to load env file %s", p)
		}
		log.Debugf("Loaded env file %s", p)
	}
	return nil
}
