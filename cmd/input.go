package cmd

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Input contains the input for the root command
type Input struct {
	Verbose    bool       `mapstructure:"verbose"`
	JSONLogger bool       `mapstructure:"json"`
	LogFile    string     `mapstructure:"log-file"`
	Output     string     `mapstructure:"output"`
	EnvFiles   []string   `mapstructure:"env-file"`
	Workdir    string     `mapstructure:"directory"`
	Masks      []string   `mapstructure:"mask"`
	Serve      ServeInput `mapstructure:"serve"`

	configFile string
}

// ServeInput configures the local cache and artifact servers.
type ServeInput struct {
	Dir          string `mapstructure:"dir"`
	Addr         string `mapstructure:"addr"`
	CachePort    uint16 `mapstructure:"cache-port"`
	ArtifactPort uint16 `mapstructure:"artifact-port"`
}

func defaultInput() *Input {
	return &Input{
		Output:  "json",
		Workdir: ".",
		Serve: ServeInput{
			Dir: filepath.Join(CacheHomeDir, "server"),
		},
	}
}

func (i *Input) resolve(path string) string {
	basedir, err := filepath.Abs(i.Workdir)
	if err != nil {
		log.Fatal(err)
	}
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(basedir, path)
	}
	return path
}

// WorkdirPath returns the absolute path of the working directory
func (i *Input) WorkdirPath() string {
	return i.resolve(".")
}
