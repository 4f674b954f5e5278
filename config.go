package offlinecache

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilimo-guru/offline-cache/notify"
)

// FileConfig is the YAML configuration file of the offline-cache command.
// Command line flags take precedence over it.
type FileConfig struct {
	Origin       string             `yaml:"origin"`
	Host         string             `yaml:"host"`
	Port         int                `yaml:"port"`
	Provider     string             `yaml:"provider"`
	DB           string             `yaml:"db"`
	Version      string             `yaml:"version"`
	Assets       []string           `yaml:"assets"`
	OfflinePath  string             `yaml:"offlinePath"`
	Notification NotificationConfig `yaml:"notification"`
	Log          LogConfig          `yaml:"log"`
}

type NotificationConfig struct {
	Title      string `yaml:"title"`
	Icon       string `yaml:"icon"`
	Badge      string `yaml:"badge"`
	Vibrate    []int  `yaml:"vibrate"`
	DefaultURL string `yaml:"defaultUrl"`
}

func (n NotificationConfig) Options() notify.Options {
	return notify.Options{
		Title:      n.Title,
		Icon:       n.Icon,
		Badge:      n.Badge,
		Vibrate:    n.Vibrate,
		DefaultURL: n.DefaultURL,
	}
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
