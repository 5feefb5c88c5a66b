package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfiguration is the YAML representation of the GlobalConfig.
type FileConfiguration struct {
	DefaultLevel  string            `yaml:"defaultLevel"`
	PackageLevels map[string]string `yaml:"packageLevels"`
	OutputPath    string            `yaml:"outputPath"`
	ConsoleFormat bool              `yaml:"consoleFormat"`
	ShowCaller    bool              `yaml:"showCaller"`
	TimeLocation  string            `yaml:"timeLocation"`
}

func loadGlobalConfigFromFile(fileName string) (GlobalConfig, error) {
	yamlFile, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to read logger config file: %w", err)
	}
	config := &FileConfiguration{}
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}
	return config.toGlobalConfig()
}

func (c *FileConfiguration) toGlobalConfig() (GlobalConfig, error) {
	gc := GlobalConfig{
		DefaultLevel:  LevelFromString(c.DefaultLevel),
		PackageLevels: make(map[string]LogLevel, len(c.PackageLevels)),
		Writer:        os.Stdout,
		ConsoleFormat: c.ConsoleFormat,
		ShowCaller:    c.ShowCaller,
		TimeLocation:  c.TimeLocation,
	}
	if c.OutputPath != "" {
		file, err := os.OpenFile(c.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return GlobalConfig{}, fmt.Errorf("failed to open log file: %w", err)
		}
		gc.Writer = file
	}
	for k, v := range c.PackageLevels {
		gc.PackageLevels[k] = LevelFromString(v)
	}
	return gc, nil
}
