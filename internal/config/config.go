package config

import (
	"fmt"
	"os"

	"github.com/ESJavadex/security-ha-addon/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the configuration from a file
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg models.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("stream_url is required")
	}

	return &cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.RecordingsPath == "" {
		cfg.RecordingsPath = "/share/security_recordings"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "/share/security_state.json"
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = "/share/security_settings.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Motion.Threshold == 0 {
		cfg.Motion.Threshold = 5000
	}
	if cfg.Motion.MinDuration == 0 {
		cfg.Motion.MinDuration = 3.0
	}
	if cfg.Motion.CheckInterval == 0 {
		cfg.Motion.CheckInterval = 1.0
	}
	if cfg.Motion.Cooldown == 0 {
		cfg.Motion.Cooldown = 2.0
	}
	if cfg.Motion.ROI == (models.ROI{}) {
		cfg.Motion.ROI = models.ROI{XStart: 0, XEnd: 100, YStart: 0, YEnd: 100}
	}
	cfg.Motion.ROI = cfg.Motion.ROI.Clamp()

	if cfg.Recording.PostRoll == 0 {
		cfg.Recording.PostRoll = 5
	}
	// MaxRecordings deliberately has no default: 0 means unlimited.
	if cfg.Recording.MaxDuration == 0 {
		cfg.Recording.MaxDuration = 300
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llava"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.MaxConcurrent == 0 {
		cfg.LLM.MaxConcurrent = 2
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "security-camera"
	}
	if cfg.MQTT.StateTopic == "" {
		cfg.MQTT.StateTopic = "security_camera/state"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8081
	}
}
