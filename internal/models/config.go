package models

// Config defines the add-on settings loaded from the YAML config file.
type Config struct {
	StreamURL      string          `yaml:"stream_url"`
	RecordingsPath string          `yaml:"recordings_path"`
	StateFile      string          `yaml:"state_file"`
	SettingsFile   string          `yaml:"settings_file"`
	LogLevel       string          `yaml:"log_level"`
	Motion         MotionConfig    `yaml:"motion"`
	Recording      RecordingConfig `yaml:"recording"`
	LLM            LLMConfig       `yaml:"llm"`
	MQTT           MQTTConfig      `yaml:"mqtt"`
	HTTP           HTTPConfig      `yaml:"http"`
}

type MotionConfig struct {
	Threshold     int     `yaml:"threshold"`      // minimum motion area
	MinDuration   float64 `yaml:"min_duration"`   // seconds motion must persist before confirming
	CheckInterval float64 `yaml:"check_interval"` // seconds between frame samples
	Cooldown      float64 `yaml:"cooldown"`       // seconds without motion before ending
	ROI           ROI     `yaml:"roi"`
}

type RecordingConfig struct {
	PostRoll      int `yaml:"post_roll"`      // seconds to keep recording after motion ends
	MaxRecordings int `yaml:"max_recordings"` // 0 = unlimited
	MaxDuration   int `yaml:"max_duration"`   // hard per-clip ceiling in seconds
}

type LLMConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIURL         string `yaml:"api_url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	AutoAnalyze    bool   `yaml:"auto_analyze"`
	CustomPrompt   string `yaml:"custom_prompt"`
	TimeoutSeconds int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"max_retries"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
}

type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	StateTopic string `yaml:"state_topic"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}
