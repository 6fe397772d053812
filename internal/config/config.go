package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"inspectline/internal/geofence"
)

// Config models inspectline.yml.
type Config struct {
	Office struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"office" json:"office"`
	Geofence struct {
		ThresholdMeters    float64 `yaml:"threshold_meters" json:"threshold_meters"`
		ProximityTimeoutMS int     `yaml:"proximity_timeout_ms" json:"proximity_timeout_ms"`
	} `yaml:"geofence" json:"geofence"`
	MissionOrder struct {
		DefaultTitle string `yaml:"default_title" json:"default_title"`
		Template     string `yaml:"template" json:"template"`
	} `yaml:"mission_order" json:"mission_order"`
	Notifications struct {
		Enabled        bool     `yaml:"enabled" json:"enabled"`
		FromName       string   `yaml:"from_name" json:"from_name"`
		FromEmail      string   `yaml:"from_email" json:"from_email"`
		DirectorEmails []string `yaml:"director_emails" json:"director_emails"`
	} `yaml:"notifications" json:"notifications"`
	Storage struct {
		Driver string `yaml:"driver" json:"driver"`
		Dir    string `yaml:"dir" json:"dir"`
		Folder string `yaml:"folder" json:"folder"`
	} `yaml:"storage" json:"storage"`
	Directory struct {
		Driver     string `yaml:"driver" json:"driver"`
		Database   string `yaml:"database" json:"database"`
		Collection string `yaml:"collection" json:"collection"`
	} `yaml:"directory" json:"directory"`
	Bus struct {
		Driver  string `yaml:"driver" json:"driver"`
		Channel string `yaml:"channel" json:"channel"`
	} `yaml:"bus" json:"bus"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	ID             string   `yaml:"id" json:"id"`
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

var knownRoles = map[string]bool{
	"director":       true,
	"head_inspector": true,
	"inspector":      true,
	"reporter":       true,
	"admin":          true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Office.ID == "" {
		return fmt.Errorf("config.office.id is required")
	}
	if c.Geofence.ThresholdMeters < 0 {
		return fmt.Errorf("config.geofence.threshold_meters must not be negative")
	}
	if c.Geofence.ProximityTimeoutMS < 0 {
		return fmt.Errorf("config.geofence.proximity_timeout_ms must not be negative")
	}
	switch c.Storage.Driver {
	case "", "local", "cloudinary":
	default:
		return fmt.Errorf("config.storage.driver must be local or cloudinary")
	}
	switch c.Directory.Driver {
	case "", "sql", "mongo":
	default:
		return fmt.Errorf("config.directory.driver must be sql or mongo")
	}
	switch c.Bus.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("config.bus.driver must be memory or redis")
	}
	if c.Notifications.Enabled && c.Notifications.FromEmail == "" {
		return fmt.Errorf("config.notifications.from_email is required when notifications are enabled")
	}
	for roleID, role := range c.RBAC.Roles {
		if !knownRoles[roleID] {
			return fmt.Errorf("config.rbac.roles contains unknown role %s", roleID)
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Permissions returns the permissions granted to role.
func (c *Config) Permissions(role string) []string {
	if c == nil {
		return nil
	}
	return c.RBAC.Roles[role].Permissions
}

func (c *Config) HasPermission(role, perm string) bool {
	for _, p := range c.Permissions(role) {
		if p == perm {
			return true
		}
	}
	return false
}

func (c *Config) ThresholdMeters() float64 {
	if c == nil || c.Geofence.ThresholdMeters <= 0 {
		return geofence.DefaultThresholdMeters
	}
	return c.Geofence.ThresholdMeters
}

func (c *Config) ProximityTimeout() time.Duration {
	if c == nil || c.Geofence.ProximityTimeoutMS <= 0 {
		return geofence.DefaultProximityTimeout
	}
	return time.Duration(c.Geofence.ProximityTimeoutMS) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "inspectline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(officeID string) string {
	return fmt.Sprintf(defaultTemplate, officeID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an office.
func Default(officeID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(officeID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `office:
  id: %s
  name: Business Permits and Licensing Office

geofence:
  threshold_meters: 200
  proximity_timeout_ms: 3000

mission_order:
  default_title: Mission Order
  template: |
    MISSION ORDER

    Inspector(s): [INSPECTORS]
    Business Name: [BUSINESS NAME]
    Business Address: [BUSINESS ADDRESS]

    You are hereby directed to conduct an inspection of the above business
    in connection with the complaint on file, and to submit your findings.

notifications:
  enabled: false
  from_name: Inspectline
  from_email: ""
  director_emails: []

storage:
  driver: local
  dir: evidence
  folder: inspectline/evidence

directory:
  driver: sql
  database: inspectline
  collection: businesses

bus:
  driver: memory
  channel: inspectline.changes

rbac:
  roles:
    director:
      description: "Approves complaints and mission orders"
      permissions: [case.read, case.decide, mission_order.read, mission_order.review, events.read, actor.read]
    head_inspector:
      description: "Drafts and staffs mission orders"
      permissions: [case.read, mission_order.read, mission_order.draft, mission_order.submit, mission_order.edit, assignment.edit, actor.read]
    inspector:
      description: "Executes approved mission orders"
      permissions: [mission_order.read_assigned]
    reporter:
      description: "Files complaints"
      permissions: [intake.submit, directory.search]
    admin:
      description: "Manages actors and configuration"
      permissions: [actor.read, actor.manage, config.manage, events.read]

webhooks: []
`
