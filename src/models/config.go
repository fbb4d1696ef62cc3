package models

// MConfig is the host configuration loaded from YAML.
type MConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Scheduler MSchedulerConfig `yaml:"scheduler"`
	Storage   MStorageConfig   `yaml:"storage"`
	Transport MTransportConfig `yaml:"transport"`

	Entities []MEntityConfig `yaml:"entities"`
	Aliases  []MAliasConfig  `yaml:"aliases"`
	Widgets  []MWidgetConfig `yaml:"widgets"`
}

// MSchedulerConfig controls the notification coalescing tick.
type MSchedulerConfig struct {
	TickMs int `yaml:"tick_ms"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MTransportConfig struct {
	// Type selects the transport implementation: "local", "ws" or "redis".
	Type string `yaml:"type"`

	// WebSocket transport settings.
	URL string `yaml:"url"`

	// Redis transport settings.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	RequestTimeout int      `yaml:"timeout"`
	MaxRetries     int      `yaml:"retries"`
	Proxies        []string `yaml:"proxies"`
}

// MEntityConfig declares one entity in the local registry.
type MEntityConfig struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
}

// MAliasConfig declares one alias: a named, resolvable set of entities.
type MAliasConfig struct {
	ID         string   `yaml:"id"`
	Alias      string   `yaml:"alias"`
	EntityType string   `yaml:"entity_type"`
	EntityIDs  []string `yaml:"entity_ids"`
}

// MWidgetConfig declares one subscription the host builds at startup.
type MWidgetConfig struct {
	ID          string             `yaml:"id"`
	Type        SubscriptionType   `yaml:"type"`
	Datasources []MDatasource      `yaml:"datasources"`
	Timewindow  *MTimewindowConfig `yaml:"timewindow"`
	Legend      *MLegendConfig     `yaml:"legend"`
	Decimals    int                `yaml:"decimals"`
	Units       string             `yaml:"units"`
	PageSize    int                `yaml:"page_size"`
	AlarmSource *MAlarmSource      `yaml:"alarm_source"`
	RpcTarget   *MRpcTarget        `yaml:"rpc_target"`

	SingleEntity       bool               `yaml:"single_entity"`
	ComparisonEnabled  bool               `yaml:"comparison_enabled"`
	ComparisonDuration ComparisonDuration `yaml:"comparison_duration"`
	ComparisonCustomMs int64              `yaml:"comparison_custom_ms"`
}
