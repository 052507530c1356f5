package config

// Config is the top-level configuration parsed from YAML.
type Config struct {
	Service   Service   `yaml:"service"`
	Container Container `yaml:"container"`
	Loops     Loops     `yaml:"loops"`
	Commands  Commands  `yaml:"commands"`
	DB        DB        `yaml:"db"`
	Logging   Logging   `yaml:"logging"`
}

// Service configures the reasoning service endpoint.
type Service struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Timeout   string `yaml:"timeout"`
}

// Container configures the toolchain sandbox.
type Container struct {
	Image         string `yaml:"image"`
	NamePrefix    string `yaml:"name_prefix"`
	Workdir       string `yaml:"workdir"`
	OutputDir     string `yaml:"output_dir"`
	HealthTimeout string `yaml:"health_timeout"`
	ExecTimeout   string `yaml:"exec_timeout"`
}

// Loops bounds the correction loops.
type Loops struct {
	// MaxAttempts bounds each correction phase (static, runtime, domain).
	MaxAttempts int `yaml:"max_attempts"`
	// HardCap is the independent safety bound on loop iterations. It backs
	// up the stagnation logic itself and must stay in place even when the
	// per-phase bound looks sufficient.
	HardCap int `yaml:"hard_cap"`
}

// Commands holds the in-container command templates per check phase.
// {script} expands to the container path of the generated script and
// {outdir} to the container output directory.
type Commands struct {
	Validate string `yaml:"validate"`
	Run      string `yaml:"run"`
	ERC      string `yaml:"erc"`
}

// DB configures the optional postgres event ledger.
type DB struct {
	DSN string `yaml:"dsn"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
