package config

// DefaultProfile is the name of the built-in profile.
const DefaultProfile = "default"

// CLIConfig is the configuration for workingdb-cli.
type CLIConfig struct {
	Output   string             `koanf:"output" yaml:"output"`
	Current  string             `koanf:"current" yaml:"current"`
	Profiles map[string]Profile `koanf:"profiles" yaml:"profiles"`
}

// Profile stores the addresses of one server.
type Profile struct {
	// Server is the RESP address, host:port.
	Server string `koanf:"server" yaml:"server"`
	// Socket is a Unix socket path; it takes precedence over Server.
	Socket   string `koanf:"socket" yaml:"socket,omitempty"`
	Admin    string `koanf:"admin" yaml:"admin"`
	Password string `koanf:"password" yaml:"password,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Output:  "table",
		Current: DefaultProfile,
		Profiles: map[string]Profile{
			DefaultProfile: {
				Server: "127.0.0.1:6379",
				Admin:  "127.0.0.1:6380",
			},
		},
	}
}
