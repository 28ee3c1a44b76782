package lifecycle

import "errors"

// Config holds the paths and binaries the Driver works with.
type Config struct {
	// Systemctl is the systemctl binary.
	// Default: systemctl
	Systemctl string `yaml:"systemctl" toml:"systemctl"`

	// SystemUnitDir holds unit files of system-owned services.
	// Default: /usr/lib/systemd/system
	SystemUnitDir string `yaml:"system_unit_dir" toml:"system_unit_dir"`

	// UserUnitDir holds per-user unit files, relative to the user's home.
	// Default: .config/systemd/user
	UserUnitDir string `yaml:"user_unit_dir" toml:"user_unit_dir"`

	// RuntimeDirBase is the parent of per-user runtime directories.
	// Default: /run/user
	RuntimeDirBase string `yaml:"runtime_dir_base" toml:"runtime_dir_base"`
}

const (
	// DefaultSystemctl is the default systemctl binary.
	DefaultSystemctl = "systemctl"

	// DefaultSystemUnitDir is the default directory for system unit files.
	DefaultSystemUnitDir = "/usr/lib/systemd/system"

	// DefaultUserUnitDir is the default per-user unit directory below $HOME.
	DefaultUserUnitDir = ".config/systemd/user"

	// DefaultRuntimeDirBase is the default parent of XDG runtime directories.
	DefaultRuntimeDirBase = "/run/user"
)

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Systemctl == "" {
		c.Systemctl = DefaultSystemctl
	}
	if c.SystemUnitDir == "" {
		c.SystemUnitDir = DefaultSystemUnitDir
	}
	if c.UserUnitDir == "" {
		c.UserUnitDir = DefaultUserUnitDir
	}
	if c.RuntimeDirBase == "" {
		c.RuntimeDirBase = DefaultRuntimeDirBase
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Systemctl == "" {
		return errors.New("lifecycle: config: Systemctl is required")
	}
	if c.SystemUnitDir == "" {
		return errors.New("lifecycle: config: SystemUnitDir is required")
	}
	if c.UserUnitDir == "" {
		return errors.New("lifecycle: config: UserUnitDir is required")
	}
	if c.RuntimeDirBase == "" {
		return errors.New("lifecycle: config: RuntimeDirBase is required")
	}
	return nil
}
