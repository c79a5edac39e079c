package database

// Config holds configuration for the optional relational copy of the table.
type Config struct {
	// Driver is the gorm dialect: mysql or sqlite.
	Driver string `mapstructure:"driver"`
	// Host is the database host.
	Host string `mapstructure:"host"`
	// Port is the database port.
	Port int `mapstructure:"port"`
	// User is the database user.
	User string `mapstructure:"user"`
	// Password is the database password.
	Password string `mapstructure:"password"`
	// Name is the database name, or the file path for sqlite.
	Name string `mapstructure:"name"`
	// TimeoutSeconds bounds connect, read and write.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}
