package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"gopkg.in/yaml.v2"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/server/api/rest/server"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/backend"
	"github.com/molior-deb/molior/server/services/backend/docker"
	"github.com/molior-deb/molior/server/services/buildenv"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

const defaultMaxParallelChroots = 1

// LogSafeFlags is a list of flags by name whose values are safe to log.
var LogSafeFlags = []string{
	"api_server_address",
	"database_driver",
	"database_max_idle_connections",
	"database_max_open_connections",
	"working_directory",
	"backend",
	"log_levels",
	"config",
}

// BackendConfig selects and configures the backend that runs the binary
// package builds.
type BackendConfig struct {
	// Backend is the name of the build backend to use.
	Backend string
	// DockerConfig configures the docker backend, if enabled.
	DockerConfig docker.Config
}

// BackendFactory constructs the configured build backend and registers it.
// The backend starts its node runners as soon as it is created.
func BackendFactory(
	ctx context.Context,
	config BackendConfig,
	registry *backend.Registry,
	logService services.LogService,
	backendQueue *queues.BackendQueue,
	clk clock.Clock,
	logFactory logger.LogFactory,
) (services.Backend, error) {
	name := strings.ToLower(config.Backend)
	if name == "" {
		name = "docker"
	}
	switch name {
	case "docker":
		dockerBackend, err := docker.New(ctx, config.DockerConfig, logService, backendQueue, clk, logFactory)
		if err != nil {
			return nil, fmt.Errorf("error loading backend %q: %w", name, err)
		}
		registry.Register(dockerBackend)
	default:
		return nil, fmt.Errorf("error unsupported backend type: %v", config.Backend)
	}
	return registry.Get(name)
}

type ServerConfig struct {
	APIConfig          server.AppAPIServerConfig
	DatabaseConfig     store.DatabaseConfig
	BackendConfig      BackendConfig
	WorkingDirectory   services.WorkingDirectory
	Hostname           services.ServerHostname
	AptServerURL       services.AptServerURL
	GPGKeyURL          services.GPGKeyURL
	MaxParallelChroots buildenv.MaxParallelChroots
	LogLevels          logger.LogLevelConfig
}

// settingsFile carries the site specific settings read from the molior
// settings YAML file, /etc/molior/molior.yml by default.
type settingsFile struct {
	Hostname           string        `yaml:"hostname"`
	AptServerURL       string        `yaml:"apt_server_url"`
	GPGKeyURL          string        `yaml:"gpg_key_url"`
	Backend            string        `yaml:"backend"`
	Docker             docker.Config `yaml:"docker"`
	MaxParallelChroots int           `yaml:"max_parallel_chroots"`
}

func ConfigFromFlags() (*ServerConfig, error) {
	var (
		databaseDriverStr        string
		databaseConnectionString string
		workingDirectory         string
		logLevels                string
		settingsFilePath         string
	)

	config := &ServerConfig{}

	// API
	flag.StringVar(&config.APIConfig.Address, "api_server_address",
		"0.0.0.0:8888", "The interface and port to bind the API server to.")

	// Database
	flag.StringVar(&databaseConnectionString, "database_connection_string",
		defaultSQLiteConnectionString, "The connection string for the database")
	flag.StringVar(&databaseDriverStr, "database_driver",
		string(store.Sqlite), "The Database Driver to use (i.e sqlite3|postgres)")
	flag.IntVar(&config.DatabaseConfig.MaxIdleConnections, "database_max_idle_connections",
		store.DefaultDatabaseMaxIdleConnections, "The maximum number of idle database connections to use")
	flag.IntVar(&config.DatabaseConfig.MaxOpenConnections, "database_max_open_connections",
		store.DefaultDatabaseMaxOpenConnections, "The maximum number of open database connections to use")

	// Working directory
	flag.StringVar(&workingDirectory, "working_directory",
		defaultWorkingDirectory, "The directory holding the repository checkouts and the build logs.")

	// Misc
	flag.StringVar(&logLevels, "log_levels",
		"", fmt.Sprintf("A comma separated list of name=level pairs where name is the name of the logger and level is one of: %s", logger.ListLogLevels()))
	flag.StringVar(&settingsFilePath, "config",
		defaultSettingsFile, "The molior settings file with the site specific values (hostname, apt server, backend).")
	flag.Parse()

	// Database
	config.DatabaseConfig.Driver = store.DBDriver(databaseDriverStr)
	config.DatabaseConfig.ConnectionString = store.DatabaseConnectionString(databaseConnectionString)

	// Misc
	config.WorkingDirectory = services.WorkingDirectory(workingDirectory)
	config.LogLevels = logger.LogLevelConfig(logLevels)

	// Site settings
	err := loadSettings(settingsFilePath, config)
	if err != nil {
		return nil, err
	}
	if config.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("error determining hostname: %w", err)
		}
		config.Hostname = services.ServerHostname(hostname)
	}
	if config.AptServerURL == "" {
		config.AptServerURL = services.AptServerURL(fmt.Sprintf("http://%s:3142", config.Hostname))
	}
	if config.GPGKeyURL == "" {
		config.GPGKeyURL = services.GPGKeyURL(config.AptServerURL.String() + "/repo.asc")
	}
	if len(config.BackendConfig.DockerConfig.Architectures) == 0 {
		config.BackendConfig.DockerConfig.Architectures = []string{"amd64"}
	}
	if config.MaxParallelChroots <= 0 {
		config.MaxParallelChroots = defaultMaxParallelChroots
	}

	return config, nil
}

// loadSettings overlays the settings file onto the config. A missing file is
// not an error, the server then runs on the flag defaults.
func loadSettings(path string, config *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading settings file %s: %w", path, err)
	}
	settings := &settingsFile{}
	err = yaml.Unmarshal(data, settings)
	if err != nil {
		return fmt.Errorf("error parsing settings file %s: %w", path, err)
	}
	if settings.Hostname != "" {
		config.Hostname = services.ServerHostname(settings.Hostname)
	}
	if settings.AptServerURL != "" {
		config.AptServerURL = services.AptServerURL(settings.AptServerURL)
	}
	if settings.GPGKeyURL != "" {
		config.GPGKeyURL = services.GPGKeyURL(settings.GPGKeyURL)
	}
	if settings.Backend != "" {
		config.BackendConfig.Backend = settings.Backend
	}
	config.BackendConfig.DockerConfig = settings.Docker
	if settings.MaxParallelChroots > 0 {
		config.MaxParallelChroots = buildenv.MaxParallelChroots(settings.MaxParallelChroots)
	}
	return nil
}
