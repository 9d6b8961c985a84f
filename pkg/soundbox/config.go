package soundbox

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/soundbox-audio/soundbox/pkg/soundbox/util"
)

// CanonicalConfig provides centralized access to configuration fields
type CanonicalConfig struct {
	DeviceVolumes      map[string]float32
	AllowOverlapping   bool
	ProgressIntervalMs int

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan struct{}

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	internalConfig *viper.Viper
}

const (
	userConfigFilepath     = "config.yaml"
	internalConfigFilepath = "preferences.yaml"

	userConfigName     = "config"
	internalConfigName = "preferences"
	userConfigPath     = "."

	configType                = "yaml"
	configKeyDeviceVolumes    = "device_volumes"
	configKeyAllowOverlapping = "allow_overlapping"
	configKeyProgressInterval = "progress_interval_ms"

	defaultProgressIntervalMs = 500
)

var internalConfigPath = path.Join(".", logDirectory)

// NewConfig initializes the configuration manager
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    make([]chan bool, 0),
		stopWatcherChannel: make(chan struct{}),
	}

	cc.initializeViperInstances()
	logger.Debug("Created configuration instance")

	return cc, nil
}

// initializeViperInstances sets up user and internal config
func (cc *CanonicalConfig) initializeViperInstances() {
	cc.userConfig = initializeViper(userConfigName, userConfigPath, map[string]interface{}{
		configKeyDeviceVolumes:    map[string]interface{}{},
		configKeyAllowOverlapping: true,
		configKeyProgressInterval: defaultProgressIntervalMs,
	})
	cc.internalConfig = initializeViper(internalConfigName, internalConfigPath, nil)
}

// initializeViper creates and configures a Viper instance
func initializeViper(name, path string, defaults map[string]interface{}) *viper.Viper {
	config := viper.New()
	config.SetConfigName(name)
	config.SetConfigType(configType)
	config.AddConfigPath(path)

	for key, value := range defaults {
		config.SetDefault(key, value)
	}

	return config
}

// Load reads and validates configuration files. A missing user config is not
// an error: the engine runs fine on defaults.
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading user configuration", "path", userConfigFilepath)

	if err := cc.readUserConfig(); err != nil {
		return err
	}
	if err := cc.internalConfig.ReadInConfig(); err != nil {
		cc.logger.Debugw("Skipping optional internal config", "error", err)
	}

	cc.populateFromVipers()
	return nil
}

// readUserConfig loads the user-provided configuration, if present
func (cc *CanonicalConfig) readUserConfig() error {
	if !util.FileExists(userConfigFilepath) {
		cc.logger.Debugw("No user configuration file, using defaults", "path", userConfigFilepath)
		return nil
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		return cc.handleConfigError("user config", err)
	}
	return nil
}

// handleConfigError processes errors during config file loading
func (cc *CanonicalConfig) handleConfigError(configName string, err error) error {
	cc.logger.Warnw("Failed to load configuration", "config", configName, "error", err)

	if strings.Contains(err.Error(), "yaml:") {
		cc.notifier.Notify("Invalid configuration format!",
			"Ensure the YAML file is properly formatted.")
	} else {
		cc.notifier.Notify("Error loading configuration!", "Check logs for more details.")
	}
	return fmt.Errorf("read %s: %w", configName, err)
}

// populateFromVipers reads configuration fields into structured fields.
// Internal (persisted) device volumes override user-provided ones.
func (cc *CanonicalConfig) populateFromVipers() {
	cc.DeviceVolumes = make(map[string]float32)
	for name, value := range cc.userConfig.GetStringMap(configKeyDeviceVolumes) {
		cc.DeviceVolumes[name] = cast.ToFloat32(value)
	}
	for name, value := range cc.internalConfig.GetStringMap(configKeyDeviceVolumes) {
		cc.DeviceVolumes[name] = cast.ToFloat32(value)
	}

	cc.AllowOverlapping = cc.userConfig.GetBool(configKeyAllowOverlapping)
	cc.ProgressIntervalMs = cc.validateProgressInterval(cc.userConfig.GetInt(configKeyProgressInterval))

	cc.logger.Debugw("Configuration populated successfully",
		"deviceVolumes", len(cc.DeviceVolumes),
		"allowOverlapping", cc.AllowOverlapping,
		"progressIntervalMs", cc.ProgressIntervalMs)
}

// validateProgressInterval checks for a valid throttle interval, returning the default if invalid
func (cc *CanonicalConfig) validateProgressInterval(intervalMs int) int {
	if intervalMs > 0 {
		return intervalMs
	}
	cc.logger.Warnw("Invalid progress interval specified, using default",
		"invalidValue", intervalMs, "defaultValue", defaultProgressIntervalMs)
	return defaultProgressIntervalMs
}

// SetDeviceVolume stores a device volume in the internal config so it is
// restored on the next run.
func (cc *CanonicalConfig) SetDeviceVolume(deviceName string, volume float32) error {
	cc.DeviceVolumes[deviceName] = volume

	persisted := cc.internalConfig.GetStringMap(configKeyDeviceVolumes)
	if persisted == nil {
		persisted = make(map[string]interface{})
	}
	persisted[deviceName] = volume
	cc.internalConfig.Set(configKeyDeviceVolumes, persisted)

	if err := util.EnsureDirExists(internalConfigPath); err != nil {
		return fmt.Errorf("ensure internal config dir: %w", err)
	}
	if err := cc.internalConfig.WriteConfigAs(path.Join(internalConfigPath, internalConfigFilepath)); err != nil {
		return fmt.Errorf("write internal config: %w", err)
	}

	return nil
}

// SubscribeToChanges allows listeners to be notified when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	ch := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, ch)
	return ch
}

// WatchConfigFileChanges blocks and reloads the config whenever the user
// config file is modified. Stop it with StopWatchingConfigFile.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cc.logger.Warnw("Failed to create filesystem watcher", "error", err)
		return
	}
	defer watcher.Close()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != userConfigFilepath {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}

				now := time.Now()
				if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).After(now) {
					continue
				}
				lastAttemptedReload = now

				// let the editor finish writing the file
				time.Sleep(delayBetweenEventAndReload)

				cc.logger.Info("Config file modified, reloading")
				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.onConfigReloaded()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cc.logger.Warnw("Filesystem watcher error", "error", err)
			}
		}
	}()

	if err := watcher.Add(userConfigPath); err != nil {
		cc.logger.Warnw("Failed to watch config directory", "error", err)
		return
	}

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
}

// StopWatchingConfigFile signals the watcher to stop watching for changes
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- struct{}{}
}

// onConfigReloaded notifies all subscribed consumers of a config reload
func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
