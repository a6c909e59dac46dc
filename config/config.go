package config

import (
	"github.com/Conflux-Chain/go-conflux-util/config"
	"github.com/canvasart/tracker/alert"
)

// Read system environment variables prefixed with "TRACKER".
// eg., `TRACKER_LOG_LEVEL` will override "log.level" config item from the
// config file.
const viperEnvPrefix = "tracker"

func Init() {
	// init utilities eg., viper, metrics and logging
	config.MustInit(viperEnvPrefix)

	// init alerting
	alert.MustInitFromViper()
}
