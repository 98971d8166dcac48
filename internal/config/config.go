package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var Opts *Options

// GetConfig resolves the data folder of the current options, creating it if needed.
func GetConfig() (*Options, error) {
	if Opts == nil {
		GetDefaultOptions()
	}

	dataDir, err := checkDataDir(Opts.Data)
	if err != nil {
		fmt.Println("Error checking data directory: ", err)
		return nil, err
	}

	Opts.Data = dataDir
	if Opts.DSN == "" || Opts.DSN == defaultDSN {
		Opts.DSN = filepath.Join(Opts.Data, "/celestial.db")
	}
	if !filepath.IsAbs(Opts.LogFile) {
		Opts.LogFile = filepath.Join(Opts.Data, Opts.LogFile)
	}
	fmt.Println("Data directory: ", Opts.Data)

	return Opts, nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
		}
		err := os.MkdirAll(dataDir, 0755)
		if err == nil {
			return dataDir, nil
		}
		if !errors.Is(err, os.ErrPermission) || dataDir != defaultData {
			return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
		}
		// Permission denied, try to create in user's home directory
		currentUser, err := user.Current()
		if err != nil {
			return "", errors.Wrap(err, "unable to get current user")
		}
		homeDir := currentUser.HomeDir
		if homeDir == "" {
			return "", errors.New("unable to get home directory")
		}
		fmt.Println("Permission denied, trying to check data folder in user's home directory")

		fallback := filepath.Join(homeDir, "/.celestial")
		if _, err := os.Stat(fallback); err == nil {
			return fallback, nil
		}
		if err := os.MkdirAll(fallback, 0755); err != nil {
			return "", errors.Wrapf(err, "unable to create default data folder %s", fallback)
		}
		fmt.Println("Data folder created in user's home directory: ", fallback)
		return fallback, nil
	}
	return dataDir, nil
}

// ParseFile overlays the options found in file on top of the current ones.
func ParseFile(file string) (*Options, error) {
	// Check if file exists
	if _, err := os.Stat(file); err != nil {
		return nil, errors.Wrapf(err, "unable to access config file %s", file)
	}
	if Opts == nil {
		GetDefaultOptions()
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.SetEnvPrefix("celestial")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "unable to read config file %s", file)
	}
	if err := v.Unmarshal(Opts); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	return Opts, nil
}

func (o *Options) AutosaveDelay() time.Duration {
	return time.Duration(o.AutosaveDelayMS) * time.Millisecond
}

func (o *Options) LongPressDelay() time.Duration {
	return time.Duration(o.LongPressMS) * time.Millisecond
}

func (o *Options) RenderTimeout() time.Duration {
	return time.Duration(o.RenderTimeoutSec) * time.Second
}

// ListenAddr returns the host:port the HTTP server binds to.
func (o *Options) ListenAddr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
