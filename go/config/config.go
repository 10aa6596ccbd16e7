// Copyright 2025 The pqsession Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves connection settings from command-line flags,
// PG* environment variables, and an optional YAML config file, in that
// order of precedence.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pqsession/pqsession/go/pgwire/client"
)

// Defaults applied when neither flags, environment, nor config file
// provide a value.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 5432
	DefaultConnectTimeout = 10 * time.Second
)

// keys maps viper keys to their flag names and environment variables.
var keys = []struct {
	key  string
	flag string
	env  string
}{
	{"host", "pg-host", "PGHOST"},
	{"port", "pg-port", "PGPORT"},
	{"user", "pg-user", "PGUSER"},
	{"password", "pg-password", "PGPASSWORD"},
	{"database", "pg-database", "PGDATABASE"},
	{"connect-timeout", "pg-connect-timeout", "PGCONNECT_TIMEOUT"},
}

// RegisterFlags adds the connection flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("pg-host", DefaultHost, "Server hostname or IP address")
	fs.Int("pg-port", DefaultPort, "Server port number")
	fs.String("pg-user", "", "User name to connect as")
	fs.String("pg-password", "", "Password for the user")
	fs.String("pg-database", "", "Database name (defaults to the user name)")
	fs.Duration("pg-connect-timeout", DefaultConnectTimeout, "Timeout for establishing the connection")
	fs.String("config-file", "", "Path to a YAML config file")
}

// Load parses args against fs and resolves the effective connection
// config. Flags win over environment variables, which win over the config
// file, which wins over the built-in defaults.
func Load(fs *pflag.FlagSet, args []string) (*client.Config, error) {
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	v := viper.New()
	for _, k := range keys {
		if err := v.BindPFlag(k.key, fs.Lookup(k.flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", k.flag, err)
		}
		if err := v.BindEnv(k.key, k.env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", k.env, err)
		}
	}

	if file, err := fs.GetString("config-file"); err == nil && file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &client.Config{
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		User:        v.GetString("user"),
		Password:    v.GetString("password"),
		Database:    v.GetString("database"),
		DialTimeout: v.GetDuration("connect-timeout"),
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("no user configured: set --pg-user or PGUSER")
	}
	if cfg.Database == "" {
		cfg.Database = cfg.User
	}
	return cfg, nil
}

// dumpView is the YAML shape written by Dump.
type dumpView struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	ConnectTimeout string `yaml:"connect-timeout"`
}

// Dump writes the effective config to w as YAML. The password is redacted.
func Dump(w io.Writer, cfg *client.Config) error {
	view := dumpView{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Database:       cfg.Database,
		ConnectTimeout: cfg.DialTimeout.String(),
	}
	if cfg.Password != "" {
		view.Password = "(redacted)"
	}
	return yaml.NewEncoder(w).Encode(view)
}
