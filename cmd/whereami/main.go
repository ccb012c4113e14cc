// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the whereami command.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/whereami/internal/config"
	"github.com/wneessen/whereami/internal/i18n"
	"github.com/wneessen/whereami/internal/locate"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	confPath := flag.String("config", "", "path to the config file")
	envPath := flag.String("env", "", "path to a dotenv file with secrets like the geocoder API key")
	once := flag.Bool("once", false, "print a single location fix and exit")
	address := flag.Bool("address", false, "print a single location fix with its address and exit")
	flag.Parse()

	if err := loadEnv(*envPath); err != nil {
		log.Error("failed to load env file", logger.Err(err))
		return 1
	}

	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		return 1
	}

	log = logger.New(conf.LogLevel)
	t, err := i18n.New(log, conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		return 1
	}

	serv, err := service.New(conf, log, t)
	if err != nil {
		log.Error("failed to initialize whereami service", logger.Err(err))
		return 1
	}

	if *once || *address {
		if err = serv.RunOnce(ctx, *address); err != nil {
			log.Debug("single location lookup failed", logger.Err(err))
			return 1
		}
		return 0
	}

	log.Info("starting whereami service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		if errors.Is(err, locate.ErrPermissionDenied) {
			return 2
		}
		log.Error("whereami service failed", logger.Err(err))
		return 1
	}
	log.Info("shutting down whereami service")
	return 0
}

// loadConfig reads the config from confPath or, if that is empty, from the default location.
// Without a config file only the defaults and the environment are used.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

// loadEnv loads envPath or, if that is empty, the .env file in the config directory.
func loadEnv(envPath string) error {
	if envPath == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil
		}
		envPath = filepath.Join(configDir, config.AppName, ".env")
	}
	return config.LoadEnvFile(envPath)
}

func findConfigFile() (string, string) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(configDir, config.AppName, "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
