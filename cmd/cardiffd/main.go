package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
	"github.com/cardiffd/cardiffd/pkg/backends"
	"github.com/cardiffd/cardiffd/pkg/statsd"
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
)

func main() {
	rand.Seed(time.Now().UnixNano())
	v, version, err := setupConfiguration()
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", Version, GitCommit, BuildDate)
		return
	}
	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logrus.Info("Starting server")
	s, err := constructServer(v)
	if err != nil {
		return err
	}

	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %v", err)
	}
	return nil
}

func constructServer(v *viper.Viper) (*statsd.Server, error) {
	logger := logrus.StandardLogger()

	// Backends
	backendNames := getStringList(v, statsd.ParamBackends)
	backendsList := make([]cardiffd.Backend, 0, len(backendNames))
	for _, backendName := range backendNames {
		backend, errBackend := backends.InitBackend(backendName, v, logger)
		if errBackend != nil {
			return nil, errBackend
		}
		backendsList = append(backendsList, backend)
	}

	// Percentiles
	pt, err := getPercentiles(getStringList(v, statsd.ParamPercentThreshold))
	if err != nil {
		return nil, err
	}

	return &statsd.Server{
		Backends:              backendsList,
		InternalTags:          getStringList(v, statsd.ParamInternalTags),
		InternalNamespace:     v.GetString(statsd.ParamInternalNamespace),
		DefaultTags:           getStringList(v, statsd.ParamDefaultTags),
		ExpiryInterval:        v.GetDuration(statsd.ParamExpiryInterval),
		FlushInterval:         v.GetDuration(statsd.ParamFlushInterval),
		FlushOffset:           v.GetDuration(statsd.ParamFlushOffset),
		FlushAligned:          v.GetBool(statsd.ParamFlushAligned),
		DispatchTimeout:       v.GetDuration(statsd.ParamDispatchTimeout),
		IgnoreHost:            v.GetBool(statsd.ParamIgnoreHost),
		MaxReaders:            v.GetInt(statsd.ParamMaxReaders),
		MaxParsers:            v.GetInt(statsd.ParamMaxParsers),
		MaxWorkers:            v.GetInt(statsd.ParamMaxWorkers),
		MaxQueueSize:          v.GetInt(statsd.ParamMaxQueueSize),
		ReceiveBatchSize:      v.GetInt(statsd.ParamReceiveBatchSize),
		ConsolidationInterval: v.GetDuration(statsd.ParamConsolidationInterval),
		MetricsAddr:           v.GetString(statsd.ParamMetricsAddr),
		UpstreamAddr:          v.GetString(statsd.ParamUpstreamAddr),
		Namespace:             v.GetString(statsd.ParamNamespace),
		PercentThreshold:      pt,
		BadLinesPerSecond:     rate.Limit(v.GetFloat64(statsd.ParamBadLinesPerSecondLogged)),
		StatserType:           v.GetString(statsd.ParamStatserType),
		ConnPerReader:         v.GetBool(statsd.ParamConnPerReader),
		WebAddr:               v.GetString(statsd.ParamWebAddr),
		WebEnablePprof:        v.GetBool(statsd.ParamWebEnablePprof),
		Logger:                logger,
	}, nil
}

func getPercentiles(s []string) ([]float64, error) {
	percentThresholds := make([]float64, len(s))
	for i, sPercentThreshold := range s {
		pt, err := strconv.ParseFloat(sPercentThreshold, 64)
		if err != nil {
			return nil, err
		}
		percentThresholds[i] = pt
	}
	return percentThresholds, nil
}

// getStringList reads a list parameter that may arrive as a real list (config
// file) or as a comma-separated string (command line flag).
func getStringList(v *viper.Viper, key string) []string {
	var result []string
	for _, s := range v.GetStringSlice(key) {
		for _, part := range strings.Split(s, ",") {
			if part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

func setupConfiguration() (*viper.Viper, bool, error) {
	v := viper.New()
	defer setupLogger(v) // Apply logging configuration in case of early exit
	util.InitViper(v)
	statsd.InitDefaults(v)

	var version bool

	cmd := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	cmd.Bool(ParamVerbose, false, "Verbose")
	cmd.Bool(ParamJSON, false, "Log in JSON format")
	cmd.String(ParamConfigPath, "", "Path to the configuration file")

	statsd.AddFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(os.Args[1:]); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func setupLogger(v *viper.Viper) {
	if v.GetBool(ParamVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
