package main

import (
	nethttp "net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/jungbaepark/gcs/common/config"
	"github.com/jungbaepark/gcs/common/leader"
	"github.com/jungbaepark/gcs/logging"
	"github.com/jungbaepark/gcs/metrics"
	"github.com/jungbaepark/gcs/server"
)

const appLogField = "app"

var (
	version string
	app     = kingpin.New("gcs", "Global Control Service")

	debug = app.Flag(
		"debug", "enable debug logging").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	electionZkServers = app.Flag(
		"election-zk-server",
		"election zookeeper servers, specify multiple times for multiple servers "+
			"(election.zk_servers override)").
		Envar("ELECTION_ZK_SERVERS").
		Strings()

	grpcPort = app.Flag(
		"grpc-port", "inbound RPC port (grpc_port override)").
		Envar("GRPC_PORT").
		Int()

	cassandraHosts = app.Flag(
		"cassandra-hosts", "Cassandra contact points (cassandra.contact_points override)").
		Envar("CASSANDRA_HOSTS").
		Strings()

	cassandraKeyspace = app.Flag(
		"cassandra-keyspace", "Cassandra keyspace (cassandra.keyspace override)").
		Default("").
		Envar("CASSANDRA_KEYSPACE").
		String()

	secretFile = app.Flag(
		"secret-file", "secret file containing Cassandra credentials").
		Default("").
		Envar("GCS_SECRET_FILE").
		String()

	prometheusEnable = app.Flag(
		"enable-prometheus", "enable the Prometheus metrics reporter").
		Default("false").
		Envar("ENABLE_PROMETHEUS").
		Bool()
)

func getConfig(cfgFiles ...string) server.Config {
	log.WithField("files", cfgFiles).Info("loading GCS config")

	var cfg server.Config
	if err := config.Parse(&cfg, cfgFiles...); err != nil {
		log.WithError(err).Fatal("cannot parse yaml config")
	}

	if len(*electionZkServers) > 0 {
		cfg.Election.ZKServers = *electionZkServers
	}
	if *grpcPort != 0 {
		cfg.GRPCPort = *grpcPort
	}
	if len(*cassandraHosts) > 0 {
		cfg.Cassandra.ContactPoints = *cassandraHosts
	}
	if *cassandraKeyspace != "" {
		cfg.Cassandra.Keyspace = *cassandraKeyspace
	}
	if *secretFile != "" {
		var secrets config.SecretsConfig
		if err := config.Parse(&secrets, *secretFile); err != nil {
			log.WithError(err).WithField("secret_file", *secretFile).
				Fatal("cannot parse secret config")
		}
		cfg.Cassandra.Username = secrets.CassandraUsername
		cfg.Cassandra.Password = secrets.CassandraPassword
	}
	log.WithField("config", cfg).Info("loaded GCS config")
	return cfg
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(&logging.LogFieldFormatter{
		Formatter: &log.JSONFormatter{},
		Fields:    log.Fields{appLogField: app.Name},
	})
	level := log.InfoLevel
	if *debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	cfg := getConfig(*cfgFiles...)

	rootScope, scopeCloser, mux := metrics.InitMetricScope(
		metrics.Config{Prometheus: metrics.PrometheusConfig{Enable: *prometheusEnable}},
		"gcs",
		time.Second,
	)
	defer scopeCloser.Close()
	rootScope.Counter("boot").Inc(1)

	go func() {
		debugAddr := ":9091"
		log.WithField("addr", debugAddr).Info("serving debug/metrics endpoint")
		if err := nethttp.ListenAndServe(debugAddr, mux); err != nil {
			log.WithError(err).Warn("debug/metrics endpoint stopped")
		}
	}()

	shell, err := server.NewShell(cfg, rootScope)
	if err != nil {
		log.WithError(err).Fatal("unable to construct server shell")
	}

	candidate, err := leader.NewCandidate(cfg.Election, rootScope, "gcs", shell)
	if err != nil {
		log.WithError(err).Fatal("unable to create leader candidate")
	}
	if err := candidate.Start(); err != nil {
		log.WithError(err).Fatal("unable to start leader candidate")
	}
	defer candidate.Stop()

	log.WithField("grpc_port", cfg.GRPCPort).Info("started global control service")

	select {}
}
