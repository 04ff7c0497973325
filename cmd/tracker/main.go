package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/api"
	"github.com/sensortrack/telemetry-hub/internal/audit"
	"github.com/sensortrack/telemetry-hub/internal/hub"
	"github.com/sensortrack/telemetry-hub/internal/ingest"
	"github.com/sensortrack/telemetry-hub/internal/persistence"
	"github.com/sensortrack/telemetry-hub/internal/service_registry"
	"github.com/sensortrack/telemetry-hub/internal/store"
	"github.com/sensortrack/telemetry-hub/internal/utils"
	"github.com/sensortrack/telemetry-hub/pkg/file"
	"github.com/sensortrack/telemetry-hub/pkg/jwt"
	"github.com/sensortrack/telemetry-hub/pkg/mqtt"
)

func main() {
	// Structured JSON logging to stdout
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// A unique client ID per process so broker-side sessions never collide
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	logger.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT client ID")

	mqttClient := mqtt.NewMqttService(fileClient, logger)
	err = mqttClient.Initialize(mqtt.Options{
		Broker:            config.MQTT.Broker,
		ClientID:          config.MQTT.ClientID,
		Username:          config.MQTT.Username,
		Password:          config.MQTT.Password,
		CACertificate:     config.MQTT.CACertificate,
		ReconnectInterval: config.MQTT.ReconnectInterval.Std(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}

	relational, err := store.ConnectRelational(store.DatabaseConfig{
		Host:     config.Database.Host,
		Port:     config.Database.Port,
		User:     config.Database.User,
		Password: config.Database.Password,
		DBName:   config.Database.DBName,
		SSLMode:  config.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := relational.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database schema")
	}

	timeseries := store.NewTimeSeriesStore(store.InfluxConfig{
		URL:    config.InfluxDB.URL,
		Token:  config.InfluxDB.Token,
		Org:    config.InfluxDB.Org,
		Bucket: config.InfluxDB.Bucket,
	}, logger)

	auditor := audit.NewRecorder(relational, logger)
	coordinator := persistence.NewCoordinator(relational, timeseries, logger)
	verifier := jwt.NewVerifier([]byte(config.JWT.Secret))

	distributionHub := hub.NewHub(verifier, auditor, config.Hub.SendBuffer, logger)

	ingestService := ingest.NewIngestService(
		config.MQTT.QOS,
		config.Ingest.Workers,
		config.Ingest.DrainTimeout.Std(),
		mqttClient,
		coordinator,
		distributionHub,
		auditor,
		logger,
	)

	apiServer := api.NewServer(
		config.HTTP.Address,
		verifier,
		distributionHub,
		timeseries,
		relational,
		auditor,
		distributionHub.HandleConnection,
		logger,
	)

	registry := service_registry.NewServiceRegistry(logger)
	registry.RegisterService("hub", distributionHub)
	registry.RegisterService("ingest", ingestService)
	registry.RegisterService("api", apiServer)

	if err := registry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully")
	if err := registry.StopServicesWithin(config.Shutdown.Timeout.Std()); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}

	mqttClient.Disconnect(250)
	timeseries.Close()
	if err := relational.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close database connection")
	}
}
