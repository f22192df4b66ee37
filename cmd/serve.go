package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/handlers"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/mqttpub"
	"github.com/jake-scott/ojmicroline-bridge/pkg/middlewares"
)

var _serveCmdOpts struct {
	httpPort        uint16
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	updateInterval  time.Duration
	apiTimeout      time.Duration
	refreshDelay    time.Duration
	maxSetups       int
	corsOrigins     []string
	mqttBroker      string
	mqttTopicPrefix string
	mqttClientID    string
	logRequests     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the config entries and serve the bridge API",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServe(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("store.path", "vendor.driver")
	},
}

func init() {
	serveCmd.Flags().Uint16Var(&_serveCmdOpts.httpPort, "http-port", 8080, "HTTP port number")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.updateInterval, "update-interval", coordinator.DefaultUpdateInterval, "how often each entry polls the vendor cloud")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.apiTimeout, "api-timeout", coordinator.DefaultAPITimeout, "maximum duration of a vendor API fetch")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.refreshDelay, "refresh-delay", coordinator.DefaultRefreshDelay, "wait after a write before reading back")
	serveCmd.Flags().IntVar(&_serveCmdOpts.maxSetups, "max-concurrent-setups", hub.DefaultMaxConcurrentSetups, "entries set up in parallel at startup")
	serveCmd.Flags().StringSliceVar(&_serveCmdOpts.corsOrigins, "cors-origins", nil, "allowed CORS origins (default any)")
	serveCmd.Flags().StringVar(&_serveCmdOpts.mqttBroker, "mqtt-broker", "", "MQTT broker to publish states to, eg. tcp://localhost:1883")
	serveCmd.Flags().StringVar(&_serveCmdOpts.mqttTopicPrefix, "mqtt-topic-prefix", mqttpub.DefaultTopicPrefix, "MQTT topic prefix")
	serveCmd.Flags().StringVar(&_serveCmdOpts.mqttClientID, "mqtt-client-id", mqttpub.DefaultClientID, "MQTT client ID")
	serveCmd.Flags().BoolVar(&_serveCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("http.port", serveCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serveCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serveCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serveCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.cors-origins", serveCmd.Flags().Lookup("cors-origins")))
	errPanic(viper.GetViper().BindPFlag("coordinator.update-interval", serveCmd.Flags().Lookup("update-interval")))
	errPanic(viper.GetViper().BindPFlag("coordinator.api-timeout", serveCmd.Flags().Lookup("api-timeout")))
	errPanic(viper.GetViper().BindPFlag("coordinator.refresh-delay", serveCmd.Flags().Lookup("refresh-delay")))
	errPanic(viper.GetViper().BindPFlag("hub.max-concurrent-setups", serveCmd.Flags().Lookup("max-concurrent-setups")))
	errPanic(viper.GetViper().BindPFlag("mqtt.broker", serveCmd.Flags().Lookup("mqtt-broker")))
	errPanic(viper.GetViper().BindPFlag("mqtt.topic-prefix", serveCmd.Flags().Lookup("mqtt-topic-prefix")))
	errPanic(viper.GetViper().BindPFlag("mqtt.client-id", serveCmd.Flags().Lookup("mqtt-client-id")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", serveCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(serveCmd)
}

func doServe() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	h := hub.New(store, hubSettings().WithMetrics(coordinator.NewMetrics(reg)))

	ctx := context.Background()
	if err := h.SetupAll(ctx); err != nil {
		return err
	}

	var publisher *mqttpub.Publisher
	if broker := viper.GetString("mqtt.broker"); broker != "" {
		client, err := mqttpub.Connect(broker, viper.GetString("mqtt.client-id"))
		if err != nil {
			h.Close(ctx)
			return err
		}

		publisher = mqttpub.New(client, viper.GetString("mqtt.topic-prefix"))
		publisher.Start(h)
	}

	r := mux.NewRouter()
	r.Use(middlewares.NewLoggingMw(logRequests))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorrelationMw(middlewares.CorrelationIDHeader))

	origins := viper.GetStringSlice("http.cors-origins")
	handlers.Register(r, h, middlewares.OriginChecker(origins))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      middlewares.NewCors(middlewares.CorsOptions(origins), r),
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal
	<-c

	// Create a deadline to wait for.
	shutdownCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	logging.Logger(nil).Info("shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}

	if publisher != nil {
		publisher.Stop()
	}
	h.Close(shutdownCtx)

	logging.Logger(nil).Info("exiting")
	return nil
}
