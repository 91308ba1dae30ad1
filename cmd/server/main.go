package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/server"
	"github.com/x-prune/xprune/internal/session"
)

const (
	commandUse              = "server"
	commandShortDescription = "Serve the non-follower pruning API over HTTP"
	envPrefix               = "XPRUNE_SERVER"

	flagHostName                 = "host"
	flagHostDescription          = "Host interface for the HTTP server"
	flagPortName                 = "port"
	flagPortDescription          = "Port for the HTTP server"
	flagClientIDName             = "client-id"
	flagClientIDDescription      = "OAuth client identifier"
	flagClientSecretName         = "client-secret"
	flagClientSecretDescription  = "OAuth client secret"
	flagRedirectURIName          = "redirect-uri"
	flagRedirectURIDescription   = "OAuth redirect URI registered for the client"
	flagSigningKeyName           = "signing-key"
	flagSigningKeyDescription    = "HMAC key for signing browser session tokens"
	flagRedisAddrName            = "redis-addr"
	flagRedisAddrDescription     = "Redis address for the session store; empty uses the in-memory store"
	flagSessionTTLName           = "session-ttl"
	flagSessionTTLDescription    = "Session lifetime"
	flagUnfollowDelayName        = "unfollow-delay-ms"
	flagUnfollowDelayDescription = "Delay between consecutive unfollow calls in milliseconds"

	defaultHost            = "127.0.0.1"
	defaultPort            = 8080
	defaultSessionTTL      = 2 * time.Hour
	defaultUnfollowDelayMS = 1000

	errMessageLoggerCreate       = "create logger"
	errMessageCredentialsMissing = "client-id, client-secret, and redirect-uri are required"
	errMessageSigningKeyMissing  = "signing-key is required"
	errMessageListenAndServe     = "listen and serve"

	logMessageStartingServer  = "starting HTTP server"
	logMessageServerStopped   = "server stopped"
	logMessageListenError     = "server listen failure"
	logMessageUsingRedisStore = "using redis session store"
	logFieldAddress           = "address"
	logFieldRedisAddress      = "redis_address"
)

func main() {
	cobra.CheckErr(newServerCommand().Execute())
}

func newServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runServerCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	command.Flags().String(flagClientIDName, "", flagClientIDDescription)
	command.Flags().String(flagClientSecretName, "", flagClientSecretDescription)
	command.Flags().String(flagRedirectURIName, "", flagRedirectURIDescription)
	command.Flags().String(flagSigningKeyName, "", flagSigningKeyDescription)
	command.Flags().String(flagRedisAddrName, "", flagRedisAddrDescription)
	command.Flags().Duration(flagSessionTTLName, defaultSessionTTL, flagSessionTTLDescription)
	command.Flags().Int(flagUnfollowDelayName, defaultUnfollowDelayMS, flagUnfollowDelayDescription)

	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)
	bindFlagToViper(command, flagClientIDName)
	bindFlagToViper(command, flagClientSecretName)
	bindFlagToViper(command, flagRedirectURIName)
	bindFlagToViper(command, flagSigningKeyName)
	bindFlagToViper(command, flagRedisAddrName)
	bindFlagToViper(command, flagSessionTTLName)
	bindFlagToViper(command, flagUnfollowDelayName)

	cobra.OnInitialize(configureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runServerCommand(*cobra.Command, []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	clientID := viper.GetString(flagClientIDName)
	clientSecret := viper.GetString(flagClientSecretName)
	redirectURI := viper.GetString(flagRedirectURIName)
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return errors.New(errMessageCredentialsMissing)
	}
	signingKey := viper.GetString(flagSigningKeyName)
	if signingKey == "" {
		return errors.New(errMessageSigningKeyMissing)
	}

	sessionTTL := viper.GetDuration(flagSessionTTLName)
	unfollowDelay := time.Duration(viper.GetInt(flagUnfollowDelayName)) * time.Millisecond

	client := platform.NewClient(platform.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Logger:       logger,
	})

	store, storeErr := newSessionStore(logger, sessionTTL)
	if storeErr != nil {
		return storeErr
	}

	issuer, issuerErr := session.NewTokenIssuer([]byte(signingKey), sessionTTL)
	if issuerErr != nil {
		return issuerErr
	}

	manager, managerErr := session.NewManager(session.ManagerConfig{
		API:           client,
		Store:         store,
		Issuer:        issuer,
		UnfollowDelay: unfollowDelay,
		Logger:        logger,
	})
	if managerErr != nil {
		return managerErr
	}

	router, routerErr := server.NewRouter(server.RouterConfig{
		Manager:      manager,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Logger:       logger,
	})
	if routerErr != nil {
		return routerErr
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(serveErr))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, serveErr)
	}

	logger.Info(logMessageServerStopped)
	return nil
}

func newSessionStore(logger *zap.Logger, sessionTTL time.Duration) (session.Store, error) {
	redisAddress := viper.GetString(flagRedisAddrName)
	if redisAddress == "" {
		return session.NewMemoryStore(sessionTTL), nil
	}

	logger.Info(logMessageUsingRedisStore, zap.String(logFieldRedisAddress, redisAddress))
	client := redis.NewClient(&redis.Options{Addr: redisAddress})
	return session.NewRedisStore(client, sessionTTL)
}
