// Command unfollow runs the whole flow from a terminal: authorize via OAuth
// PKCE with a localhost callback, fetch the following and followers lists,
// reconcile them, and optionally unfollow the accounts that do not follow
// back.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/x-prune/xprune/internal/authflow"
	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/reconcile"
	"github.com/x-prune/xprune/internal/unfollower"
)

const (
	commandUse              = "unfollow"
	commandShortDescription = "List accounts that do not follow back and optionally unfollow them"
	envPrefix               = "XPRUNE_UNFOLLOW"

	flagClientIDName            = "client-id"
	flagClientIDDescription     = "OAuth client identifier"
	flagClientSecretName        = "client-secret"
	flagClientSecretDescription = "OAuth client secret"
	flagRedirectURIName         = "redirect-uri"
	flagRedirectURIDescription  = "Redirect URI registered for the client; must be a local http URL"
	flagAuthBaseURLName         = "auth-base-url"
	flagAuthBaseURLDescription  = "Base URL for the browser authorize flow"
	flagAPIBaseURLName          = "api-base-url"
	flagAPIBaseURLDescription   = "Base URL for API and token requests"
	flagYesName                 = "yes"
	flagYesDescription          = "Actually unfollow the non-followers instead of only listing them"
	flagMaxName                 = "max"
	flagMaxDescription          = "Maximum unfollows to attempt in this run"
	flagSleepMillisName         = "sleep-ms"
	flagSleepMillisDescription  = "Milliseconds to sleep between unfollow requests"
	flagAuthTimeoutName         = "auth-timeout"
	flagAuthTimeoutDescription  = "How long to wait for the browser authorization"

	defaultRedirectURI = "http://localhost:8080/callback"
	defaultAuthBaseURL = "https://twitter.com"
	defaultAPIBaseURL  = "https://api.twitter.com"
	defaultMaxPerRun   = 350
	defaultSleepMillis = 1000
	defaultAuthTimeout = 5 * time.Minute

	callbackCompletePage = "<html><body><h3>Auth complete. You can close this window.</h3></body></html>"
)

func main() {
	cobra.CheckErr(newUnfollowCommand().Execute())
}

func newUnfollowCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runUnfollowCommand,
	}

	command.Flags().String(flagClientIDName, "", flagClientIDDescription)
	command.Flags().String(flagClientSecretName, "", flagClientSecretDescription)
	command.Flags().String(flagRedirectURIName, defaultRedirectURI, flagRedirectURIDescription)
	command.Flags().String(flagAuthBaseURLName, defaultAuthBaseURL, flagAuthBaseURLDescription)
	command.Flags().String(flagAPIBaseURLName, defaultAPIBaseURL, flagAPIBaseURLDescription)
	command.Flags().Bool(flagYesName, false, flagYesDescription)
	command.Flags().Int(flagMaxName, defaultMaxPerRun, flagMaxDescription)
	command.Flags().Int(flagSleepMillisName, defaultSleepMillis, flagSleepMillisDescription)
	command.Flags().Duration(flagAuthTimeoutName, defaultAuthTimeout, flagAuthTimeoutDescription)

	bindFlagToViper(command, flagClientIDName)
	bindFlagToViper(command, flagClientSecretName)
	bindFlagToViper(command, flagRedirectURIName)
	bindFlagToViper(command, flagAuthBaseURLName)
	bindFlagToViper(command, flagAPIBaseURLName)
	bindFlagToViper(command, flagYesName)
	bindFlagToViper(command, flagMaxName)
	bindFlagToViper(command, flagSleepMillisName)
	bindFlagToViper(command, flagAuthTimeoutName)

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

func runUnfollowCommand(command *cobra.Command, _ []string) error {
	clientID := viper.GetString(flagClientIDName)
	clientSecret := viper.GetString(flagClientSecretName)
	if clientID == "" || clientSecret == "" {
		return errors.New("client-id and client-secret are required")
	}
	redirectURI := viper.GetString(flagRedirectURIName)

	client := platform.NewClient(platform.Config{
		APIBaseURL:   viper.GetString(flagAPIBaseURLName),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Logger:       zap.NewNop(),
	})

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	authorizationCode, loginSession, authErr := authorizeInteractively(ctx, clientID, redirectURI)
	if authErr != nil {
		return fmt.Errorf("authorization failed: %w", authErr)
	}

	grant, account, exchangeErr := client.ExchangeAuthorizationCode(ctx, authorizationCode, loginSession.CodeVerifier)
	if exchangeErr != nil {
		var profileErr *platform.ProfileFetchError
		if !errors.As(exchangeErr, &profileErr) {
			return fmt.Errorf("token exchange failed: %w", exchangeErr)
		}
		// The grant itself is valid; retry the profile fetch once.
		grant = profileErr.Grant
		var retryErr error
		account, retryErr = client.FetchProfile(ctx, grant.AccessToken)
		if retryErr != nil {
			return fmt.Errorf("profile fetch failed: %w", retryErr)
		}
	}
	fmt.Printf("Authorized as @%s (%s)\n", account.UserName, account.ID)

	fmt.Println("Fetching following list...")
	following, followingErr := client.FetchAllRelations(ctx, grant.AccessToken, account.ID, platform.RelationFollowing)
	if followingErr != nil {
		return fmt.Errorf("fetch following: %w", followingErr)
	}
	fmt.Println("Fetching followers list...")
	followers, followersErr := client.FetchAllRelations(ctx, grant.AccessToken, account.ID, platform.RelationFollowers)
	if followersErr != nil {
		return fmt.Errorf("fetch followers: %w", followersErr)
	}

	result := reconcile.Reconcile(following, followers)
	fmt.Printf("\nfollowing=%d followers=%d mutual=%d not following back=%d\n\n",
		len(following), len(followers), result.MutualCount, len(result.NonFollowers))
	for _, entry := range result.NonFollowers {
		fmt.Printf("  @%s (%s) %s\n", entry.UserName, entry.ID, entry.DisplayName)
	}

	if !viper.GetBool(flagYesName) {
		fmt.Println("\nDry run. Re-run with --yes to unfollow these accounts.")
		return nil
	}

	targets := result.NonFollowers
	maxPerRun := viper.GetInt(flagMaxName)
	if maxPerRun > 0 && len(targets) > maxPerRun {
		targets = targets[:maxPerRun]
		fmt.Printf("\nCapping this run at %d unfollows.\n", maxPerRun)
	}

	executor, executorErr := unfollower.NewExecutor(unfollower.Config{
		API:    client,
		Delay:  time.Duration(viper.GetInt(flagSleepMillisName)) * time.Millisecond,
		Logger: zap.NewNop(),
	})
	if executorErr != nil {
		return executorErr
	}

	fmt.Println()
	report := executor.UnfollowMany(ctx, grant.AccessToken, account.ID, targets)
	for _, outcome := range report.Outcomes {
		switch outcome.Status {
		case unfollower.StatusSucceeded:
			fmt.Printf("%s: unfollowed\n", outcome.AccountID)
		case unfollower.StatusFailed:
			if outcome.Err != nil {
				fmt.Printf("%s: error: %v\n", outcome.AccountID, outcome.Err)
			} else {
				fmt.Printf("%s: still following\n", outcome.AccountID)
			}
		case unfollower.StatusSkipped:
			fmt.Printf("%s: skipped\n", outcome.AccountID)
		}
	}

	succeeded, failed, skipped := report.Counts()
	fmt.Printf("\nDone. attempted=%d, unfollowed=%d, failed=%d, skipped=%d\n",
		len(report.Outcomes)-skipped, succeeded, failed, skipped)
	if report.RateLimited {
		fmt.Printf("Stopped on a rate limit. Retry after %s.\n", report.RetryAfter)
	}
	return nil
}

// authorizeInteractively binds the callback listener, opens the browser on
// the authorize URL, and waits for the redirect. The listener is bound before
// the browser opens so a busy port fails fast.
func authorizeInteractively(ctx context.Context, clientID string, redirectURI string) (string, *authflow.LoginSession, error) {
	redirectURL, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		return "", nil, fmt.Errorf("invalid redirect-uri: %w", parseErr)
	}
	if redirectURL.Scheme != "http" || redirectURL.Host == "" {
		return "", nil, fmt.Errorf("redirect-uri must be a local http URL with a host, got %s", redirectURI)
	}
	callbackPath := redirectURL.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	loginSession, sessionErr := authflow.NewLoginSession()
	if sessionErr != nil {
		return "", nil, sessionErr
	}

	listener, listenErr := net.Listen("tcp", redirectURL.Host)
	if listenErr != nil {
		return "", nil, fmt.Errorf("cannot bind %s for callback: %w", redirectURL.Host, listenErr)
	}

	codeChannel := make(chan string, 1)
	errorChannel := make(chan error, 1)

	serveMux := http.NewServeMux()
	serveMux.HandleFunc(callbackPath, func(responseWriter http.ResponseWriter, request *http.Request) {
		code, validateErr := loginSession.ValidateCallback(authflow.CallbackParams{
			Code:       request.URL.Query().Get("code"),
			State:      request.URL.Query().Get("state"),
			ErrorParam: request.URL.Query().Get("error"),
		})
		if validateErr != nil {
			http.Error(responseWriter, validateErr.Error(), http.StatusBadRequest)
			errorChannel <- validateErr
			return
		}
		_, _ = io.WriteString(responseWriter, callbackCompletePage)
		codeChannel <- code
	})

	callbackServer := &http.Server{Handler: serveMux}
	go func() {
		if serveErr := callbackServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errorChannel <- serveErr
		}
	}()
	defer func() {
		_ = callbackServer.Close()
	}()

	authorizeURL := loginSession.AuthorizeURL(clientID, redirectURI, viper.GetString(flagAuthBaseURLName))
	if openInBrowser(authorizeURL) != nil {
		fmt.Println("Open this URL in your browser to authorize:")
		fmt.Println(authorizeURL)
	} else {
		fmt.Println("Browser opened for authorization.")
	}

	select {
	case authErr := <-errorChannel:
		return "", nil, authErr
	case code := <-codeChannel:
		return code, loginSession, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-time.After(viper.GetDuration(flagAuthTimeoutName)):
		return "", nil, errors.New("timed out waiting for authorization")
	}
}

func openInBrowser(address string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", address).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", address).Start()
	default:
		return exec.Command("xdg-open", address).Start()
	}
}
