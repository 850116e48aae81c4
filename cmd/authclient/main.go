package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authhttp"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: authclient [flags] <command> [args]

commands:
  login <username> <password>    sign in and store the credential
  signup <email> <password>      create an account and sign in
  get <path>                     GET an API path with the stored credential
  watch <path>                   GET path every -interval until interrupted
  refresh                        force a credential refresh
  status                         show the stored credential state
  logout                         end the session
`

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "config file (default: CONFIG_PATH env, then environment only)")
	interval := flag.Duration("interval", 30*time.Second, "poll interval for watch")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address during watch")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*configPath, *interval, *metricsAddr, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration, metricsAddr string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	lvl, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "login":
		if len(rest) != 2 {
			return errors.New("login needs <username> <password>")
		}
		if _, err := a.manager.Login(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		displayAppname(cfg.GetAppName())
		fmt.Println("Signed in as", rest[0])
	case "signup":
		if len(rest) != 2 {
			return errors.New("signup needs <email> <password>")
		}
		if _, err := a.manager.Signup(ctx, authapi.SignupRequest{Email: rest[0], Password: rest[1]}); err != nil {
			return err
		}
		fmt.Println("Account created for", rest[0])
	case "get":
		if len(rest) != 1 {
			return errors.New("get needs <path>")
		}
		return a.get(ctx, rest[0])
	case "watch":
		if len(rest) != 1 {
			return errors.New("watch needs <path>")
		}
		if metricsAddr != "" {
			go serveMetrics(a, metricsAddr)
		}
		return a.watch(ctx, rest[0], interval)
	case "refresh":
		cred, err := a.coordinator.ForceRefresh(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Refreshed, expires", describeExpiry(cred.ExpiryEpoch))
	case "status":
		cred := a.store.Get()
		if !cred.IsAuthenticated {
			fmt.Println("Signed out")
			return nil
		}
		fmt.Println("Signed in, access token expires", describeExpiry(cred.ExpiryEpoch))
		fmt.Println("Proactive refresh due:", a.coordinator.ShouldProactivelyRefresh())
	case "logout":
		if err := a.manager.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (a *app) get(ctx context.Context, path string) error {
	var body any
	if err := a.client.GetJSON(ctx, a.url(path), &body, authhttp.CallOptions{SkipErrorTooltip: true}); err != nil {
		return err
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (a *app) watch(ctx context.Context, path string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var body any
		if err := a.client.GetJSON(ctx, a.url(path), &body, authhttp.CallOptions{}); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("authclient: watch call failed")
		} else {
			log.Info().Str("path", path).Interface("body", body).Msg("authclient: ok")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(a.cfg.GetBaseURL(), "/") + "/" + strings.TrimLeft(path, "/")
}

func serveMetrics(a *app, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("authclient: serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Msg("authclient: metrics server")
	}
}

func describeExpiry(epoch *int64) string {
	if epoch == nil {
		return "at an unknown time"
	}
	return "in " + time.Until(time.Unix(*epoch, 0)).Round(time.Second).String()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
