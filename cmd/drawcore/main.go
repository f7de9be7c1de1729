// Command drawcore is the task orchestration core's process entrypoint: it
// wires storage, the account registry, per-account backend instances, the
// event correlator, and the submit HTTP surface, then serves until an
// interrupt asks it to drain in-flight work and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"quel-drawcore/internal/api"
	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/backend/chatbackend"
	"quel-drawcore/internal/backend/officialbackend"
	"quel-drawcore/internal/backend/partnerbackend"
	"quel-drawcore/internal/config"
	"quel-drawcore/internal/correlator"
	"quel-drawcore/internal/domaincache"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/lock"
	"quel-drawcore/internal/logging"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/orchestrator"
	"quel-drawcore/internal/registry"
	"quel-drawcore/internal/store"
	"quel-drawcore/internal/store/pgstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "drawcore:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Options{
		Development: os.Getenv("ENV") == "development",
		FilePath:    cfg.LogFilePath,
		Level:       getenv("LOG_LEVEL", "info"),
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	st := pgstore.New(pool)

	reg := registry.New(log, st)
	if err := reg.Refresh(ctx); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	domains := domaincache.New(st)

	rdb, err := lock.Connect(ctx, lock.Config{
		Addr:     cfg.RedisAddr(),
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		UseTLS:   cfg.RedisUseTLS,
	}, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	locker := lock.New(rdb, log)

	families, err := buildCommanders(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build backend commanders: %w", err)
	}

	instances, err := buildInstances(reg, families, st, log)
	if err != nil {
		return fmt.Errorf("build instances: %w", err)
	}

	var uploader orchestrator.Uploader
	if cfg.StorageBaseURL != "" {
		uploader = orchestrator.NewStorageUploader(cfg.StorageBaseURL, cfg.StorageServiceKey, cfg.StorageBucket)
	}

	orc := orchestrator.New(reg, domains, locker, st, cfg, log, uploader)
	for _, inst := range instances {
		orc.RegisterInstance(inst)
		go inst.Run(ctx)
	}

	lookup := func(channelID string) (correlator.InstanceIndex, bool) {
		inst, ok := instances[channelID]
		return inst, ok
	}
	corr := correlator.New(st, locker, lookup, log)

	if chat, ok := families[model.BackendChat].(*chatbackend.Backend); ok {
		go runChatEventLoop(ctx, chat, corr, log)
	}

	router := api.NewRouter(api.Dependencies{Orchestrator: orc, Tasks: st, Log: log})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	for _, inst := range instances {
		inst.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// buildCommanders constructs at most one backend.Commander per upstream
// provider family: a single chat-gateway connection, a single official-API
// client, and a single partner (Vertex) client, each shared across every
// account that belongs to that family rather than dialed per-account.
func buildCommanders(ctx context.Context, cfg *config.Config, log *zap.Logger) (map[model.BackendFamily]backend.Commander, error) {
	out := make(map[model.BackendFamily]backend.Commander, 3)

	if cfg.ChatGatewayURL != "" {
		chat, err := chatbackend.Dial(ctx, cfg.ChatGatewayURL, cfg.ChatBotToken, log)
		if err != nil {
			return nil, fmt.Errorf("dial chat gateway: %w", err)
		}
		out[model.BackendChat] = chat
	}

	if cfg.GenAIAPIKey != "" {
		keys := strings.Split(cfg.GenAIAPIKey, ",")
		out[model.BackendOfficial] = officialbackend.New(keys, cfg.GenAIModel, log)
	}

	if cfg.VertexProject != "" {
		client, err := partnerbackend.NewClient(ctx, cfg.VertexProject, cfg.VertexLocation)
		if err != nil {
			return nil, fmt.Errorf("build vertex client: %w", err)
		}
		out[model.BackendPartner] = partnerbackend.New(client, cfg.VertexModel, log)
	}

	return out, nil
}

// buildInstances builds one instance.Instance per registered account, bound
// to its family's shared Commander; accounts whose family has no Commander
// are skipped.
func buildInstances(reg *registry.Registry, families map[model.BackendFamily]backend.Commander, st store.Store, log *zap.Logger) (map[string]*instance.Instance, error) {
	out := make(map[string]*instance.Instance)
	for _, acct := range reg.All() {
		cmd, ok := families[acct.BackendFamily]
		if !ok {
			log.Warn("no commander configured for account's backend family, skipping",
				zap.String("channel", acct.ChannelID), zap.String("family", string(acct.BackendFamily)))
			continue
		}
		out[acct.ChannelID] = instance.New(acct, cmd, st, log)
	}
	return out, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runChatEventLoop(ctx context.Context, chat *chatbackend.Backend, corr *correlator.Correlator, log *zap.Logger) {
	backoff := time.Second
	for {
		err := chat.Events(ctx, func(ev correlator.EventData) {
			if hErr := corr.HandleEvent(ctx, ev); hErr != nil {
				log.Warn("handle event", zap.Error(hErr), zap.String("eventId", ev.ID))
			}
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn("chat event stream ended, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
