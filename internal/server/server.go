package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/a-essam23/setlist-sync/internal/auth"
	"github.com/a-essam23/setlist-sync/internal/recovery"
	"github.com/a-essam23/setlist-sync/internal/router"
	"github.com/a-essam23/setlist-sync/internal/server/middleware"
	"github.com/a-essam23/setlist-sync/pkg/config"
	"github.com/a-essam23/setlist-sync/pkg/state"
	"github.com/a-essam23/setlist-sync/pkg/state/statemanager"
	"github.com/a-essam23/setlist-sync/pkg/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

var errShuttingDown = errors.New("server shutting down")

// App is the hub: it owns the registries, the active-song store and the
// listener, and wires the websocket transport to the event router.
type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	songs        *statemanager.ActiveSongs
	eventRouter  *router.EventRouter
	recovery     *recovery.Controller
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config
	draining     atomic.Bool
	// orders wg.Add in upgrades against the draining flip in Shutdown
	upgradeMu sync.Mutex

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, dir state.Directory, snapshots state.SnapshotStore) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	songs := statemanager.NewActiveSongs()
	authenticator := auth.NewAuthenticator(logger, dir, cfg.Auth.Lenient())
	eventRouter := router.NewEventRouter(logger, stateManager, songs, dir, authenticator, router.Options{})

	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: stateManager,
		songs:        songs,
		eventRouter:  eventRouter,
		recovery:     recovery.NewController(logger, snapshots, songs, cfg.Server.FlushTimeout),
		config:       cfg,
		ctx:          rootCtx,
	}

	connCounter := middleware.UserConnectionCounter(stateManager.GetUserConnectionCount)
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			app.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}
	verifier := auth.NewSessionVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Get("/healthz", app.healthHandler)
	mux.Get("/debug/rooms", app.roomsHandler)
	mux.Method(http.MethodGet, "/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.NewDrainGuard(app.draining.Load),
			middleware.RequestMetadataMiddleware(),
			middleware.NewHandshakeIdentity(app.logger, verifier, cfg.Auth.Lenient()),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				app.logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the routing tree, mainly for httptest servers.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Restore loads the persisted active songs. It must run before the listener
// accepts connections.
func (a *App) Restore(ctx context.Context) {
	a.recovery.Load(ctx)
}

// Run restores state, listens on the configured address and blocks until the
// root context is cancelled and shutdown has finished.
func (a *App) Run() error {
	defer a.recovery.FlushOnPanic()

	a.Restore(a.ctx)
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.http.Addr, err)
	}
	return a.Serve(ln)
}

// Serve accepts connections on ln until the root context is cancelled.
func (a *App) Serve(ln net.Listener) error {
	g, gctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", ln.Addr().String()))
		if err := a.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

type roomsResponse struct {
	Rooms       map[string]int    `json:"rooms"`
	ActiveSongs map[string]string `json:"activeSongs"`
}

func (a *App) roomsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roomsResponse{
		Rooms:       a.stateManager.RoomSizes(),
		ActiveSongs: a.songs.Snapshot(),
	})
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	if !a.beginUpgrade() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer a.wg.Done()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.eventRouter.HandleMessage,
		a.eventRouter.HandleClose,
		connLogger,
	)
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.IP, reqMeta.UserID); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	// Shutdown may have listed the connections before this one registered.
	if a.draining.Load() {
		conn.Close(errShuttingDown)
		return
	}

	// Connect is handled before the read pump starts so connection_status
	// and any handshake auth_success precede replies to client frames.
	a.eventRouter.Handle(r.Context(), conn.ID(), router.Connect{})
	conn.Run()
	<-conn.Done()
}

// beginUpgrade counts an upgrade in wg unless draining has started. Once
// Shutdown has flipped the flag no new wg.Add can race its Wait.
func (a *App) beginUpgrade() bool {
	a.upgradeMu.Lock()
	defer a.upgradeMu.Unlock()
	if a.draining.Load() {
		return false
	}
	a.wg.Add(1)
	return true
}

// Shutdown drains, flushes the active songs, closes the listener and then
// every live connection. The whole sequence is bounded by
// server.shutdownTimeout.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	a.upgradeMu.Lock()
	a.draining.Store(true)
	a.upgradeMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()

	// best effort; an unflushed store is an accepted loss
	a.recovery.Flush(shutdownCtx)

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}

	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.GetAllConnections() {
		go conn.Transport.Close(errShuttingDown)
	}

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		return fmt.Errorf("connections did not close in time: %w", shutdownCtx.Err())
	}

	if err := a.recovery.Close(); err != nil {
		a.logger.Warn("Closing snapshot store failed", slog.Any("error", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
