package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/backup"
	"github.com/dukerupert/stride/internal/billing"
	"github.com/dukerupert/stride/internal/config"
	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/handler"
	"github.com/dukerupert/stride/internal/middleware"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/pgstore"
	"github.com/dukerupert/stride/internal/push"
	"github.com/dukerupert/stride/internal/store"
	"github.com/dukerupert/stride/internal/tracker"
	ws "github.com/dukerupert/stride/internal/websocket"
)

const sessionCleanupInterval = time.Hour

// OpenPersistence picks where item collections live: PostgreSQL when
// cfg.CollectionsDSN is set, otherwise the SQLite database. The returned
// close func releases the Postgres pool and is a no-op for SQLite.
func OpenPersistence(ctx context.Context, db *sql.DB, cfg *config.Config) (tracker.Persistence, func() error, error) {
	if cfg.CollectionsDSN == "" {
		return store.NewDocumentStore(db), func() error { return nil }, nil
	}
	pg, err := pgstore.Open(ctx, cfg.CollectionsDSN)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.NewDocumentStore(pg), pg.Close, nil
}

type Server struct {
	db        *sql.DB
	closeDocs func() error
	hub       *ws.Hub
	tracker   *tracker.Store

	habitH    *handler.ItemHandler
	taskH     *handler.ItemHandler
	allItemsH *handler.ItemHandler
	authH     *handler.AuthHandler
	pushH     *handler.PushHandler
	archiveH  *handler.ArchiveHandler
	calendarH *handler.CalendarHandler
	checkoutH *billing.CheckoutHandler
	webhookH  *billing.WebhookHandler

	userStore      *store.UserStore
	sessionStore   *store.SessionStore
	tokens         *auth.TokenIssuer
	rateLimiter    *middleware.RateLimiter
	pushService    *push.Service
	dispatcher     *push.Dispatcher
	pushScheduler  *push.Scheduler
	archiveManager *backup.Manager

	allowedOrigins []string
	logger         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	pushStore := store.NewPushStore(db)
	archiveStore := store.NewArchiveStore(db)

	var tokens *auth.TokenIssuer
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokenIssuer([]byte(cfg.JWTSecret))
	} else {
		logger.Warn("STRIDE_JWT_SECRET not set, bearer tokens disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	docs, closeDocs, err := OpenPersistence(ctx, db, cfg)
	if err != nil {
		return nil, fmt.Errorf("open collections: %w", err)
	}

	pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
	dispatcher := push.NewDispatcher(pushSvc, pushStore, userStore, logger)

	tr := tracker.New(docs,
		tracker.WithLocation(loc),
		tracker.WithNotifier(tracker.Notifiers{hub, dispatcher}),
		tracker.WithLogger(logger),
	)

	var pushSched *push.Scheduler
	if pushSvc.Enabled() {
		pushSched = push.NewScheduler(dispatcher, pushStore, tr, logger)
	}

	archiveMgr := backup.NewManager(cfg.Backup, archiveStore, tr, logger)

	s := &Server{
		db:             db,
		closeDocs:      closeDocs,
		hub:            hub,
		tracker:        tr,
		habitH:         handler.NewItemHandler(model.KindHabit, tr, hub, logger),
		taskH:          handler.NewItemHandler(model.KindTask, tr, hub, logger),
		allItemsH:      handler.NewItemHandler("", tr, hub, logger),
		authH:          handler.NewAuthHandler(userStore, sessionStore, tokens, strings.HasPrefix(cfg.BaseURL, "https://"), logger),
		pushH:          handler.NewPushHandler(pushStore, pushSvc, dispatcher, logger),
		archiveH:       handler.NewArchiveHandler(archiveMgr, hub, logger),
		calendarH:      handler.NewCalendarHandler(tr, logger),
		userStore:      userStore,
		sessionStore:   sessionStore,
		tokens:         tokens,
		rateLimiter:    middleware.NewRateLimiter(),
		pushService:    pushSvc,
		dispatcher:     dispatcher,
		pushScheduler:  pushSched,
		archiveManager: archiveMgr,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
	}

	if cfg.Billing.Enabled() {
		gw := billing.NewClient(cfg.Billing)
		s.checkoutH = billing.NewCheckoutHandler(gw, cfg.Billing, userStore, logger)
		s.webhookH = billing.NewWebhookHandler(gw, cfg.Billing, userStore, s.planChanged, logger)
	}

	return s, nil
}

// planChanged tells the user's open clients to refresh their entitlements.
func (s *Server) planChanged(userID int64, plan model.Plan) {
	ent := entitlement.Resolve(plan)
	s.hub.Send(userID, ws.NewMessage("account", "plan_changed", "", map[string]any{
		"plan":     plan,
		"features": ent.Features,
		"quotas":   ent.Quotas,
	}))
}

// Close releases the collection store. Call it after Stop.
func (s *Server) Close() error {
	return s.closeDocs()
}

// Tracker returns the item store.
func (s *Server) Tracker() *tracker.Store {
	return s.tracker
}

// Start launches the background workers: push delivery, reminders, archive
// retention, and session/rate-limit cleanup.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.dispatcher.Start(ctx)
	if s.pushScheduler != nil {
		s.pushScheduler.Start(ctx)
	}
	s.archiveManager.Start(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.rateLimiter.RunCleanup(ctx, 5*time.Minute)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanupSessions(ctx)
	}()
}

// Stop halts the background workers and waits for them to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	if s.pushScheduler != nil {
		s.pushScheduler.Stop()
	}
	s.archiveManager.Stop()
	s.dispatcher.Stop()
	s.wg.Wait()
}

func (s *Server) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessionStore.DeleteExpired()
			if err != nil {
				s.logger.Error("cleanup sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	if s.webhookH != nil {
		outerMux.HandleFunc("POST /billing/webhook", s.webhookH.HandleStripeWebhook)
	}

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore, s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

// gated wraps h so only plans with f reach it.
func gated(f entitlement.Feature, h http.HandlerFunc) http.Handler {
	return middleware.RequireFeature(f)(h)
}

func (s *Server) registerItemRoutes(mux *http.ServeMux, path string, kind model.Kind, h *handler.ItemHandler) {
	f := entitlement.KindFeature(kind)
	base := "/api/" + path
	route := func(method, suffix string, fn http.HandlerFunc) {
		mux.Handle(fmt.Sprintf("%s %s%s", method, base, suffix), gated(f, fn))
	}

	route("GET", "", h.List)
	route("POST", "", h.Create)
	route("GET", "/metrics", h.Metrics)
	route("POST", "/clear", h.Clear)
	route("POST", "/restart", h.Restart)
	route("GET", "/{id}", h.Get)
	route("PATCH", "/{id}", h.Update)
	route("DELETE", "/{id}", h.Delete)
	route("POST", "/{id}/toggle", h.Toggle)
	route("POST", "/{id}/archive", h.Archive)
	route("POST", "/{id}/restore", h.Restore)
	route("POST", "/{id}/duplicate", h.Duplicate)
	route("POST", "/{id}/notes", h.AddNote)
	route("DELETE", "/{id}/notes/{note_id}", h.DeleteNote)
	if kind == model.KindTask {
		route("POST", "/{id}/time", h.LogTime)
	}

	mux.Handle("GET "+base+"/export", gated(entitlement.FeatureDataExport, h.Export))
	mux.Handle("POST "+base+"/import", gated(entitlement.FeatureDataExport, h.Import))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Account
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.HandleFunc("PATCH /api/me", s.authH.UpdateMe)
	mux.HandleFunc("POST /api/me/password", s.authH.ChangePassword)
	mux.HandleFunc("GET /api/entitlements", s.authH.Entitlements)

	// Items
	s.registerItemRoutes(mux, "habits", model.KindHabit, s.habitH)
	s.registerItemRoutes(mux, "tasks", model.KindTask, s.taskH)
	mux.Handle("GET /api/export", gated(entitlement.FeatureDataExport, s.allItemsH.Export))
	mux.Handle("POST /api/import", gated(entitlement.FeatureDataExport, s.allItemsH.Import))

	// Push notifications
	mux.Handle("POST /api/push/subscribe", gated(entitlement.FeaturePushNotifications, s.pushH.Subscribe))
	mux.Handle("DELETE /api/push/subscriptions/{id}", gated(entitlement.FeaturePushNotifications, s.pushH.Unsubscribe))
	mux.Handle("GET /api/push/subscriptions", gated(entitlement.FeaturePushNotifications, s.pushH.ListSubscriptions))
	mux.Handle("GET /api/push/vapid-key", gated(entitlement.FeaturePushNotifications, s.pushH.GetVAPIDKey))
	mux.Handle("GET /api/push/preferences", gated(entitlement.FeaturePushNotifications, s.pushH.GetPreferences))
	mux.Handle("PUT /api/push/preferences", gated(entitlement.FeaturePushNotifications, s.pushH.UpdatePreferences))
	mux.Handle("POST /api/push/test", gated(entitlement.FeaturePushNotifications, s.pushH.TestNotification))

	// Cloud archives
	mux.Handle("GET /api/archives", gated(entitlement.FeatureCloudBackup, s.archiveH.List))
	mux.Handle("POST /api/archives", gated(entitlement.FeatureCloudBackup, s.archiveH.Create))
	mux.Handle("GET /api/archives/status", gated(entitlement.FeatureCloudBackup, s.archiveH.Status))
	mux.Handle("POST /api/archives/{id}/restore", gated(entitlement.FeatureCloudBackup, s.archiveH.Restore))
	mux.Handle("GET /api/archives/{id}/download", gated(entitlement.FeatureCloudBackup, s.archiveH.Download))

	// Calendar sync
	mux.Handle("GET /api/calendar.ics", gated(entitlement.FeatureCalendarSync, s.calendarH.Feed))

	// Billing
	if s.checkoutH != nil {
		mux.HandleFunc("POST /api/billing/checkout", s.checkoutH.CreateCheckoutSession)
		mux.HandleFunc("POST /api/billing/portal", s.checkoutH.BillingPortal)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.allowedOrigins, s.logger.With("component", "websocket")))
}
