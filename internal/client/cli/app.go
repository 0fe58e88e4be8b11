package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/projflow/internal/client/client"
	"github.com/dmitrijs2005/projflow/internal/client/config"
	"github.com/dmitrijs2005/projflow/internal/client/health"
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/projflow/internal/client/services"
	"github.com/dmitrijs2005/projflow/internal/client/session"
	"github.com/dmitrijs2005/projflow/internal/client/store"
	"github.com/dmitrijs2005/projflow/internal/logging"
)

// sessionManager is the part of *session.Manager the commands use.
type sessionManager interface {
	Start(ctx context.Context) error
	Close()
	State() session.State
	Subscribe(fn func(session.State)) func()
	Login(ctx context.Context, email, password string) session.Result
	Register(ctx context.Context, name, email, password string) session.Result
	SignInWithGoogle(ctx context.Context, googleIDToken string) session.Result
	ResetPassword(ctx context.Context, email string) session.Result
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) session.Result
	Resync(ctx context.Context) bool
}

// googleFlow obtains a Google ID token through the browser.
type googleFlow interface {
	Configured() bool
	AuthURL() (authURL, state string)
	Exchange(ctx context.Context, code, state, wantState string) (string, error)
}

type App struct {
	session sessionManager
	api     client.Client
	google  googleFlow
	watcher *health.Watcher
	log     logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	closers []func() error
}

// NewApp builds the client stack described by c: the sqlite session store,
// the identity provider (restoring any saved provider session), the backend
// client, the session manager and the reachability watcher. The watcher
// polls the backend's HTTP health route unless a gRPC health address is set.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	a := &App{log: log, reader: bufio.NewReader(os.Stdin), out: os.Stdout}

	db, err := store.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	st, err := store.New(metadata.NewSQLiteRepository(db), []byte(c.StoreSecret))
	if err != nil {
		a.closeAll()
		return nil, err
	}

	provider := identity.NewFirebaseProvider(identity.FirebaseConfig{
		APIKey:          c.IdentityAPIKey,
		IdentityBaseURL: c.IdentityBaseURL,
		SecureTokenURL:  c.SecureTokenURL,
		Timeout:         c.RequestTimeout,
	}, st, identity.WithLogger(log))
	a.closers = append(a.closers, provider.Close)
	if err := provider.Restore(ctx); err != nil {
		log.Warn(ctx, "could not restore provider session", "error", err)
	}

	api := client.NewHTTPClient(c.APIBaseURL, provider,
		client.WithTimeout(c.RequestTimeout),
		client.WithLogger(log))
	a.api = api

	syncer := services.NewUserSync(api,
		services.WithSyncPath(c.SyncPath),
		services.WithSyncLogger(log))

	opts := []session.Option{session.WithLogger(log), session.WithBackgroundTimeout(c.RequestTimeout)}
	if c.DeviceToken != "" {
		opts = append(opts, session.WithPush(services.NewPushRegistrar(api, c.Platform, log), c.DeviceToken))
	}
	mgr := session.NewManager(provider, st, syncer, api, opts...)
	a.session = mgr

	if c.GoogleEnabled() {
		a.google = identity.NewGoogleAuth(identity.GoogleConfig{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			RedirectURL:  c.GoogleRedirectURL,
		})
	}

	var prober health.Prober = health.NewHTTPProber(api, c.HealthPath)
	if c.HealthAddr != "" {
		gp, err := health.NewGRPCProber(c.HealthAddr, "")
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.closers = append(a.closers, gp.Close)
		prober = gp
	}
	a.watcher = health.NewWatcher(prober, func(ctx context.Context) {
		if mgr.Resync(ctx) {
			log.Info(ctx, "backend reachable again, resyncing session")
		}
	}, health.WithInterval(c.OnlineCheckInterval), health.WithLogger(log))

	return a, nil
}

// Run starts the session manager and the REPL and blocks until the user
// exits. All resources are released on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	unsubscribe := a.session.Subscribe(a.printState)
	defer unsubscribe()

	if err := a.session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}

	a.Root(ctx)
	return nil
}

// Close stops the session manager and closes the database and probe
// connections.
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
	}
	a.closeAll()
}

func (a *App) closeAll() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil && a.log != nil {
		a.log.Warn(context.Background(), "close failed", "error", err)
	}
}
