package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/backup"
	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/mail"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/session"
	"github.com/dmitrijs2005/medvault/internal/store"
)

// backupService is the part of backup.Service the client uses.
type backupService interface {
	Backup(ctx context.Context, userID string) (string, error)
	List(ctx context.Context, userID string) ([]string, error)
	Restore(ctx context.Context, userID, key string) (*backup.Snapshot, error)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	id      models.Identity
	deps    session.Deps
	opts    session.Options
	store   store.Store
	backups backupService

	mu   sync.Mutex
	ctrl *session.Controller

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	// logs go to stderr so they do not interleave with prompts
	logger, err := logging.New(logging.Options{
		Backend: c.Logging.Backend,
		Level:   c.Logging.Level,
		Format:  "text",
		Output:  os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		config: c,
		logger: logger,
		id:     models.Identity{UserID: c.Local.UserID, Email: c.Local.Email, Name: c.Local.Name},
		opts:   session.OptionsFromConfig(c.Vault),
		store:  st,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	var mailer mail.Mailer = &terminalMailer{out: a.out}
	if c.Mail.RelayURL != "" {
		mailer = mail.New(c.Mail, logger)
	}
	a.deps = session.Deps{Store: st, Mailer: mailer, Log: logger}

	if c.S3.Bucket != "" {
		client, err := backup.NewS3Client(ctx, c.S3)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		svc, err := backup.NewService(client, st, c.S3.Bucket, c.S3.Prefix, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.backups = svc
	}

	if err := a.openController(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// Run starts the idle watcher and the REPL. It blocks until the user exits
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(a.out, "Welcome to MedVault CLI (type 'help' for commands)")
	go a.StartIdleWatcher(ctx, a.config.Vault.IdleCheck.Duration)

	runREPL(ctx, a, a.getStatus, a.reader)
}

// Close wipes the key and closes the store.
func (a *App) Close() {
	if c := a.controller(); c != nil {
		c.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error(context.Background(), "close store", "error", err)
		}
	}
}

// StartIdleWatcher locks the vault once it has been idle for the session
// timeout. It returns when ctx is done.
func (a *App) StartIdleWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c := a.controller()
			if c != nil && c.LockIfIdle(ctx, a.opts.SessionTimeout) {
				a.say("Vault locked after inactivity")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) openController(ctx context.Context) error {
	c, err := session.NewController(ctx, a.id, a.deps, a.opts)
	if err != nil {
		return err
	}
	a.mu.Lock()
	old := a.ctrl
	a.ctrl = c
	a.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (a *App) controller() *session.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl
}

func (a *App) vaultState() session.State {
	return a.controller().State()
}

func (a *App) getStatus() string {
	s := a.vaultState().String()
	if a.id.Name != "" {
		s = a.id.Name + " " + s
	}
	return fmt.Sprintf("(%s)", s)
}

func (a *App) say(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

// fail reports err to the user and returns it.
func (a *App) fail(err error) error {
	a.say("%s", describe(err))
	return err
}

// terminalMailer shows the verification code on the terminal when no mail
// relay is configured. The client runs for a single local user, so the
// terminal is the user's own inbox.
type terminalMailer struct {
	out io.Writer
}

func (m *terminalMailer) SendPinResetOtp(_ context.Context, email, name, code string) error {
	_, err := fmt.Fprintf(m.out, "[%s] to %s <%s>: %s\n", mail.PinResetSubject, name, email, mail.PinResetBody(code))
	return err
}
