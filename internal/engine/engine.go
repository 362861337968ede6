package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/domain"
	"adoptline/internal/logging"
	"adoptline/internal/repo"
)

// MaxTotalWeight is the budget for the summed weights of a plan's eligible
// templates, in percentage points.
const MaxTotalWeight = 100.0

const weightEpsilon = 1e-9

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time

	locks *planLocks
}

func New(h db.Handle, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     h.DB,
		Repo:   repo.New(h),
		Config: cfg,
		Log:    logging.Discard(),
		Now:    time.Now,
		locks:  newPlanLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Discard()
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// lockPlan serializes writers of one plan within this process and returns the
// matching unlock.
func (e Engine) lockPlan(planID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(planID)
}

type planLock struct {
	mu   sync.Mutex
	refs int
}

type planLocks struct {
	mu    sync.Mutex
	locks map[string]*planLock
}

func newPlanLocks() *planLocks {
	return &planLocks{locks: map[string]*planLock{}}
}

func (p *planLocks) lock(id string) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &planLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
