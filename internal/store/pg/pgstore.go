package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"marketgate.org/internal/identity"
)

// Store keeps Accounts and ban records in Postgres. The schema lives in internal/migrate.
type Store struct {
	db *sql.DB
}

var (
	_ identity.AccountStore = (*Store)(nil)
	_ identity.BanStore     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const accountColumns = `id, bound_origin, claimed_identifier, display_name, subject, approved, created_at, approved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (identity.Account, error) {
	var (
		acct       identity.Account
		approvedAt sql.NullTime
	)
	err := row.Scan(&acct.ID, &acct.BoundOrigin, &acct.ClaimedIdentifier, &acct.DisplayName,
		&acct.Subject, &acct.Approved, &acct.CreatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	if approvedAt.Valid {
		acct.ApprovedAt = approvedAt.Time
	}
	return acct, nil
}

// CreateIfAbsent relies on the unique index over bound_origin: the losing insert of a
// race does nothing and the winner's row is read back.
func (s *Store) CreateIfAbsent(ctx context.Context, acct identity.Account) (identity.Account, bool, error) {
	created, err := scanAccount(s.db.QueryRowContext(ctx, `
		insert into accounts(id, bound_origin, claimed_identifier, display_name, subject, approved, created_at)
		values ($1,$2,$3,$4,$5,false,$6)
		on conflict (bound_origin) do nothing
		returning `+accountColumns,
		acct.ID, acct.BoundOrigin, acct.ClaimedIdentifier, acct.DisplayName, acct.Subject, acct.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return identity.Account{}, false, err
	}
	existing, err := s.FindByOrigin(ctx, acct.BoundOrigin)
	return existing, false, err
}

func (s *Store) Get(ctx context.Context, id string) (identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *Store) FindByOrigin(ctx context.Context, origin string) (identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where bound_origin=$1`, origin))
}

// Approve only touches rows that are still pending, so approved_at records the first approval.
func (s *Store) Approve(ctx context.Context, id string, at time.Time) (identity.Account, bool, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set approved=true, approved_at=$2
		where id=$1 and not approved
		returning `+accountColumns, id, at))
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return identity.Account{}, false, err
	}
	acct, err = s.Get(ctx, id)
	return acct, false, err
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]identity.Account, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+accountColumns+`
		from accounts
		where not approved
		order by created_at asc, id asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []identity.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, acct)
	}
	return res, rows.Err()
}

func (s *Store) Find(ctx context.Context, identifier string) (identity.BanRecord, error) {
	var ban identity.BanRecord
	err := s.db.QueryRowContext(ctx, `
		select identifier, reason, created_by, created_at from bans where identifier=$1
	`, identifier).Scan(&ban.Identifier, &ban.Reason, &ban.CreatedBy, &ban.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.BanRecord{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.BanRecord{}, err
	}
	return ban, nil
}

func (s *Store) Put(ctx context.Context, ban identity.BanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into bans(identifier, reason, created_by, created_at)
		values ($1,$2,$3,$4)
		on conflict (identifier) do update
		set reason = excluded.reason, created_by = excluded.created_by, created_at = excluded.created_at
	`, ban.Identifier, ban.Reason, ban.CreatedBy, ban.CreatedAt)
	return err
}

func (s *Store) Delete(ctx context.Context, identifier string) error {
	res, err := s.db.ExecContext(ctx, `delete from bans where identifier=$1`, identifier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]identity.BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select identifier, reason, created_by, created_at from bans order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []identity.BanRecord
	for rows.Next() {
		var ban identity.BanRecord
		if err := rows.Scan(&ban.Identifier, &ban.Reason, &ban.CreatedBy, &ban.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ban)
	}
	return res, rows.Err()
}
