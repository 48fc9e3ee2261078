package account

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patholab/lis/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

var userCols = []interface{}{
	"id", "email", "name", "role", "is_active", "password_hash",
	goqu.L("COALESCE(pathologist_code, '')"), goqu.L("COALESCE(resident_code, '')"),
	goqu.L("COALESCE(auxiliary_code, '')"), goqu.L("COALESCE(billing_code, '')"),
	"created_at", "updated_at",
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.PasswordHash,
		&u.PathologistCode, &u.ResidentCode, &u.AuxiliaryCode, &u.BillingCode,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	query, args, err := dialect.Insert("users").Prepared(true).Rows(goqu.Record{
		"id":               u.ID,
		"email":            u.Email,
		"name":             u.Name,
		"role":             string(u.Role),
		"is_active":        u.IsActive,
		"password_hash":    u.PasswordHash,
		"pathologist_code": nullable(u.PathologistCode),
		"resident_code":    nullable(u.ResidentCode),
		"auxiliary_code":   nullable(u.AuxiliaryCode),
		"billing_code":     nullable(u.BillingCode),
		"created_at":       u.CreatedAt,
		"updated_at":       u.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build user insert: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, query, args...)
	return err
}

func (r *userRepoPG) getWhere(ctx context.Context, cond exp.Expression) (*User, error) {
	query, args, err := dialect.From("users").Prepared(true).Select(userCols...).Where(cond).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user lookup: %w", err)
	}
	return scanUser(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getWhere(ctx, goqu.I("id").Eq(id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getWhere(ctx, emailMatch(email))
}

func emailMatch(email string) exp.Expression {
	return goqu.L("LOWER(email) = LOWER(?)", email)
}

func listConditions(f ListFilter) []exp.Expression {
	var conds []exp.Expression
	if f.Role != "" {
		conds = append(conds, goqu.I("role").Eq(string(f.Role)))
	}
	if f.IsActive != nil {
		conds = append(conds, goqu.I("is_active").Eq(*f.IsActive))
	}
	return conds
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	base := dialect.From("users").Prepared(true).Where(listConditions(f)...)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build user count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := base.Select(userCols...).
		Order(goqu.I("email").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build user list: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
