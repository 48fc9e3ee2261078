package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patholab/lis/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type ticketRepoPG struct{ pool *pgxpool.Pool }

func NewTicketRepoPG(pool *pgxpool.Pool) Repository {
	return &ticketRepoPG{pool: pool}
}

func (r *ticketRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

var ticketCols = []interface{}{
	"id", "ticket_code", "title", "category", "description", "priority", "status",
	"created_by", "assigned_to", "resolved_at", "closed_at", "created_at", "updated_at",
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.TicketCode, &t.Title, &t.Category, &t.Description, &t.Priority, &t.Status,
		&t.CreatedBy, &t.AssignedTo, &t.ResolvedAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ticketRepoPG) Create(ctx context.Context, t *Ticket) error {
	query, args, err := dialect.Insert("tickets").Prepared(true).Rows(goqu.Record{
		"id":          t.ID,
		"ticket_code": t.TicketCode,
		"title":       t.Title,
		"category":    t.Category,
		"description": t.Description,
		"priority":    string(t.Priority),
		"status":      string(t.Status),
		"created_by":  t.CreatedBy,
		"assigned_to": t.AssignedTo,
		"created_at":  t.CreatedAt,
		"updated_at":  t.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build ticket insert: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, query, args...)
	return err
}

func (r *ticketRepoPG) GetByCode(ctx context.Context, code string) (*Ticket, error) {
	query, args, err := dialect.From("tickets").Prepared(true).
		Select(ticketCols...).
		Where(goqu.I("ticket_code").Eq(code)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build ticket lookup: %w", err)
	}
	return scanTicket(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *ticketRepoPG) Save(ctx context.Context, t *Ticket, expectUpdatedAt time.Time) error {
	query, args, err := dialect.Update("tickets").Prepared(true).
		Set(goqu.Record{
			"title":       t.Title,
			"category":    t.Category,
			"description": t.Description,
			"priority":    string(t.Priority),
			"status":      string(t.Status),
			"assigned_to": t.AssignedTo,
			"resolved_at": t.ResolvedAt,
			"closed_at":   t.ClosedAt,
			"updated_at":  t.UpdatedAt,
		}).
		Where(goqu.I("ticket_code").Eq(t.TicketCode), goqu.I("updated_at").Eq(expectUpdatedAt)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build ticket update: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *ticketRepoPG) Delete(ctx context.Context, code string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM tickets WHERE ticket_code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func searchConditions(f SearchFilter) []exp.Expression {
	var conds []exp.Expression
	if f.Status != "" {
		conds = append(conds, goqu.I("status").Eq(string(f.Status)))
	}
	if f.Category != "" {
		conds = append(conds, goqu.I("category").Eq(f.Category))
	}
	if f.CreatedBy != "" {
		conds = append(conds, goqu.I("created_by").Eq(f.CreatedBy))
	}
	if f.AssignedTo != "" {
		conds = append(conds, goqu.I("assigned_to").Eq(f.AssignedTo))
	}
	return conds
}

func (r *ticketRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Ticket, int, error) {
	base := dialect.From("tickets").Prepared(true).Where(searchConditions(f)...)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build ticket count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := base.Select(ticketCols...).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build ticket search: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
