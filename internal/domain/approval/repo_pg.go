package approval

import (
	"context"
	"encoding/json"
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

type approvalRepoPG struct{ pool *pgxpool.Pool }

func NewApprovalRepoPG(pool *pgxpool.Pool) Repository {
	return &approvalRepoPG{pool: pool}
}

func (r *approvalRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

var approvalCols = []interface{}{
	"id", "approval_code", "original_case_code", "approval_state",
	"complementary_tests", "approval_info", "created_at", "updated_at",
}

func encode(req *Request) (tests, info []byte, err error) {
	if tests, err = json.Marshal(req.ComplementaryTests); err != nil {
		return nil, nil, fmt.Errorf("encode complementary_tests: %w", err)
	}
	if info, err = json.Marshal(req.ApprovalInfo); err != nil {
		return nil, nil, fmt.Errorf("encode approval_info: %w", err)
	}
	return tests, info, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var tests, info []byte
	if err := row.Scan(&req.ID, &req.ApprovalCode, &req.OriginalCaseCode, &req.ApprovalState,
		&tests, &info, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tests, &req.ComplementaryTests); err != nil {
		return nil, fmt.Errorf("decode complementary_tests of %s: %w", req.ApprovalCode, err)
	}
	if err := json.Unmarshal(info, &req.ApprovalInfo); err != nil {
		return nil, fmt.Errorf("decode approval_info of %s: %w", req.ApprovalCode, err)
	}
	return &req, nil
}

func (r *approvalRepoPG) Create(ctx context.Context, req *Request) error {
	tests, info, err := encode(req)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO approval_requests (id, approval_code, original_case_code, approval_state,
			complementary_tests, approval_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.ApprovalCode, req.OriginalCaseCode, req.ApprovalState,
		tests, info, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r *approvalRepoPG) GetByCode(ctx context.Context, code string) (*Request, error) {
	query, args, err := dialect.From("approval_requests").Prepared(true).
		Select(approvalCols...).
		Where(goqu.I("approval_code").Eq(code)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build approval lookup: %w", err)
	}
	return scanRequest(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *approvalRepoPG) Save(ctx context.Context, req *Request, expectState State, expectUpdatedAt time.Time) error {
	tests, info, err := encode(req)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE approval_requests
		SET approval_state = $2, complementary_tests = $3, approval_info = $4, updated_at = $5
		WHERE approval_code = $1 AND approval_state = $6 AND updated_at = $7`,
		req.ApprovalCode, req.ApprovalState, tests, info, req.UpdatedAt, expectState, expectUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *approvalRepoPG) Delete(ctx context.Context, code string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM approval_requests WHERE approval_code = $1`, code)
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
	if f.State != "" {
		conds = append(conds, goqu.I("approval_state").Eq(string(f.State)))
	}
	if f.OriginalCaseCode != "" {
		conds = append(conds, goqu.I("original_case_code").Eq(f.OriginalCaseCode))
	}
	// request_date and created_at are written together; created_at carries the index.
	if f.RequestFrom != nil {
		conds = append(conds, goqu.I("created_at").Gte(*f.RequestFrom))
	}
	if f.RequestTo != nil {
		conds = append(conds, goqu.I("created_at").Lt(*f.RequestTo))
	}
	return conds
}

func buildSearch(f SearchFilter, limit, offset int) (countSQL string, countArgs []interface{}, listSQL string, listArgs []interface{}, err error) {
	base := dialect.From("approval_requests").Prepared(true).Where(searchConditions(f)...)
	countSQL, countArgs, err = base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build approval count: %w", err)
	}
	listSQL, listArgs, err = base.Select(approvalCols...).
		Order(goqu.I("created_at").Desc(), goqu.I("approval_code").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build approval search: %w", err)
	}
	return countSQL, countArgs, listSQL, listArgs, nil
}

func (r *approvalRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Request, int, error) {
	countSQL, countArgs, listSQL, listArgs, err := buildSearch(f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}
