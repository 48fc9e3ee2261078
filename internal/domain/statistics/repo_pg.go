package statistics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patholab/lis/internal/domain/cases"
	"github.com/patholab/lis/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) Repository {
	return &statsRepoPG{pool: pool}
}

func (r *statsRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

func pathologistMatch(p string) exp.Expression {
	return goqu.Or(
		goqu.L("assigned_pathologist->>'id' = ?", p),
		goqu.L("assigned_pathologist->>'name' = ?", p),
	)
}

func buildUrgent(cutoff time.Time, pathologistID string, limit int) (string, []interface{}, error) {
	conds := []exp.Expression{
		goqu.I("state").In(string(cases.StateInProcess), string(cases.StateToSign)),
		goqu.I("created_at").Lt(cutoff),
	}
	if pathologistID != "" {
		conds = append(conds, goqu.L("assigned_pathologist->>'id' = ?", pathologistID))
	}
	return dialect.From("cases").Prepared(true).
		Select(
			goqu.I("case_code"),
			goqu.L("patient_info->>'patient_code'"),
			goqu.L("patient_info->>'name'"),
			goqu.L("patient_info->'entity_info'->>'name'"),
			goqu.I("samples"),
			goqu.L("assigned_pathologist->>'name'"),
			goqu.I("created_at"),
			goqu.I("state"),
			goqu.I("priority"),
		).
		Where(conds...).
		Order(goqu.I("created_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
}

func (r *statsRepoPG) OpenCasesCreatedBefore(ctx context.Context, cutoff time.Time, pathologistID string, limit int) ([]UrgentRow, error) {
	query, args, err := buildUrgent(cutoff, pathologistID, limit)
	if err != nil {
		return nil, fmt.Errorf("build urgent query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UrgentRow
	for rows.Next() {
		var row UrgentRow
		var entity, pathologist *string
		var samples []byte
		if err := rows.Scan(&row.CaseCode, &row.PatientCode, &row.PatientName, &entity, &samples,
			&pathologist, &row.CreatedAt, &row.State, &row.Priority); err != nil {
			return nil, err
		}
		if entity != nil {
			row.EntityName = *entity
		}
		if pathologist != nil {
			row.PathologistName = *pathologist
		}
		if err := json.Unmarshal(samples, &row.Samples); err != nil {
			return nil, fmt.Errorf("decode samples of %s: %w", row.CaseCode, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func buildSigned(from, to time.Time, f CaseFilter) (string, []interface{}, error) {
	conds := []exp.Expression{
		goqu.I("signed_at").Gte(from),
		goqu.I("signed_at").Lt(to),
	}
	if f.Entity != "" {
		conds = append(conds, goqu.L("patient_info->'entity_info'->>'name' = ?", f.Entity))
	}
	if f.Pathologist != "" {
		conds = append(conds, pathologistMatch(f.Pathologist))
	}
	return dialect.From("cases").Prepared(true).
		Select(
			goqu.I("case_code"),
			goqu.I("created_at"),
			goqu.I("signed_at"),
			goqu.L("assigned_pathologist->>'id'"),
			goqu.L("assigned_pathologist->>'name'"),
			goqu.I("samples"),
		).
		Where(conds...).
		ToSQL()
}

func (r *statsRepoPG) SignedBetween(ctx context.Context, from, to time.Time, f CaseFilter) ([]TurnaroundRow, error) {
	query, args, err := buildSigned(from, to, f)
	if err != nil {
		return nil, fmt.Errorf("build opportunity query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnaroundRow
	for rows.Next() {
		var row TurnaroundRow
		var pid, pname *string
		var raw []byte
		if err := rows.Scan(&row.CaseCode, &row.CreatedAt, &row.SignedAt, &pid, &pname, &raw); err != nil {
			return nil, err
		}
		if pid != nil {
			row.PathologistID = *pid
		}
		if pname != nil {
			row.PathologistName = *pname
		}
		var samples []cases.Sample
		if err := json.Unmarshal(raw, &samples); err != nil {
			return nil, fmt.Errorf("decode samples of %s: %w", row.CaseCode, err)
		}
		for _, s := range samples {
			row.Tests = append(row.Tests, s.Tests...)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func buildCreated(from, to time.Time, pathologist string) (string, []interface{}, error) {
	conds := []exp.Expression{
		goqu.I("created_at").Gte(from),
		goqu.I("created_at").Lt(to),
	}
	if pathologist != "" {
		conds = append(conds, pathologistMatch(pathologist))
	}
	return dialect.From("cases").Prepared(true).
		Select(goqu.I("created_at"), goqu.L("patient_info->>'patient_code'")).
		Where(conds...).
		ToSQL()
}

func (r *statsRepoPG) CreatedBetween(ctx context.Context, from, to time.Time, pathologist string) ([]VolumeRow, error) {
	query, args, err := buildCreated(from, to, pathologist)
	if err != nil {
		return nil, fmt.Errorf("build volume query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VolumeRow
	for rows.Next() {
		var row VolumeRow
		if err := rows.Scan(&row.CreatedAt, &row.PatientCode); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
