package cases

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

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) Repository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

const caseCols = `id, case_code, patient_info, requesting_physician, service, samples,
	state, priority, assigned_pathologist, result, signed_at, delivered_at,
	delivered_to, business_days, additional_notes, created_at, updated_at`

var caseColList = []interface{}{
	"id", "case_code", "patient_info", "requesting_physician", "service", "samples",
	"state", "priority", "assigned_pathologist", "result", "signed_at", "delivered_at",
	"delivered_to", "business_days", "additional_notes", "created_at", "updated_at",
}

// caseDocs are the JSONB-encoded parts of a case.
type caseDocs struct {
	patient, samples, pathologist, result, notes []byte
}

func encodeDocs(c *Case) (caseDocs, error) {
	var d caseDocs
	var err error
	if d.patient, err = json.Marshal(c.PatientInfo); err != nil {
		return d, fmt.Errorf("encode patient_info: %w", err)
	}
	samples := c.Samples
	if samples == nil {
		samples = []Sample{}
	}
	if d.samples, err = json.Marshal(samples); err != nil {
		return d, fmt.Errorf("encode samples: %w", err)
	}
	if c.AssignedPathologist != nil {
		if d.pathologist, err = json.Marshal(c.AssignedPathologist); err != nil {
			return d, fmt.Errorf("encode assigned_pathologist: %w", err)
		}
	}
	if c.Result != nil {
		if d.result, err = json.Marshal(c.Result); err != nil {
			return d, fmt.Errorf("encode result: %w", err)
		}
	}
	notes := c.AdditionalNotes
	if notes == nil {
		notes = []Note{}
	}
	if d.notes, err = json.Marshal(notes); err != nil {
		return d, fmt.Errorf("encode additional_notes: %w", err)
	}
	return d, nil
}

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var d caseDocs
	err := row.Scan(&c.ID, &c.CaseCode, &d.patient, &c.RequestingPhysician, &c.Service, &d.samples,
		&c.State, &c.Priority, &d.pathologist, &d.result, &c.SignedAt, &c.DeliveredAt,
		&c.DeliveredTo, &c.BusinessDays, &d.notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(d.patient, &c.PatientInfo); err != nil {
		return nil, fmt.Errorf("decode patient_info of %s: %w", c.CaseCode, err)
	}
	if err := json.Unmarshal(d.samples, &c.Samples); err != nil {
		return nil, fmt.Errorf("decode samples of %s: %w", c.CaseCode, err)
	}
	if len(d.pathologist) > 0 {
		c.AssignedPathologist = &Pathologist{}
		if err := json.Unmarshal(d.pathologist, c.AssignedPathologist); err != nil {
			return nil, fmt.Errorf("decode assigned_pathologist of %s: %w", c.CaseCode, err)
		}
	}
	if len(d.result) > 0 {
		c.Result = &Result{}
		if err := json.Unmarshal(d.result, c.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", c.CaseCode, err)
		}
	}
	if err := json.Unmarshal(d.notes, &c.AdditionalNotes); err != nil {
		return nil, fmt.Errorf("decode additional_notes of %s: %w", c.CaseCode, err)
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	d, err := encodeDocs(c)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (id, case_code, patient_info, requesting_physician, service, samples,
			state, priority, assigned_pathologist, result, signed_at, delivered_at,
			delivered_to, business_days, additional_notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.CaseCode, d.patient, c.RequestingPhysician, c.Service, d.samples,
		c.State, c.Priority, d.pathologist, d.result, c.SignedAt, c.DeliveredAt,
		c.DeliveredTo, c.BusinessDays, d.notes, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *caseRepoPG) GetByCode(ctx context.Context, code string) (*Case, error) {
	return r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE case_code = $1`, code))
}

func (r *caseRepoPG) Save(ctx context.Context, c *Case, expect Expect) error {
	d, err := encodeDocs(c)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cases SET patient_info=$4, requesting_physician=$5, service=$6, samples=$7,
			state=$8, priority=$9, assigned_pathologist=$10, result=$11, signed_at=$12,
			delivered_at=$13, delivered_to=$14, business_days=$15, additional_notes=$16,
			updated_at=$17
		WHERE case_code = $1 AND state = $2 AND updated_at = $3`,
		c.CaseCode, expect.State, expect.UpdatedAt,
		d.patient, c.RequestingPhysician, c.Service, d.samples,
		c.State, c.Priority, d.pathologist, d.result, c.SignedAt,
		c.DeliveredAt, c.DeliveredTo, c.BusinessDays, d.notes,
		c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *caseRepoPG) Delete(ctx context.Context, code string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM cases WHERE case_code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *caseRepoPG) GetResult(ctx context.Context, code string) (*ResultView, error) {
	var v ResultView
	var pathologist, result []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT case_code, state, assigned_pathologist, result, signed_at FROM cases WHERE case_code = $1`, code).
		Scan(&v.CaseCode, &v.State, &pathologist, &result, &v.SignedAt)
	if err != nil {
		return nil, err
	}
	if len(pathologist) > 0 {
		v.AssignedPathologist = &Pathologist{}
		if err := json.Unmarshal(pathologist, v.AssignedPathologist); err != nil {
			return nil, fmt.Errorf("decode assigned_pathologist of %s: %w", code, err)
		}
	}
	if len(result) > 0 {
		v.Result = &Result{}
		if err := json.Unmarshal(result, v.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", code, err)
		}
	}
	return &v, nil
}

func (r *caseRepoPG) GetState(ctx context.Context, code string) (*StateView, error) {
	var v StateView
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT case_code, state, updated_at FROM cases WHERE case_code = $1`, code).
		Scan(&v.CaseCode, &v.State, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *caseRepoPG) ReplacePatientCode(ctx context.Context, from, to string, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cases
		SET patient_info = jsonb_set(patient_info, '{patient_code}', to_jsonb($2::text)), updated_at = $3
		WHERE patient_info->>'patient_code' = $1`, from, to, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// searchConditions maps a filter to WHERE expressions over indexed fields.
func searchConditions(f SearchFilter) ([]exp.Expression, error) {
	var conds []exp.Expression
	if f.CaseCode != "" {
		conds = append(conds, goqu.I("case_code").Eq(f.CaseCode))
	}
	if f.PatientCode != "" {
		conds = append(conds, goqu.L("patient_info->>'patient_code' = ?", f.PatientCode))
	}
	if f.PatientName != "" {
		conds = append(conds, goqu.L("patient_info->>'name' ILIKE ?", "%"+f.PatientName+"%"))
	}
	if f.State != "" {
		conds = append(conds, goqu.I("state").Eq(string(f.State)))
	}
	if f.Priority != "" {
		conds = append(conds, goqu.I("priority").Eq(string(f.Priority)))
	}
	if f.Entity != "" {
		conds = append(conds, goqu.L("patient_info->'entity_info'->>'name' = ?", f.Entity))
	}
	if f.Pathologist != "" {
		conds = append(conds, goqu.Or(
			goqu.L("assigned_pathologist->>'id' = ?", f.Pathologist),
			goqu.L("assigned_pathologist->>'name' = ?", f.Pathologist),
		))
	}
	if f.TestID != "" {
		probe, err := json.Marshal([]map[string]interface{}{{"tests": []map[string]string{{"id": f.TestID}}}})
		if err != nil {
			return nil, fmt.Errorf("encode test filter: %w", err)
		}
		conds = append(conds, goqu.L("samples @> ?::jsonb", string(probe)))
	}
	if f.CreatedFrom != nil {
		conds = append(conds, goqu.I("created_at").Gte(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		conds = append(conds, goqu.I("created_at").Lt(*f.CreatedTo))
	}
	if f.SignedFrom != nil {
		conds = append(conds, goqu.I("signed_at").Gte(*f.SignedFrom))
	}
	if f.SignedTo != nil {
		conds = append(conds, goqu.I("signed_at").Lt(*f.SignedTo))
	}
	return conds, nil
}

func buildSearch(f SearchFilter, limit, offset int) (countSQL string, countArgs []interface{}, listSQL string, listArgs []interface{}, err error) {
	conds, err := searchConditions(f)
	if err != nil {
		return "", nil, "", nil, err
	}
	base := dialect.From("cases").Prepared(true).Where(conds...)

	countSQL, countArgs, err = base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build case count: %w", err)
	}
	listSQL, listArgs, err = base.Select(caseColList...).
		Order(goqu.I("created_at").Desc(), goqu.I("case_code").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build case search: %w", err)
	}
	return countSQL, countArgs, listSQL, listArgs, nil
}

func (r *caseRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Case, int, error) {
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
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
