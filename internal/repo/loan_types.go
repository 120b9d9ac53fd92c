package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"loandesk/internal/domain"
)

const loanTypeColumns = `id,workspace_id,name,description,category,stages_json,status,min_amount,max_amount,min_rate,max_rate,created_at,updated_at`

func scanLoanType(scan func(dest ...any) error) (domain.LoanType, error) {
	var lt domain.LoanType
	var desc, category, stagesJSON sql.NullString
	var minAmount, maxAmount, minRate, maxRate sql.NullFloat64
	err := scan(&lt.ID, &lt.WorkspaceID, &lt.Name, &desc, &category, &stagesJSON, &lt.Status,
		&minAmount, &maxAmount, &minRate, &maxRate, &lt.CreatedAt, &lt.UpdatedAt)
	if err == sql.ErrNoRows {
		return lt, ErrNotFound
	}
	if err != nil {
		return lt, err
	}
	lt.Description = desc.String
	lt.Category = category.String
	if stagesJSON.Valid && stagesJSON.String != "" {
		_ = json.Unmarshal([]byte(stagesJSON.String), &lt.Stages)
	}
	if minAmount.Valid {
		lt.MinAmount = &minAmount.Float64
	}
	if maxAmount.Valid {
		lt.MaxAmount = &maxAmount.Float64
	}
	if minRate.Valid {
		lt.MinRate = &minRate.Float64
	}
	if maxRate.Valid {
		lt.MaxRate = &maxRate.Float64
	}
	return lt, nil
}

func (r Repo) InsertLoanTypeTx(ctx context.Context, tx *sql.Tx, lt domain.LoanType) error {
	stages, err := marshalStages(lt.Stages)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO loan_types(`+loanTypeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		lt.ID, lt.WorkspaceID, lt.Name, nullable(lt.Description), nullable(lt.Category), stages, lt.Status,
		nullableFloat(lt.MinAmount), nullableFloat(lt.MaxAmount), nullableFloat(lt.MinRate), nullableFloat(lt.MaxRate),
		lt.CreatedAt, lt.UpdatedAt)
	return err
}

func (r Repo) GetLoanType(ctx context.Context, workspaceID, id string) (domain.LoanType, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+loanTypeColumns+` FROM loan_types WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanLoanType(row.Scan)
}

func (r Repo) ListLoanTypes(ctx context.Context, workspaceID string) ([]domain.LoanType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+loanTypeColumns+` FROM loan_types WHERE workspace_id=? ORDER BY name ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LoanType
	for rows.Next() {
		lt, err := scanLoanType(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, lt)
	}
	return res, rows.Err()
}

// LoanTypeUpdate carries the optional fields of a loan type patch.
type LoanTypeUpdate struct {
	Name        *string
	Description *string
	Category    *string
	Stages      []string
	StagesSet   bool
	Status      *string
	MinAmount   *float64
	MaxAmount   *float64
	MinRate     *float64
	MaxRate     *float64
}

func (r Repo) UpdateLoanTypeTx(ctx context.Context, tx *sql.Tx, workspaceID, id string, u LoanTypeUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Category != nil {
		fields = append(fields, "category=?")
		args = append(args, nullable(*u.Category))
	}
	if u.StagesSet {
		stages, err := marshalStages(u.Stages)
		if err != nil {
			return err
		}
		fields = append(fields, "stages_json=?")
		args = append(args, stages)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.MinAmount != nil {
		fields = append(fields, "min_amount=?")
		args = append(args, *u.MinAmount)
	}
	if u.MaxAmount != nil {
		fields = append(fields, "max_amount=?")
		args = append(args, *u.MaxAmount)
	}
	if u.MinRate != nil {
		fields = append(fields, "min_rate=?")
		args = append(args, *u.MinRate)
	}
	if u.MaxRate != nil {
		fields = append(fields, "max_rate=?")
		args = append(args, *u.MaxRate)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, workspaceID, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE loan_types SET %s WHERE workspace_id=? AND id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalStages(stages []string) (any, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(stages)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
