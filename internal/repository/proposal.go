package repository

import (
	"context"
	"errors"
	"fmt"

	"fipe/lookup/internal/domain"
	"fipe/lookup/internal/proposal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var ErrProposalNotFound = errors.New("proposal not found")

type ProposalRepository interface {
	GetVehicle(ctx context.Context, id int64) (*proposal.Vehicle, error)
	SaveReference(ctx context.Context, id int64, vehicle *proposal.Vehicle) error
}

// DB is the part of *pgxpool.Pool the repository uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type proposalRepository struct {
	db DB
}

func NewProposalRepository(db DB) ProposalRepository {
	return &proposalRepository{
		db: db,
	}
}

func (r *proposalRepository) GetVehicle(ctx context.Context, id int64) (*proposal.Vehicle, error) {
	query := `
	SELECT vehicle_type, brand_code, brand_name, model_code, model_name, year_code,
		model_year, manufacture_year, value, reference_value
	FROM proposals
	WHERE id = $1`

	// Names, year code and reference stay NULL until the first lookup.
	var (
		v                                        proposal.Vehicle
		vehicleType                              string
		brandName, modelName, yearCode, refValue pgtype.Text
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&vehicleType, &v.BrandCode, &brandName, &v.ModelCode, &modelName, &yearCode,
		&v.ModelYear, &v.ManufactureYear, &v.Value, &refValue,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal %d: %w", id, err)
	}

	category, err := domain.ParseVehicleCategory(vehicleType)
	if err != nil {
		return nil, fmt.Errorf("proposal %d: %w", id, err)
	}
	v.VehicleType = category
	v.BrandName = brandName.String
	v.ModelName = modelName.String
	v.YearCode = yearCode.String
	v.ReferenceValue = refValue.String

	return &v, nil
}

func (r *proposalRepository) SaveReference(ctx context.Context, id int64, vehicle *proposal.Vehicle) error {
	query := `
	UPDATE proposals
	SET brand_name = $2, model_name = $3, reference_value = $4
	WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, vehicle.BrandName, vehicle.ModelName, vehicle.ReferenceValue)
	if err != nil {
		return fmt.Errorf("failed to save reference for proposal %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}

	return nil
}
