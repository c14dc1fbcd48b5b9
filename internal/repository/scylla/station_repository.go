package scylla

import (
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/util"
)

// StationRepository resolves kiosk station slugs.
type StationRepository interface {
	GetBySlug(slug string) (*models.Station, error)
}

type stationRepository struct {
	client *ScyllaClient
}

func NewStationRepository(client *ScyllaClient, logger *zap.Logger) StationRepository {
	return &stationRepository{client: client}
}

func (r *stationRepository) GetBySlug(slug string) (*models.Station, error) {
	station := &models.Station{}

	query := r.client.Query(r.client.Prepared.GetStationBySlug, slug)

	err := r.client.ScanWithRetry(query,
		&station.ID, &station.Slug, &station.Name, &station.County,
		&station.Active, &station.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, err
		}
		util.Error("Failed to get station",
			zap.String("slug", slug),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get station: %w", err)
	}

	return station, nil
}
