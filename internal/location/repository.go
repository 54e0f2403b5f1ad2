package location

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
)

// Repository defines the interface for location persistence operations.
type Repository interface {
	CreateGreenhouse(ctx context.Context, gh *Greenhouse) error
	GetGreenhouse(ctx context.Context, id string) (*Greenhouse, error)
	ListGreenhouses(ctx context.Context) ([]Greenhouse, error)

	CreateZone(ctx context.Context, zone *Zone) error
	GetZone(ctx context.Context, id string) (*Zone, error)
	ListZones(ctx context.Context, greenhouseID string) ([]Zone, error)

	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	ListNodesByOwner(ctx context.Context, owner Owner) ([]Node, error)

	CreatePlant(ctx context.Context, plant *Plant) error
	GetPlant(ctx context.Context, id string) (*Plant, error)
	ListPlants(ctx context.Context) ([]Plant, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed location repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ─── Greenhouses ────────────────────────────────────────────────────

// CreateGreenhouse inserts a greenhouse, generating its ID when empty.
func (r *SQLiteRepository) CreateGreenhouse(ctx context.Context, gh *Greenhouse) error {
	if err := ValidateName(gh.Name); err != nil {
		return err
	}
	if gh.ID == "" {
		gh.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	gh.CreatedAt, gh.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO greenhouses (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		gh.ID, gh.Name, database.NullableString(gh.Description),
		database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		return fmt.Errorf("inserting greenhouse %s: %w", gh.ID, err)
	}
	return nil
}

// GetGreenhouse returns a greenhouse by ID.
func (r *SQLiteRepository) GetGreenhouse(ctx context.Context, id string) (*Greenhouse, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM greenhouses WHERE id = ?`, id)
	gh, err := scanGreenhouse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGreenhouseNotFound.WithID(id)
	}
	return gh, err
}

// ListGreenhouses returns all greenhouses ordered by name.
func (r *SQLiteRepository) ListGreenhouses(ctx context.Context) ([]Greenhouse, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM greenhouses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying greenhouses: %w", err)
	}
	defer rows.Close()

	result := []Greenhouse{}
	for rows.Next() {
		gh, err := scanGreenhouse(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *gh)
	}
	return result, rows.Err()
}

func scanGreenhouse(row rowScanner) (*Greenhouse, error) {
	var gh Greenhouse
	var desc sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&gh.ID, &gh.Name, &desc, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning greenhouse: %w", err)
	}
	gh.Description = desc.String
	gh.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	gh.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &gh, nil
}

// ─── Zones ──────────────────────────────────────────────────────────

const zoneColumns = `id, greenhouse_id, name, code, area_m2, created_at, updated_at`

// CreateZone inserts a zone. The greenhouse must exist.
func (r *SQLiteRepository) CreateZone(ctx context.Context, zone *Zone) error {
	if err := ValidateName(zone.Name); err != nil {
		return err
	}
	if _, err := r.GetGreenhouse(ctx, zone.GreenhouseID); err != nil {
		return err
	}
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	zone.CreatedAt, zone.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO zones (`+zoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		zone.ID, zone.GreenhouseID, zone.Name, database.NullableString(zone.Code), zone.AreaM2,
		database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrInvalidName.WithID(zone.ID).Withf("zone name %q already used in greenhouse", zone.Name)
		}
		return fmt.Errorf("inserting zone %s: %w", zone.ID, err)
	}
	return nil
}

// GetZone returns a zone by ID.
func (r *SQLiteRepository) GetZone(ctx context.Context, id string) (*Zone, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = ?`, id)
	zone, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrZoneNotFound.WithID(id)
	}
	return zone, err
}

// ListZones returns zones, optionally filtered to one greenhouse.
func (r *SQLiteRepository) ListZones(ctx context.Context, greenhouseID string) ([]Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones`
	var args []any
	if greenhouseID != "" {
		query += ` WHERE greenhouse_id = ?`
		args = append(args, greenhouseID)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	result := []Zone{}
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *z)
	}
	return result, rows.Err()
}

func scanZone(row rowScanner) (*Zone, error) {
	var z Zone
	var code sql.NullString
	var area sql.NullFloat64
	var createdAt, updatedAt string
	if err := row.Scan(&z.ID, &z.GreenhouseID, &z.Name, &code, &area, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning zone: %w", err)
	}
	z.Code = code.String
	if area.Valid {
		z.AreaM2 = &area.Float64
	}
	z.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	z.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &z, nil
}

// ─── Nodes ──────────────────────────────────────────────────────────

const nodeColumns = `id, uid, name, node_type, owner_kind, owner_id, channels, created_at, updated_at`

// CreateNode inserts a node after checking its owner exists.
func (r *SQLiteRepository) CreateNode(ctx context.Context, node *Node) error {
	if err := ValidateNode(node); err != nil {
		return err
	}
	if err := r.ownerExists(ctx, node.Owner); err != nil {
		return err
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Channels == nil {
		node.Channels = []string{}
	}
	channels, err := json.Marshal(node.Channels)
	if err != nil {
		return fmt.Errorf("marshalling node channels: %w", err)
	}
	now := time.Now().UTC()
	node.CreatedAt, node.UpdatedAt = now, now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.UID, node.Name, node.NodeType, string(node.Owner.Kind), node.Owner.ID,
		string(channels), database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrNodeExists.WithID(node.UID)
		}
		return fmt.Errorf("inserting node %s: %w", node.ID, err)
	}
	return nil
}

// ownerExists resolves the owner variant against its table.
func (r *SQLiteRepository) ownerExists(ctx context.Context, owner Owner) error {
	switch owner.Kind {
	case OwnerZone:
		_, err := r.GetZone(ctx, owner.ID)
		return err
	case OwnerGreenhouse:
		_, err := r.GetGreenhouse(ctx, owner.ID)
		return err
	default:
		return ErrInvalidOwner.Withf("unknown owner kind %q", owner.Kind)
	}
}

// GetNode returns a node by ID.
func (r *SQLiteRepository) GetNode(ctx context.Context, id string) (*Node, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound.WithID(id)
	}
	return node, err
}

// ListNodesByOwner returns nodes owned directly by owner.
func (r *SQLiteRepository) ListNodesByOwner(ctx context.Context, owner Owner) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_kind = ? AND owner_id = ? ORDER BY name`,
		string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	result := []Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var ownerKind, channels, createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.UID, &n.Name, &n.NodeType, &ownerKind, &n.Owner.ID,
		&channels, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	n.Owner.Kind = OwnerKind(ownerKind)
	if err := json.Unmarshal([]byte(channels), &n.Channels); err != nil || n.Channels == nil {
		n.Channels = []string{}
	}
	n.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	n.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &n, nil
}

// ─── Plants ─────────────────────────────────────────────────────────

// CreatePlant inserts a plant.
func (r *SQLiteRepository) CreatePlant(ctx context.Context, plant *Plant) error {
	if err := ValidateName(plant.Name); err != nil {
		return err
	}
	if plant.ID == "" {
		plant.ID = uuid.NewString()
	}
	plant.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plants (id, name, variety, created_at) VALUES (?, ?, ?, ?)`,
		plant.ID, plant.Name, database.NullableString(plant.Variety), database.FormatTime(plant.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting plant %s: %w", plant.ID, err)
	}
	return nil
}

// GetPlant returns a plant by ID.
func (r *SQLiteRepository) GetPlant(ctx context.Context, id string) (*Plant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, variety, created_at FROM plants WHERE id = ?`, id)
	p, err := scanPlant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlantNotFound.WithID(id)
	}
	return p, err
}

// ListPlants returns all plants ordered by name.
func (r *SQLiteRepository) ListPlants(ctx context.Context) ([]Plant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, variety, created_at FROM plants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying plants: %w", err)
	}
	defer rows.Close()

	result := []Plant{}
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func scanPlant(row rowScanner) (*Plant, error) {
	var p Plant
	var variety sql.NullString
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &variety, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning plant: %w", err)
	}
	p.Variety = variety.String
	p.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	return &p, nil
}
