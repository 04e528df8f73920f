package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB is the PostgreSQL browse store: a flat, denormalized listing table for
// deployments that only need read-side browsing without the resolution engine.
type DB struct {
	conn *sql.DB
}

// ListingRow is one denormalized listing in the browse store.
type ListingRow struct {
	ID            string     `json:"id"`
	SourceSite    string     `json:"source_site"`
	URL           string     `json:"url"`
	BuildingName  string     `json:"building_name"`
	RoomNumber    string     `json:"room_number,omitempty"`
	FloorNumber   *int       `json:"floor_number,omitempty"`
	Area          *float64   `json:"area,omitempty"`
	Layout        string     `json:"layout,omitempty"`
	Direction     string     `json:"direction,omitempty"`
	Rent          *int       `json:"rent,omitempty"`
	ManagementFee *int       `json:"management_fee,omitempty"`
	SeenAt        time.Time  `json:"seen_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewDB(host, port, user, password, dbname string) (*DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the listings table if it doesn't exist
func (db *DB) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id VARCHAR(32) PRIMARY KEY,
		source_site VARCHAR(50) NOT NULL,
		url TEXT NOT NULL UNIQUE,
		building_name TEXT,
		room_number VARCHAR(20),

		-- Filter fields
		floor_number INTEGER,
		area DECIMAL(10, 2),
		layout VARCHAR(20),
		direction VARCHAR(10),
		rent INTEGER,
		management_fee INTEGER,

		seen_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_listings_rent ON listings(rent);
	CREATE INDEX IF NOT EXISTS idx_listings_layout ON listings(layout);
	CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_site);
	`
	_, err := db.conn.Exec(query)
	return err
}

// SaveListing upserts a listing row keyed by URL.
func (db *DB) SaveListing(row *ListingRow) error {
	if row.SeenAt.IsZero() {
		row.SeenAt = time.Now()
	}
	query := `
	INSERT INTO listings (
		id, source_site, url, building_name, room_number,
		floor_number, area, layout, direction, rent, management_fee,
		seen_at, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (url) DO UPDATE SET
		building_name = EXCLUDED.building_name,
		room_number = EXCLUDED.room_number,
		floor_number = EXCLUDED.floor_number,
		area = EXCLUDED.area,
		layout = EXCLUDED.layout,
		direction = EXCLUDED.direction,
		rent = EXCLUDED.rent,
		management_fee = EXCLUDED.management_fee,
		seen_at = EXCLUDED.seen_at
	`
	_, err := db.conn.Exec(query,
		row.ID, row.SourceSite, row.URL, row.BuildingName, row.RoomNumber,
		row.FloorNumber, row.Area, row.Layout, row.Direction, row.Rent, row.ManagementFee,
		row.SeenAt, time.Now())
	return err
}

// ListFilter narrows the browse query. Zero values mean no constraint.
type ListFilter struct {
	SourceSite string
	Layout     string
	MinRent    int
	MaxRent    int
	Limit      int
	Offset     int
}

// ListListings retrieves listings matching the filter, newest first.
func (db *DB) ListListings(filter ListFilter) ([]ListingRow, error) {
	query := `
		SELECT id, source_site, url, building_name, room_number,
		       floor_number, area, layout, direction, rent, management_fee,
		       seen_at, created_at
		FROM listings
		WHERE 1=1
	`
	args := []interface{}{}
	idx := 1

	if filter.SourceSite != "" {
		query += fmt.Sprintf(" AND source_site = $%d", idx)
		args = append(args, filter.SourceSite)
		idx++
	}
	if filter.Layout != "" {
		query += fmt.Sprintf(" AND layout = $%d", idx)
		args = append(args, filter.Layout)
		idx++
	}
	if filter.MinRent > 0 {
		query += fmt.Sprintf(" AND rent >= $%d", idx)
		args = append(args, filter.MinRent)
		idx++
	}
	if filter.MaxRent > 0 {
		query += fmt.Sprintf(" AND rent <= $%d", idx)
		args = append(args, filter.MaxRent)
		idx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []ListingRow
	for rows.Next() {
		var row ListingRow
		err := rows.Scan(
			&row.ID, &row.SourceSite, &row.URL, &row.BuildingName, &row.RoomNumber,
			&row.FloorNumber, &row.Area, &row.Layout, &row.Direction, &row.Rent, &row.ManagementFee,
			&row.SeenAt, &row.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		listings = append(listings, row)
	}

	return listings, rows.Err()
}

// GetListingByID retrieves a listing by ID
func (db *DB) GetListingByID(id string) (*ListingRow, error) {
	query := `
		SELECT id, source_site, url, building_name, room_number,
		       floor_number, area, layout, direction, rent, management_fee,
		       seen_at, created_at
		FROM listings
		WHERE id = $1
	`
	var row ListingRow
	err := db.conn.QueryRow(query, id).Scan(
		&row.ID, &row.SourceSite, &row.URL, &row.BuildingName, &row.RoomNumber,
		&row.FloorNumber, &row.Area, &row.Layout, &row.Direction, &row.Rent, &row.ManagementFee,
		&row.SeenAt, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CountListings returns the total number of listings in the browse store.
func (db *DB) CountListings() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM listings").Scan(&count)
	return count, err
}
