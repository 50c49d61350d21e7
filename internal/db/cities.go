package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engagic/engagic/civic"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous is returned when a lookup matches more than one city.
var ErrAmbiguous = errors.New("ambiguous city")

// AddCity upserts a city and its zipcodes. The first zipcode in the list is
// marked primary.
func (s *Store) AddCity(c *civic.City) error {
	if c.Banana == "" {
		c.Banana = civic.GenerateBanana(c.Name, c.State)
	}
	if c.Status == "" {
		c.Status = civic.CityActive
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cities (banana, name, state, vendor, vendor_slug, county, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(banana) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			vendor = excluded.vendor,
			vendor_slug = excluded.vendor_slug,
			county = excluded.county,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, c.Banana, c.Name, strings.ToUpper(c.State), string(c.Vendor), c.VendorSlug, nullStr(c.County), string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to upsert city: %w", err)
	}

	for i, zip := range c.Zipcodes {
		primary := 0
		if i == 0 {
			primary = 1
		}
		_, err = tx.Exec(`
			INSERT INTO city_zipcodes (zipcode, city_banana, is_primary)
			VALUES (?, ?, ?)
			ON CONFLICT(zipcode, city_banana) DO UPDATE SET is_primary = excluded.is_primary
		`, zip, c.Banana, primary)
		if err != nil {
			return fmt.Errorf("failed to upsert zipcode %s: %w", zip, err)
		}
	}

	return tx.Commit()
}

const cityColumns = `banana, name, state, vendor, vendor_slug, county, status, last_synced, created_at, updated_at`

func scanCity(row interface{ Scan(...any) error }) (*civic.City, error) {
	var c civic.City
	var county sql.NullString
	var lastSynced sql.NullTime
	var created, updated time.Time
	err := row.Scan(&c.Banana, &c.Name, &c.State, (*string)(&c.Vendor), &c.VendorSlug,
		&county, (*string)(&c.Status), &lastSynced, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.County = strOf(county)
	c.LastSynced = timePtrOf(lastSynced)
	c.CreatedAt = created
	c.UpdatedAt = updated
	return &c, nil
}

// UpdateCityLastSynced stamps a completed sync.
func (s *Store) UpdateCityLastSynced(banana string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE cities SET last_synced = ? WHERE banana = ?`, at.UTC(), banana)
	if err != nil {
		return fmt.Errorf("failed to update city sync time: %w", err)
	}
	return nil
}

// GetCity looks up a city by banana.
func (s *Store) GetCity(banana string) (*civic.City, error) {
	row := s.db.QueryRow(`SELECT `+cityColumns+` FROM cities WHERE banana = ?`, banana)
	c, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Zipcodes, _ = s.cityZipcodes(c.Banana)
	return c, nil
}

// GetCityByName looks up a city by normalized name and state.
func (s *Store) GetCityByName(name, state string) (*civic.City, error) {
	rows, err := s.db.Query(`SELECT `+cityColumns+` FROM cities WHERE state = ?`, strings.ToUpper(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := civic.NormalizeCityName(name)
	var matches []*civic.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		if civic.NormalizeCityName(c.Name) == want {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		matches[0].Zipcodes, _ = s.cityZipcodes(matches[0].Banana)
		return matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// GetCityBySlug looks up a city by vendor slug.
func (s *Store) GetCityBySlug(slug string) (*civic.City, error) {
	row := s.db.QueryRow(`SELECT `+cityColumns+` FROM cities WHERE vendor_slug = ?`, slug)
	c, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCityByZipcode looks up the city owning a zipcode, preferring the row
// flagged primary.
func (s *Store) GetCityByZipcode(zipcode string) (*civic.City, error) {
	row := s.db.QueryRow(`
		SELECT `+prefixedCityColumns("c")+`
		FROM cities c
		JOIN city_zipcodes z ON z.city_banana = c.banana
		WHERE z.zipcode = ?
		ORDER BY z.is_primary DESC
		LIMIT 1
	`, zipcode)
	c, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Zipcodes, _ = s.cityZipcodes(c.Banana)
	return c, nil
}

func prefixedCityColumns(alias string) string {
	cols := strings.Split(cityColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

// CityFilter narrows GetCities scans.
type CityFilter struct {
	State  string
	Vendor civic.Vendor
	Name   string
	Status civic.CityStatus
	Limit  int
}

// GetCities returns cities matching the filter. Status defaults to active.
func (s *Store) GetCities(f CityFilter) ([]civic.City, error) {
	query := `SELECT ` + cityColumns + ` FROM cities WHERE 1=1`
	var args []any
	if f.Status == "" {
		f.Status = civic.CityActive
	}
	query += ` AND status = ?`
	args = append(args, string(f.Status))
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, strings.ToUpper(f.State))
	}
	if f.Vendor != "" {
		query += ` AND vendor = ?`
		args = append(args, string(f.Vendor))
	}
	if f.Name != "" {
		query += ` AND name LIKE ?`
		args = append(args, "%"+f.Name+"%")
	}
	query += ` ORDER BY state, name`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	defer rows.Close()

	var cities []civic.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, *c)
	}
	return cities, rows.Err()
}

func (s *Store) cityZipcodes(banana string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT zipcode FROM city_zipcodes
		WHERE city_banana = ?
		ORDER BY is_primary DESC, zipcode
	`, banana)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zips []string
	for rows.Next() {
		var z string
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		zips = append(zips, z)
	}
	return zips, rows.Err()
}
