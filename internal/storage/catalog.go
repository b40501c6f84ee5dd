package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/pkg/models"
)

const movieColumns = `id, title, overview, genres, runtime, release_year, popularity, poster_path`

// MovieCatalog reads display records from the movies table.
type MovieCatalog struct {
	db     Querier
	logger *logrus.Logger
}

func NewMovieCatalog(db Querier, logger *logrus.Logger) *MovieCatalog {
	return &MovieCatalog{db: db, logger: logger}
}

func (c *MovieCatalog) Get(ctx context.Context, id int64) (*models.Movie, error) {
	query := `SELECT ` + movieColumns + ` FROM movies WHERE id = $1`

	movies, err := c.queryMovies(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get movie %d: %w", id, err)
	}
	if len(movies) == 0 {
		return nil, nil
	}
	return &movies[0], nil
}

// GetMany resolves ids in one query. Absent ids are missing from the map.
func (c *MovieCatalog) GetMany(ctx context.Context, ids []int64) (map[int64]*models.Movie, error) {
	if len(ids) == 0 {
		return map[int64]*models.Movie{}, nil
	}

	query := `SELECT ` + movieColumns + ` FROM movies WHERE id = ANY($1)`

	movies, err := c.queryMovies(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get %d movies: %w", len(ids), err)
	}

	byID := make(map[int64]*models.Movie, len(movies))
	for i := range movies {
		byID[movies[i].ID] = &movies[i]
	}
	return byID, nil
}

// FindByTitle matches titles case-insensitively, preferring the most popular
// movie when a title is shared.
func (c *MovieCatalog) FindByTitle(ctx context.Context, title string) (*models.Movie, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}

	query := `
		SELECT ` + movieColumns + `
		FROM movies
		WHERE lower(title) = lower($1)
		ORDER BY popularity DESC, id ASC
		LIMIT 1`

	movies, err := c.queryMovies(ctx, query, title)
	if err != nil {
		return nil, fmt.Errorf("failed to find movie by title: %w", err)
	}
	if len(movies) == 0 {
		return nil, nil
	}
	return &movies[0], nil
}

// ByGenres returns movies in any of the genres, most popular first.
func (c *MovieCatalog) ByGenres(ctx context.Context, genres []string, limit int) ([]models.Movie, error) {
	where, args, err := renderFilter(models.In{Field: "genres", Values: models.Strings(genres)}, nil)
	if err != nil {
		return nil, err
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM movies
		WHERE %s
		ORDER BY popularity DESC, id ASC
		LIMIT $%d`, movieColumns, where, len(args))

	movies, err := c.queryMovies(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies by genres: %w", err)
	}
	return movies, nil
}

// MostPopular returns the most popular movies whose ids are not in excluding.
func (c *MovieCatalog) MostPopular(ctx context.Context, limit int, excluding []int64) ([]models.Movie, error) {
	if excluding == nil {
		excluding = []int64{}
	}

	query := `
		SELECT ` + movieColumns + `
		FROM movies
		WHERE NOT (id = ANY($1))
		ORDER BY popularity DESC, id ASC
		LIMIT $2`

	movies, err := c.queryMovies(ctx, query, excluding, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list popular movies: %w", err)
	}
	return movies, nil
}

func (c *MovieCatalog) queryMovies(ctx context.Context, query string, args ...interface{}) ([]models.Movie, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []models.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies = append(movies, m)
	}

	return movies, rows.Err()
}

func scanMovie(rows pgx.Rows) (models.Movie, error) {
	var (
		m        models.Movie
		overview *string
	)
	err := rows.Scan(&m.ID, &m.Title, &overview, &m.Genres, &m.Runtime, &m.ReleaseYear, &m.Popularity, &m.PosterPath)
	if err != nil {
		return m, fmt.Errorf("failed to scan movie: %w", err)
	}
	if overview != nil {
		m.Overview = *overview
	}
	if m.Genres == nil {
		m.Genres = []string{}
	}
	return m, nil
}
