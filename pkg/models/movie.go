package models

import (
	"fmt"
	"strings"
)

// Movie is the display record served by the catalog.
type Movie struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview,omitempty"`
	Genres      []string `json:"genres"`
	Runtime     *int     `json:"runtime,omitempty"`
	ReleaseYear *int     `json:"release_year,omitempty"`
	Popularity  float64  `json:"popularity"`
	PosterPath  *string  `json:"poster_path,omitempty"`
}

// DisplayText renders the text used to build a semantic query for the movie.
func (m *Movie) DisplayText() string {
	runtime := "unknown"
	if m.Runtime != nil {
		runtime = fmt.Sprintf("%d", *m.Runtime)
	}

	return fmt.Sprintf("%s. %s. Genres: %s. Runtime: %s",
		m.Title, m.Overview, strings.Join(m.Genres, ", "), runtime)
}
