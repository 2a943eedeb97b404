package main

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/scene"
)

// stage stands in for the renderer: it holds the live scene content and
// the render settings after each scene's overrides are merged in.
type stage struct {
	log zerolog.Logger

	mu       sync.Mutex
	current  scene.Scene
	settings map[string]interface{}
}

func newStage(log zerolog.Logger) *stage {
	return &stage{
		log:      log.With().Str("component", "stage").Logger(),
		settings: make(map[string]interface{}),
	}
}

func (s *stage) apply(sc scene.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = sc
	for k, v := range sc.ConfigOverrides {
		s.settings[k] = v
	}
	s.log.Info().
		Str("scene_id", sc.ID).
		Int("content_keys", len(sc.Content)).
		Int("overrides", len(sc.ConfigOverrides)).
		Msg("scene applied")
}

// snapshot returns the current scene id and a copy of the merged settings.
func (s *stage) snapshot() (string, map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return s.current.ID, out
}
