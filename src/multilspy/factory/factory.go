// Package factory provides user-defined factories for test fixtures.
package factory

import (
	"github.com/gofrs/uuid"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// EngineConfig is a user-defined factory for a minimal engine configuration.
func EngineConfig(name string) entity.EngineConfig {
	return entity.EngineConfig{
		Name:       name,
		Launch:     entity.LaunchSpec{Command: name},
		LanguageID: "go",
	}
}

// Position is a user-defined factory for a position.
func Position(line, character uint32) entity.Position {
	return entity.Position{Line: line, Character: character}
}

// Range is a user-defined factory for a range.
func Range(startLine, startChar, endLine, endChar uint32) entity.Range {
	return entity.Range{
		Start: Position(startLine, startChar),
		End:   Position(endLine, endChar),
	}
}
