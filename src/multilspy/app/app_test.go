package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"

	"github.com/jaredhancock31/multilspy/src/multilspy/facade"
)

func TestModuleGraph(t *testing.T) {
	err := fx.ValidateApp(
		Module,
		fx.Invoke(func(f facade.Facade) {}),
	)
	assert.NoError(t, err)
}
