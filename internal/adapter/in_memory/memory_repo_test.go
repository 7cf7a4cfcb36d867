package in_memory

import (
	"testing"

	"github.com/olyamironova/paper-engine/internal/port/porttest"
)

func TestMemoryRepo(t *testing.T) {
	porttest.RunRepository(t, NewMemoryRepo())
}

func TestCache(t *testing.T) {
	porttest.RunCache(t, NewCache())
}
