package server

import (
	"os"
	"testing"

	"github.com/emilythestrangee/discuss/backend/internal/database/dbtest"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}
