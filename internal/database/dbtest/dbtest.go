// Package dbtest starts a throwaway PostgreSQL container for integration tests.
package dbtest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

var testDB *gorm.DB

// Main starts one container for the package, migrates it and runs the tests.
// Use it from TestMain: os.Exit(dbtest.Main(m)).
func Main(m *testing.M) int {
	flag.Parse()

	if testing.Short() {
		return m.Run()
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		return 1
	}

	testDB, err = database.Open(dsn, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		return 1
	}

	if err := database.Migrate(testDB); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		return 1
	}

	return m.Run()
}

// DB returns the shared test database and truncates every table when the test ends.
func DB(t *testing.T) *gorm.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	require.NotNil(t, testDB, "dbtest.Main was not called from TestMain")

	t.Cleanup(func() {
		err := testDB.Exec("TRUNCATE users, posts, comments, votes, notifications RESTART IDENTITY CASCADE").Error
		if err != nil {
			t.Logf("Failed to truncate tables: %v", err)
		}
	})

	return testDB
}

// CreateUser inserts a user with the given username, created at joined.
func CreateUser(t *testing.T, db *gorm.DB, username string, joined time.Time) *models.User {
	t.Helper()

	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Password:  "x",
		CreatedAt: joined,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreatePost inserts a post authored by authorID.
func CreatePost(t *testing.T, db *gorm.DB, authorID int, title string) *models.Post {
	t.Helper()

	post := &models.Post{Title: title, AuthorID: authorID}
	require.NoError(t, db.Create(post).Error)
	return post
}
