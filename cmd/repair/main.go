package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/comments"
	"github.com/emilythestrangee/discuss/backend/internal/config"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/logging"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
	"github.com/emilythestrangee/discuss/backend/internal/votes"
)

var ErrInvalidTrees = errors.New("some comment trees are invalid")

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

type deps struct {
	db        *gorm.DB
	projector *votes.Projector
	tree      *comments.Tree
	logger    *zap.Logger
}

func setup() (*deps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.New(cfg.DSN(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	gormDB := db.GetDB()
	tx := database.NewTransactor(gormDB, cfg.LockTimeout, m, logger)

	cleanup := func() {
		_ = db.Close()
		_ = logger.Sync()
	}

	return &deps{
		db:        gormDB,
		projector: votes.NewProjector(tx, m, logger),
		tree:      comments.NewTree(tx, nil, m, logger),
		logger:    logger,
	}, cleanup, nil
}

func run() error {
	d, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	app := &cli.Command{
		Name:  "repair",
		Usage: "Repair derived discussion data",
		Commands: []*cli.Command{
			{
				Name:  "recount",
				Usage: "Recompute vote counters from the vote ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Target kind (post or comment)",
						Value: string(models.TargetPost),
					},
					&cli.IntFlag{
						Name:  "id",
						Usage: "Single target to recount (all targets when omitted)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					kind := models.TargetKind(c.String("kind"))
					if !kind.Valid() {
						return apperrors.Validation("unknown target kind %q", kind)
					}

					if c.IsSet("id") {
						counts, err := d.projector.Recount(ctx, kind, int(c.Int("id")))
						if err != nil {
							return err
						}
						d.logger.Info("Recounted target",
							zap.String("kind", string(kind)),
							zap.Int64("id", c.Int("id")),
							zap.Int("upvotes", counts.Upvotes),
							zap.Int("downvotes", counts.Downvotes))
						return nil
					}

					n, err := d.projector.RecountAll(ctx, kind)
					if err != nil {
						return err
					}
					d.logger.Info("Recounted targets", zap.String("kind", string(kind)), zap.Int("count", n))
					return nil
				},
			},
			{
				Name:  "rebuild-tree",
				Usage: "Recompute comment positions of a post from parent links",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "post",
						Usage:    "Post whose comment tree to rebuild",
						Required: true,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					postID := int(c.Int("post"))
					changed, err := d.tree.Rebuild(ctx, postID)
					if err != nil {
						return err
					}
					d.logger.Info("Rebuilt comment tree", zap.Int("post_id", postID), zap.Int("changed", changed))
					return nil
				},
			},
			{
				Name:  "validate-tree",
				Usage: "Check the comment trees of every post",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "post",
						Usage: "Only check this post",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					var postIDs []int
					if c.IsSet("post") {
						postIDs = []int{int(c.Int("post"))}
					} else {
						err := d.db.WithContext(ctx).Model(&models.Comment{}).
							Distinct("post_id").
							Order("post_id").
							Pluck("post_id", &postIDs).Error
						if err != nil {
							return fmt.Errorf("failed to list posts: %w", err)
						}
					}

					invalid := 0
					for _, postID := range postIDs {
						err := d.tree.Validate(ctx, postID)
						if apperrors.IsConsistency(err) {
							invalid++
							d.logger.Warn("Invalid comment tree", zap.Int("post_id", postID), zap.Error(err))
							continue
						}
						if err != nil {
							return err
						}
					}

					d.logger.Info("Validated comment trees",
						zap.Int("checked", len(postIDs)),
						zap.Int("invalid", invalid))
					if invalid > 0 {
						return ErrInvalidTrees
					}
					return nil
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}
