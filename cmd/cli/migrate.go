package cli

import (
	"context"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/database"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/spf13/cobra"
)

var (
	seed    bool
	botName string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  `Create or update every table. With --seed, also create a starter bot with the default triggers.`,
	RunE:  migrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&seed, "seed", false, "create a starter bot with default triggers")
	migrateCmd.Flags().StringVar(&botName, "bot-name", "Assistant", "name of the seeded bot")
	rootCmd.AddCommand(migrateCmd)
}

func migrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db, logger); err != nil {
		return err
	}
	if !seed {
		return nil
	}

	var existing int64
	if err := db.Model(&models.Bot{}).Where("name = ?", botName).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		logger.Infof("bot %q already exists, skipping seed", botName)
		return nil
	}

	ctx := context.Background()
	bots := services.NewBotService(db, logger, nil, nil, nil, cfg.Messaging)
	bot, err := bots.CreateBot(ctx, &services.CreateBotRequest{Name: botName})
	if err != nil {
		return err
	}
	triggers, err := bots.SeedDefaultTriggers(ctx, bot.ID)
	if err != nil {
		return err
	}
	logger.Infof("seeded bot %q (id=%d) with %d triggers", bot.Name, bot.ID, len(triggers))
	return nil
}
