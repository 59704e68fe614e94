package main

import (
	"context"
	"os"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/bot"
	"github.com/mmbots/linkguard/internal/broadcast"
	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/db/sqlite"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/handlers"
	"github.com/mmbots/linkguard/internal/infra"
	"github.com/mmbots/linkguard/internal/moderation"
	"github.com/mmbots/linkguard/internal/observability"
	"github.com/mmbots/linkguard/internal/scheduler"
	"github.com/mmbots/linkguard/internal/telegram"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.LogFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	infra.GoRecoverable(5, "main_loop", func() {
		run(ctx)
	})

	<-infra.MonitorExecutable(ctx)
	log.Errorln("executable file was modified")
	os.Exit(0)
}

func run(ctx context.Context) {
	cfg := config.Get()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Warnln("cant start observability")
	}

	dbClient, err := sqlite.NewSQLiteClient(infra.GetWorkDir(), "bot.db")
	if err != nil {
		log.WithError(err).Fatalln("cant open database")
	}
	defer dbClient.Close()

	queue := event.NewQueue(1024)
	queue.Start(ctx, 4)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.WithError(err).Warnln("queue stopped dirty")
		}
	}()

	sched := scheduler.New()
	defer sched.Stop()

	ops := telegram.NewOperations(botAPI)
	authz := moderation.NewAuthorizer(cfg.Moderation, ops, dbClient, sched, queue)
	keeper := moderation.NewSpamKeeper(cfg.Moderation, dbClient, ops, queue)
	keeper.Start(ctx)
	defer keeper.Stop()
	authz.OnMigrate(keeper.MigrateChat)
	authz.OnForget(keeper.ForgetChat)

	cleaner := handlers.NewCleaner(ops, dbClient, sched, queue)
	dispatcher := broadcast.NewDispatcher(cfg.Broadcast, dbClient, broadcast.NewSender(ops), authz, queue)

	bot.RegisterUpdateHandler("admin", handlers.NewAdmin(cfg, ops, dbClient, authz, dispatcher, queue, cleaner))
	bot.RegisterUpdateHandler("membership", handlers.NewMembership(cfg, ops, dbClient, authz, sched, queue, cleaner))
	bot.RegisterUpdateHandler("moderator", handlers.NewModerator(cfg, ops, authz, keeper, cleaner))

	go infra.GoRecoverable(5, "startup_sync", func() {
		startupCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		if err := cleaner.Restore(startupCtx); err != nil {
			log.WithError(err).Warnln("cant restore delete jobs")
		}
		active, removed := authz.WarmUp(startupCtx)
		log.WithFields(log.Fields{"active": active, "removed": removed}).Infoln("chat directory verified")
	})

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateProcessor := bot.NewUpdateProcessor()

	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	for {
		select {
		case err := <-errorChan:
			log.WithError(err).Fatalln("bot api get updates error")
		case update := <-updateChan:
			if err := updateProcessor.Process(ctx, &update); err != nil {
				log.WithError(err).Errorln("cant process update")
			}
		case <-ctx.Done():
			log.WithError(ctx.Err()).Errorln("no more updates")
			return
		}
	}
}
