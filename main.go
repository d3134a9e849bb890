package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkroell/mazine/activitypub"
	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/util"
	"github.com/dkroell/mazine/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(conf.Conf.DbPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Conf.WithAp {
		instanceActor, err := activitypub.EnsureInstanceActor(database, conf)
		if err != nil {
			log.Fatalln(err)
		}

		resolver := activitypub.NewResolver(database, conf)
		resolver.UseSigner(instanceActor)

		outbox := activitypub.NewOutbox(database, conf)
		dispatcher := activitypub.NewDispatcher(database, conf, resolver, outbox)

		activitypub.NewDeliveryWorker(database, conf).Start(ctx)
		activitypub.NewInboxWorker(database, conf, resolver, dispatcher).Start(ctx)
	}

	server := web.NewServer(database, conf)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Shutting down")
	cancel()
}
