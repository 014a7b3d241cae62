//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/sandeepkv93/identity-linking-service/internal/app"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

func InitializeApp() (*app.App, error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		RuntimeInfraSet,
		RepositorySet,
		SecuritySet,
		ServiceSet,
		HTTPSet,
		AppSet,
	))
}

func InitializeSweepRunner() (*SweepRunner, error) {
	panic(wire.Build(
		ConfigSet,
		provideCLILogger,
		provideRuntimeDB,
		provideRedisClient,
		provideMinIOStorage,
		repository.NewStore,
		service.NewDevAccountNotifier,
		wire.Bind(new(service.AccountNotifier), new(*service.DevAccountNotifier)),
		provideAvatarStorage,
		provideSweepLock,
		provideDeletionService,
		wire.Bind(new(service.DeletionSweeper), new(*service.DeletionService)),
		NewSweepRunner,
	))
}
