package user

import "go.uber.org/fx"

var Module = fx.Module("user.directory",
	fx.Provide(
		NewStore,
		func(s *Store) Directory { return s },
		fx.Annotate(NewAuthorizer, fx.As(new(Authorizer))),
		NewGuard,
	),
)
